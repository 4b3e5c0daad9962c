package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"act-relay/app/config"
	"act-relay/app/logger"
	"act-relay/app/model"
	"act-relay/app/store"

	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "查看单个任务记录",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobStore, err := openStore()
		if err != nil {
			return err
		}

		job, err := jobStore.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "列出全部任务及状态统计",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jobStore, err := openStore()
		if err != nil {
			return err
		}

		jobs, err := jobStore.List(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tCREATED\tDETAIL")
		for _, job := range jobs {
			detail := job.OutputFile
			if job.Status == model.JobStatusFailed {
				detail = firstLine(job.Error)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", job.ID, job.Status, job.CreatedAt.Local().Format(time.DateTime), detail)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		counts, err := jobStore.StatusCounts(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\nprocessing=%d completed=%d failed=%d\n",
			counts[model.JobStatusProcessing], counts[model.JobStatusCompleted], counts[model.JobStatusFailed])
		return nil
	},
}

func openStore() (*store.JobStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return store.NewJobStore(cfg.Storage.JobsDir, logger.NewNop())
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func init() {
	rootCmd.AddCommand(jobCmd, jobsCmd)
}
