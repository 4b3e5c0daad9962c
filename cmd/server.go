package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"act-relay/app/config"
	"act-relay/app/logger"
	"act-relay/app/server"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// 关闭时等待进行中任务的最长时间
var shutdownTimeout time.Duration

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动服务器",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// 创建日志器
		log := logger.New(cfg.Log)
		defer log.Close()
		log.SetLevel(cfg.LogLevel())

		// 配置文件变化时只调整日志级别，其余配置需要重启
		viper.OnConfigChange(func(e fsnotify.Event) {
			next, err := config.Load()
			if err != nil {
				log.Errorf("重新加载配置失败(%s): %v", e.Name, err)
				return
			}
			log.SetLevel(next.LogLevel())
		})
		if viper.ConfigFileUsed() != "" {
			viper.WatchConfig()
		}

		srv, err := server.New(cfg, log)
		if err != nil {
			return err
		}

		// 在协程中启动服务器
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			log.Info("收到关闭信号，正在关闭服务器...")
		case err := <-errCh:
			if err != nil {
				log.Errorf("启动服务器失败: %v", err)
				return err
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("服务器关闭失败: %v", err)
		}
		log.Info("服务器已退出")
		return nil
	},
}

func init() {
	serverCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "关闭时等待进行中任务的最长时间")
	rootCmd.AddCommand(serverCmd)
}
