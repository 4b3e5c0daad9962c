package runway

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"act-relay/app/logger"
	"act-relay/app/utils/downloader"

	"golang.org/x/sync/errgroup"
)

// URLResolver 把本地文件变成 Runway 可以拉取的地址
type URLResolver interface {
	Resolve(ctx context.Context, localPath string) (string, error)
}

// Inputs 一次合成的两段本地视频
type Inputs struct {
	CharacterPath string
	ReferencePath string
}

// Result 合成结果，失败原因写在 Error 中
type Result struct {
	Success  bool
	VideoURL string
	Error    string
	TimedOut bool
	TaskID   string
}

func failed(taskID, format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...), TaskID: taskID}
}

// Provider 解析地址 → 创建任务 → 等待 → 下载
type Provider struct {
	client          *Client
	resolver        URLResolver
	downloadTimeout time.Duration
	log             *logger.Logger
}

// NewProvider 创建 Provider
func NewProvider(client *Client, resolver URLResolver, downloadTimeout time.Duration, log *logger.Logger) *Provider {
	return &Provider{
		client:          client,
		resolver:        resolver,
		downloadTimeout: downloadTimeout,
		log:             log,
	}
}

// Process 执行一次完整的合成，任何错误或 panic 都转换为失败结果
func (p *Provider) Process(ctx context.Context, in Inputs) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Errorf("💥 合成过程发生 panic: %v", rec)
			result = failed(result.TaskID, "Processing failed: %v", rec)
		}
	}()

	characterURL, referenceURL, err := p.resolveInputs(ctx, in)
	if err != nil {
		return failed("", "Could not make videos reachable by Runway: %v", err)
	}

	task, err := p.client.CreateCharacterPerformance(ctx, p.client.NewRequest(characterURL, referenceURL))
	if err != nil {
		if errors.Is(err, ErrNoTaskID) {
			return failed("", "No task ID returned from API")
		}
		return failed("", "Runway task creation failed: %v", err)
	}
	p.log.Infof("🎯 Runway 任务已创建: %s", task.ID)

	final, err := p.client.WaitForTask(ctx, task.ID)
	if err != nil {
		if errors.Is(err, ErrWaitTimeout) {
			res := failed(task.ID, "Timed out waiting for Runway task %s: %v", task.ID, err)
			res.TimedOut = true
			return res
		}
		return failed(task.ID, "Task wait failed: %v", err)
	}

	switch final.Status {
	case TaskStatusSucceeded:
		if len(final.Output) == 0 || final.Output[0] == "" {
			reason := final.Failure
			if reason == "" {
				reason = "No output video URL in response"
			}
			return failed(task.ID, "Task completed but no output: %s", reason)
		}
		p.log.Infof("✅ Runway 任务 %s 完成", task.ID)
		return Result{Success: true, VideoURL: final.Output[0], TaskID: task.ID}
	default:
		p.log.Warnf("❌ Runway 任务 %s 结束于 %s: %s %s", task.ID, final.Status, final.FailureCode, final.Failure)
		return failed(task.ID, "Runway task failed: %s", DescribeFailure(final, in))
	}
}

// resolveInputs 并发解析两段视频的地址
func (p *Provider) resolveInputs(ctx context.Context, in Inputs) (string, string, error) {
	var characterURL, referenceURL string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.resolve(gctx, "character", in.CharacterPath, &characterURL)
	})
	g.Go(func() error {
		return p.resolve(gctx, "reference", in.ReferencePath, &referenceURL)
	})
	if err := g.Wait(); err != nil {
		return "", "", err
	}
	return characterURL, referenceURL, nil
}

// resolve 在各自的 goroutine 中执行，panic 需要就地捕获
func (p *Provider) resolve(ctx context.Context, role, localPath string, out *string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s: panic: %v", role, rec)
		}
	}()
	u, err := p.resolver.Resolve(ctx, localPath)
	if err != nil {
		return fmt.Errorf("%s: %w", role, err)
	}
	*out = u
	return nil
}

// Download 下载产物到 dest，任何失败都只返回 false
func (p *Provider) Download(ctx context.Context, videoURL, dest string) bool {
	cfg := downloader.DefaultDownloadConfig()
	if p.downloadTimeout > 0 {
		cfg.Timeout = p.downloadTimeout
	}

	res, err := downloader.DownloadFromURL(ctx, videoURL, dest, cfg)
	if err != nil {
		p.log.Errorf("❌ 下载产物失败: %v", err)
		return false
	}
	p.log.Infof("📥 产物已保存: %s (%d 字节, 耗时 %v)", res.Path, res.Size, res.Duration)
	return true
}

const noFaceTemplate = `No face detected in videos.

Your videos:
• Character: %s
• Reference: %s

One or both videos lack detectable faces. Runway Act Two requires:
• Front-facing faces
• Good lighting
• Minimal motion blur
• Close-up or medium shots

Try testing each video individually by using the same video for both character and reference to isolate which one has the issue.`

// DescribeFailure 将 Runway 的失败码转换成用户可以采取行动的说明
func DescribeFailure(task *Task, in Inputs) string {
	code := task.FailureCode
	switch {
	case code == "NO_FACE_FOUND":
		return fmt.Sprintf(noFaceTemplate, filepath.Base(in.CharacterPath), filepath.Base(in.ReferencePath))
	case strings.HasPrefix(code, "SAFETY"):
		return "The videos were rejected by content moderation. Use different clips and try again."
	case code == "ASSET.INVALID":
		return "Runway could not read one of the videos. Check that both files are valid, playable videos."
	case strings.HasPrefix(code, "INTERNAL"):
		return "Runway hit a temporary internal error. Please try again in a few minutes."
	case task.Failure != "":
		return task.Failure
	case code != "":
		return code
	case task.Status == TaskStatusCancelled:
		return "task was cancelled"
	default:
		return "unknown failure"
	}
}
