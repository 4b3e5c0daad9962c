package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"act-relay/app/logger"
	"act-relay/app/model"
	"act-relay/app/runway"
	"act-relay/app/store"
	"act-relay/app/utils/pathhelper"

	"github.com/google/uuid"
)

// ErrShuttingDown 服务正在关闭，不再接受新任务
var ErrShuttingDown = errors.New("job service is shutting down")

// Processor 视频合成方，由 runway.Provider 实现
type Processor interface {
	Process(ctx context.Context, in runway.Inputs) runway.Result
	Download(ctx context.Context, videoURL, dest string) bool
}

// Upload 客户端上传的一个文件
type Upload struct {
	Filename string
	Reader   io.Reader
}

// JobService 任务编排：保存输入、创建记录、后台合成、写入终态
type JobService struct {
	store     *store.JobStore
	processor Processor
	uploadDir string
	log       *logger.Logger
	now       func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewJobService 创建任务服务，processor 在进程启动时构造一次后注入
func NewJobService(jobStore *store.JobStore, processor Processor, uploadDir string, log *logger.Logger) (*JobService, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("创建上传目录失败: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobService{
		store:     jobStore,
		processor: processor,
		uploadDir: uploadDir,
		log:       log,
		now:       time.Now,
		baseCtx:   ctx,
		cancel:    cancel,
	}, nil
}

// Submit 保存两段视频并创建 processing 记录，合成在后台进行，不等待结果
func (s *JobService) Submit(ctx context.Context, character, reference Upload) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShuttingDown
	}

	id := uuid.NewString()
	characterFile := pathhelper.RoleFileName(id, model.RoleCharacter, pathhelper.SafeExt(character.Filename))
	referenceFile := pathhelper.RoleFileName(id, model.RoleReference, pathhelper.SafeExt(reference.Filename))

	in := runway.Inputs{
		CharacterPath: filepath.Join(s.uploadDir, characterFile),
		ReferencePath: filepath.Join(s.uploadDir, referenceFile),
	}
	if err := saveUpload(in.CharacterPath, character.Reader); err != nil {
		return nil, err
	}
	if err := saveUpload(in.ReferencePath, reference.Reader); err != nil {
		os.Remove(in.CharacterPath)
		return nil, err
	}

	job := model.NewJob(id, characterFile, referenceFile, s.now())
	if err := s.store.Create(ctx, job); err != nil {
		os.Remove(in.CharacterPath)
		os.Remove(in.ReferencePath)
		return nil, err
	}
	s.log.Infof("📝 任务已创建: %s (角色: %s, 参考: %s)", id, character.Filename, reference.Filename)

	s.wg.Add(1)
	go s.run(id, in)

	return job.Clone(), nil
}

// run 单个任务的后台流程，只尝试一次，结束时写入唯一一次终态
func (s *JobService) run(id string, in runway.Inputs) {
	defer s.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Errorf("💥 任务 %s 发生 panic: %v", id, rec)
			s.finish(id, "", fmt.Sprintf("Processing failed: %v", rec), "")
		}
	}()

	start := s.now()
	s.log.Infof("🎬 开始处理任务: %s", id)

	res := s.processor.Process(s.baseCtx, in)
	if !res.Success {
		if res.TimedOut {
			s.log.Warnf("⏰ 任务 %s 等待超时: %s", id, res.Error)
		} else {
			s.log.Warnf("❌ 任务 %s 失败: %s", id, res.Error)
		}
		s.finish(id, "", res.Error, res.TaskID)
		return
	}

	outputFile := pathhelper.RoleFileName(id, model.RoleOutput, pathhelper.DefaultVideoExt)
	if !s.processor.Download(s.baseCtx, res.VideoURL, filepath.Join(s.store.Dir(), outputFile)) {
		s.finish(id, "", "Failed to download processed video", res.TaskID)
		return
	}

	s.finish(id, outputFile, "", res.TaskID)
	s.log.Infof("🎉 任务 %s 完成，耗时 %v", id, s.now().Sub(start).Round(time.Second))
}

// finish 写入终态，outputFile 为空表示失败
func (s *JobService) finish(id, outputFile, reason, taskID string) {
	_, err := s.store.Update(context.Background(), id, func(job *model.Job) error {
		if outputFile != "" {
			return job.Complete(outputFile, taskID, s.now())
		}
		return job.Fail(reason, taskID, s.now())
	})
	if err != nil {
		s.log.Errorf("写入任务 %s 终态失败: %v", id, err)
	}
}

// Get 查询任务
func (s *JobService) Get(ctx context.Context, id string) (*model.Job, error) {
	return s.store.Get(ctx, id)
}

// Shutdown 停止接收新任务并等待进行中的任务；超过 ctx 期限时取消它们
func (s *JobService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.log.Warnf("等待进行中的任务超时，取消剩余任务")
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func saveUpload(path string, r io.Reader) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("保存上传文件失败: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("保存上传文件失败: %w", cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	if _, err = io.Copy(f, r); err != nil {
		return fmt.Errorf("保存上传文件失败: %w", err)
	}
	return nil
}
