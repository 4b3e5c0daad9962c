// Package store 以 {jobs_dir}/{id}.json 的形式持久化任务记录
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"act-relay/app/logger"
	"act-relay/app/model"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
)

const recordExt = ".json"

// JobStore 基于文件的任务存储
//
// 每个任务只有创建者协程会写入，读取方可能在终态写入落盘前看到 processing。
// 终态记录不可变，因此放入缓存；外部改动由 filewatcher 调用 Invalidate 清除。
type JobStore struct {
	dir   string
	log   *logger.Logger
	mu    sync.Mutex
	cache *cache.Cache
}

// NewJobStore 创建任务存储，目录不存在时自动创建
func NewJobStore(dir string, log *logger.Logger) (*JobStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("store: jobs dir is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("store: ensure jobs dir: %w", err)
	}
	return &JobStore{
		dir:   dir,
		log:   log,
		cache: cache.New(30*time.Minute, 10*time.Minute),
	}, nil
}

// Dir 返回任务目录
func (s *JobStore) Dir() string {
	return s.dir
}

// Create 写入新任务记录
func (s *JobStore) Create(ctx context.Context, job *model.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job == nil || !validID(job.ID) {
		return fmt.Errorf("store: invalid job id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(job.ID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("store: %s: %w", job.ID, ErrJobExists)
	}

	if err := s.write(job); err != nil {
		return err
	}
	s.log.Debugf("任务记录已创建: %s", job.ID)
	return nil
}

// Get 读取任务记录
func (s *JobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, ErrJobNotFound
	}

	if cached, found := s.cache.Get(id); found {
		return cached.(*model.Job).Clone(), nil
	}

	job, err := s.read(id)
	if err != nil {
		return nil, err
	}
	s.remember(job)
	return job, nil
}

// Update 对整条记录做读-改-写，mutate 返回错误时不落盘
func (s *JobStore) Update(ctx context.Context, id string, mutate func(job *model.Job) error) (*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, ErrJobNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if err := mutate(job); err != nil {
		return nil, err
	}
	if job.ID != id {
		return nil, fmt.Errorf("store: job id changed from %s to %s", id, job.ID)
	}
	if err := s.write(job); err != nil {
		return nil, err
	}

	s.cache.Delete(id)
	s.remember(job)
	return job.Clone(), nil
}

// List 返回全部任务，按创建时间倒序
func (s *JobStore) List(ctx context.Context) ([]*model.Job, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}

	jobs := make([]*model.Job, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, ok := IDFromFilename(entry.Name())
		if entry.IsDir() || !ok {
			continue
		}
		job, err := s.Get(ctx, id)
		if err != nil {
			// 读取过程中被外部删除或内容损坏，跳过并记录
			s.log.Warnf("跳过无法读取的任务记录 %s: %v", entry.Name(), err)
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	return jobs, nil
}

// StatusCounts 按状态统计任务数量
func (s *JobStore) StatusCounts(ctx context.Context) (map[model.JobStatus]int, error) {
	jobs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[model.JobStatus]int{
		model.JobStatusProcessing: 0,
		model.JobStatusCompleted:  0,
		model.JobStatusFailed:     0,
	}
	for _, job := range jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// Invalidate 清除某个任务的缓存
func (s *JobStore) Invalidate(id string) {
	s.cache.Delete(id)
}

// IDFromFilename 从记录文件名中解析任务ID
func IDFromFilename(name string) (string, bool) {
	if !strings.HasSuffix(name, recordExt) {
		return "", false
	}
	id := strings.TrimSuffix(name, recordExt)
	return id, validID(id)
}

func (s *JobStore) remember(job *model.Job) {
	if job.Status.IsTerminal() {
		s.cache.Set(job.ID, job.Clone(), cache.DefaultExpiration)
	}
}

func (s *JobStore) path(id string) string {
	return filepath.Join(s.dir, id+recordExt)
}

func (s *JobStore) read(id string) (*model.Job, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("store: read job %s: %w", id, err)
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("store: decode job %s: %w", id, err)
	}
	return &job, nil
}

// write 先写临时文件再重命名，读取方不会看到半截记录
func (s *JobStore) write(job *model.Job) (err error) {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode job %s: %w", job.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+job.ID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("store: write job %s: %w", job.ID, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("store: sync job %s: %w", job.ID, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("store: close job %s: %w", job.ID, err)
	}
	if err = os.Rename(tmp.Name(), s.path(job.ID)); err != nil {
		return fmt.Errorf("store: commit job %s: %w", job.ID, err)
	}
	return nil
}

func validID(id string) bool {
	// 只接受标准 36 位格式，ID 会直接拼进文件路径
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}
