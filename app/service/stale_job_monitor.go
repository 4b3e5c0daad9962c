package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"act-relay/app/config"
	"act-relay/app/logger"
	"act-relay/app/model"

	"github.com/robfig/cron/v3"
)

// JobLister 可以列出全部任务的存储
type JobLister interface {
	List(ctx context.Context) ([]*model.Job, error)
}

// StaleJob 长时间停留在 processing 的任务
type StaleJob struct {
	ID  string
	Age time.Duration
}

// Report 一次巡检的结果
type Report struct {
	Counts map[model.JobStatus]int
	Stale  []StaleJob
}

// StaleJobMonitor 定期巡检任务目录
//
// 进程在合成途中退出时任务会一直停留在 processing，这里只记录日志，不改写记录。
type StaleJobMonitor struct {
	jobs       JobLister
	schedule   string
	staleAfter time.Duration
	log        *logger.Logger
	now        func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewStaleJobMonitor 创建巡检器
func NewStaleJobMonitor(jobs JobLister, cfg config.MonitorConfig, log *logger.Logger) *StaleJobMonitor {
	return &StaleJobMonitor{
		jobs:       jobs,
		schedule:   cfg.Schedule,
		staleAfter: cfg.StaleAfter,
		log:        log,
		now:        time.Now,
	}
}

// Start 按 cron 表达式启动定时巡检
func (m *StaleJobMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(m.schedule, m.runOnce); err != nil {
		return fmt.Errorf("无效的巡检计划 %q: %w", m.schedule, err)
	}
	c.Start()
	m.cron = c
	m.log.Infof("任务巡检已启动: %s", m.schedule)
	return nil
}

// Stop 停止巡检，等待正在执行的一次完成
func (m *StaleJobMonitor) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

func (m *StaleJobMonitor) runOnce() {
	if _, err := m.Check(context.Background()); err != nil {
		m.log.Errorf("任务巡检失败: %v", err)
	}
}

// Check 统计各状态任务数量并找出超时未完成的任务
func (m *StaleJobMonitor) Check(ctx context.Context) (*Report, error) {
	jobs, err := m.jobs.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Counts: make(map[model.JobStatus]int)}
	now := m.now()
	for _, job := range jobs {
		report.Counts[job.Status]++
		if job.Status != model.JobStatusProcessing {
			continue
		}
		if age := now.Sub(job.CreatedAt); age > m.staleAfter {
			report.Stale = append(report.Stale, StaleJob{ID: job.ID, Age: age})
		}
	}

	m.log.Infof("📊 任务统计: processing=%d completed=%d failed=%d",
		report.Counts[model.JobStatusProcessing], report.Counts[model.JobStatusCompleted], report.Counts[model.JobStatusFailed])
	for _, stale := range report.Stale {
		m.log.Warnf("⚠️ 任务 %s 已处理 %v 仍未结束，可能因进程重启而中断", stale.ID, stale.Age.Round(time.Minute))
	}
	return report, nil
}
