package model

import (
	"errors"
	"time"
)

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal 是否为终态
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// 上传文件和产物在磁盘上的角色后缀
const (
	RoleCharacter = "character"
	RoleReference = "reference"
	RoleOutput    = "output"
)

// ErrJobFinalized 任务已处于终态，不允许再次变更
var ErrJobFinalized = errors.New("job already finalized")

// Job 一次视频合成请求，按 {id}.json 落盘
type Job struct {
	ID             string     `json:"id"`
	Status         JobStatus  `json:"status"`
	CharacterFile  string     `json:"character_file"`
	ReferenceFile  string     `json:"reference_file"`
	OutputFile     string     `json:"output_file,omitempty"`
	Error          string     `json:"error,omitempty"`
	ProviderTaskID string     `json:"provider_task_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// NewJob 创建处理中的任务
func NewJob(id, characterFile, referenceFile string, now time.Time) *Job {
	return &Job{
		ID:            id,
		Status:        JobStatusProcessing,
		CharacterFile: characterFile,
		ReferenceFile: referenceFile,
		CreatedAt:     now,
	}
}

// Complete 设置为已完成状态
func (j *Job) Complete(outputFile, taskID string, at time.Time) error {
	if j.Status.IsTerminal() {
		return ErrJobFinalized
	}
	j.Status = JobStatusCompleted
	j.OutputFile = outputFile
	j.Error = ""
	j.ProviderTaskID = taskID
	j.CompletedAt = &at
	return nil
}

// Fail 设置为失败状态
func (j *Job) Fail(reason, taskID string, at time.Time) error {
	if j.Status.IsTerminal() {
		return ErrJobFinalized
	}
	if reason == "" {
		reason = "unknown error"
	}
	j.Status = JobStatusFailed
	j.OutputFile = ""
	j.Error = reason
	j.ProviderTaskID = taskID
	j.CompletedAt = &at
	return nil
}

// Clone 返回副本，避免缓存中的记录被调用方修改
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.CompletedAt != nil {
		at := *j.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
