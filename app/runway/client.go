// Package runway Runway Act Two 角色表演接口客户端
package runway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"act-relay/app/config"
	"act-relay/app/logger"

	"resty.dev/v3"
)

// TaskStatus Runway 任务状态
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusThrottled TaskStatus = "THROTTLED"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusSucceeded TaskStatus = "SUCCEEDED"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// IsTerminal 不会再变化的状态
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

var (
	ErrNoTaskID    = errors.New("no task ID returned from API")
	ErrWaitTimeout = errors.New("timed out waiting for task")
)

// APIError 非 2xx 响应
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("runway api error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Media 角色或参考素材
type Media struct {
	Type string `json:"type"`
	URI  string `json:"uri"`
}

// CharacterPerformanceRequest POST /v1/character_performance 请求体
type CharacterPerformanceRequest struct {
	Model               string `json:"model"`
	Character           Media  `json:"character"`
	Reference           Media  `json:"reference"`
	Ratio               string `json:"ratio,omitempty"`
	BodyControl         bool   `json:"bodyControl"`
	ExpressionIntensity int    `json:"expressionIntensity,omitempty"`
}

// Task 任务详情，创建接口只返回 ID
type Task struct {
	ID          string     `json:"id"`
	Status      TaskStatus `json:"status,omitempty"`
	Output      []string   `json:"output,omitempty"`
	Failure     string     `json:"failure,omitempty"`
	FailureCode string     `json:"failureCode,omitempty"`
	Progress    float64    `json:"progress,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Client Runway HTTP 客户端，启动时创建一次后注入使用
type Client struct {
	cfg    config.RunwayConfig
	client *resty.Client
	log    *logger.Logger
}

// NewClient 创建客户端
func NewClient(cfg config.RunwayConfig, log *logger.Logger) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("X-Runway-Version", cfg.APIVersion)

	return &Client{
		cfg:    cfg,
		client: client,
		log:    log,
	}
}

// NewRequest 按配置填充生成参数
func (c *Client) NewRequest(characterURI, referenceURI string) CharacterPerformanceRequest {
	return CharacterPerformanceRequest{
		Model:               c.cfg.Model,
		Character:           Media{Type: "video", URI: characterURI},
		Reference:           Media{Type: "video", URI: referenceURI},
		Ratio:               c.cfg.Ratio,
		BodyControl:         c.cfg.BodyControl,
		ExpressionIntensity: c.cfg.ExpressionIntensity,
	}
}

// CreateCharacterPerformance 创建任务，立即返回任务 ID
func (c *Client) CreateCharacterPerformance(ctx context.Context, req CharacterPerformanceRequest) (*Task, error) {
	var task Task
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&task).
		Post("/v1/character_performance")
	if err != nil {
		return nil, fmt.Errorf("创建任务请求失败: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: errorMessage(resp.String())}
	}
	if task.ID == "" {
		return nil, ErrNoTaskID
	}
	return &task, nil
}

// GetTask 查询任务状态
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&task).
		Get("/v1/tasks/" + url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("查询任务请求失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: errorMessage(resp.String())}
	}
	return &task, nil
}

// WaitForTask 按固定间隔轮询，最多 MaxPollAttempts 次，查询出错也计入次数
func (c *Client) WaitForTask(ctx context.Context, id string) (*Task, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var last *Task
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}

		task, err := c.GetTask(ctx, id)
		if err != nil {
			lastErr = err
			c.log.Warnf("⚠️ 第 %d/%d 次查询任务 %s 失败: %v", attempt, c.cfg.MaxPollAttempts, id, err)
			continue
		}

		last = task
		c.log.Debugf("📋 任务 %s 状态: %s (%d/%d)", id, task.Status, attempt, c.cfg.MaxPollAttempts)
		if task.Status.IsTerminal() {
			return task, nil
		}
	}

	if lastErr != nil {
		return last, fmt.Errorf("%w after %d attempts: %v", ErrWaitTimeout, c.cfg.MaxPollAttempts, lastErr)
	}
	return last, fmt.Errorf("%w after %d attempts", ErrWaitTimeout, c.cfg.MaxPollAttempts)
}

func errorMessage(body string) string {
	var eb errorBody
	if err := json.Unmarshal([]byte(body), &eb); err == nil && eb.Error != "" {
		return eb.Error
	}
	body = strings.TrimSpace(body)
	if len(body) > 300 {
		body = body[:300]
	}
	if body == "" {
		return "empty response"
	}
	return body
}
