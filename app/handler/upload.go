package handler

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"act-relay/app/logger"
	"act-relay/app/model"
	"act-relay/app/service"

	"github.com/gin-gonic/gin"
)

// JobService 上传和查询接口依赖的任务服务
type JobService interface {
	Submit(ctx context.Context, character, reference service.Upload) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
}

// 上传表单字段
const (
	FieldCharacterFile = "character_file"
	FieldReferenceFile = "reference_file"
)

var guidance = gin.H{
	"requirements": []string{
		"Both videos must show clear, visible faces",
		"Front-facing faces work best",
		"Good lighting is essential",
		"Avoid motion blur or fast movements",
		"Close-up or medium shots are preferred",
		"Videos should be at least 1-2 seconds long",
	},
	"tips": []string{
		"Test with simple talking head videos first",
		"Ensure faces are the main subject",
		"Avoid profile shots or partially obscured faces",
	},
}

// JobHandler 上传、预检和任务查询
type JobHandler struct {
	jobs        JobService
	maxFileSize int64
	logger      *logger.Logger
}

// NewJobHandler 创建任务处理器
func NewJobHandler(jobs JobService, maxFileSize int64, log *logger.Logger) *JobHandler {
	return &JobHandler{
		jobs:        jobs,
		maxFileSize: maxFileSize,
		logger:      log,
	}
}

type uploadPair struct {
	character *multipart.FileHeader
	reference *multipart.FileHeader
}

// readPair 读取两个文件字段，失败时已写入响应
func (h *JobHandler) readPair(c *gin.Context) (*uploadPair, bool) {
	// 两个文件加上表单开销
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*h.maxFileSize+1<<20)

	var pair uploadPair
	for _, field := range []string{FieldCharacterFile, FieldReferenceFile} {
		fh, err := c.FormFile(field)
		if err != nil {
			var tooLarge *http.MaxBytesError
			switch {
			case errors.As(err, &tooLarge):
				respondError(c, http.StatusBadRequest, "Upload too large")
			case errors.Is(err, http.ErrMissingFile):
				respondError(c, http.StatusBadRequest, field+" is required")
			default:
				respondError(c, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
			}
			return nil, false
		}
		if field == FieldCharacterFile {
			pair.character = fh
		} else {
			pair.reference = fh
		}
	}
	return &pair, true
}

// issues 按顺序检查类型和大小，每个文件最多一条
func (h *JobHandler) issues(pair *uploadPair) []string {
	var issues []string
	check := func(label string, fh *multipart.FileHeader) {
		if !strings.HasPrefix(fh.Header.Get("Content-Type"), "video/") {
			issues = append(issues, label+" file must be a video")
		} else if fh.Size > h.maxFileSize {
			issues = append(issues, label+" file too large")
		}
	}
	check("Character", pair.character)
	check("Reference", pair.reference)
	return issues
}

// Upload 接收两段视频并创建任务，立即返回任务ID
func (h *JobHandler) Upload(c *gin.Context) {
	pair, ok := h.readPair(c)
	if !ok {
		return
	}
	if issues := h.issues(pair); len(issues) > 0 {
		respondError(c, http.StatusBadRequest, issues[0])
		return
	}

	character, err := pair.character.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "Could not read character file")
		return
	}
	defer character.Close()
	reference, err := pair.reference.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "Could not read reference file")
		return
	}
	defer reference.Close()

	job, err := h.jobs.Submit(c.Request.Context(),
		service.Upload{Filename: pair.character.Filename, Reader: character},
		service.Upload{Filename: pair.reference.Filename, Reader: reference},
	)
	if err != nil {
		h.logger.Errorf("创建任务失败: %v", err)
		if errors.Is(err, service.ErrShuttingDown) {
			respondError(c, http.StatusServiceUnavailable, "Server is shutting down")
			return
		}
		respondError(c, http.StatusInternalServerError, "Failed to create job")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// ValidateVideos 与上传相同的检查，不创建任务，通过时返回拍摄建议
func (h *JobHandler) ValidateVideos(c *gin.Context) {
	pair, ok := h.readPair(c)
	if !ok {
		return
	}
	if issues := h.issues(pair); len(issues) > 0 {
		c.JSON(http.StatusOK, gin.H{"valid": false, "issues": issues})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "guidance": guidance})
}
