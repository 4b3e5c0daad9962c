package handler

import (
	"errors"
	"net/http"

	"act-relay/app/store"

	"github.com/gin-gonic/gin"
)

// GetJob 返回任务记录，客户端轮询该接口获取结果
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			respondError(c, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Errorf("读取任务失败: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to read job")
		return
	}
	c.JSON(http.StatusOK, job)
}
