package handler

import (
	"github.com/gin-gonic/gin"
)

// ApiResponse 错误响应格式
type ApiResponse struct {
	Code    int    `json:"code"`           // 与 HTTP 状态码一致
	Message string `json:"message"`        // 面向用户的说明
	Data    any    `json:"data,omitempty"` // 附加信息
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ApiResponse{
		Code:    status,
		Message: message,
	})
}
