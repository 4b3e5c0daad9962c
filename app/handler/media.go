package handler

import (
	"net/http"
	"os"

	"act-relay/app/utils/pathhelper"

	"github.com/gin-gonic/gin"
)

// MediaHandler 对外提供上传的视频，隧道托管时外部服务从这里拉取
type MediaHandler struct {
	uploadDir string
}

func NewMediaHandler(uploadDir string) *MediaHandler {
	return &MediaHandler{uploadDir: uploadDir}
}

// Serve GET /serve/:filename
func (h *MediaHandler) Serve(c *gin.Context) {
	path, ok := pathhelper.ResolveInDir(h.uploadDir, c.Param("filename"))
	if !ok {
		respondError(c, http.StatusNotFound, "File not found")
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		respondError(c, http.StatusNotFound, "File not found")
		return
	}

	c.Header("Content-Type", pathhelper.VideoMimeType(path))
	c.File(path)
}

// Root 服务存活提示
func Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Act Two Relay API is running"})
}

// Health 健康检查
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
