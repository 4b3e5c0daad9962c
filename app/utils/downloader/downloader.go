package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DownloadConfig 下载配置
type DownloadConfig struct {
	UserAgent     string        // User-Agent
	Timeout       time.Duration // 整个传输的超时时间
	OverwriteFile bool          // 是否覆盖已存在的文件
	MaxRedirects  int           // 最多跟随的重定向次数
}

// DefaultDownloadConfig 默认下载配置
func DefaultDownloadConfig() *DownloadConfig {
	return &DownloadConfig{
		UserAgent:     "act-relay/1.0",
		Timeout:       120 * time.Second,
		OverwriteFile: true,
		MaxRedirects:  10,
	}
}

// DownloadResult 下载结果
type DownloadResult struct {
	Size     int64         // 下载的文件大小
	Duration time.Duration // 下载耗时
	Path     string        // 保存的文件路径
}

// DownloadFromURL 将 url 的内容流式写入 savePath
//
// 先写入同目录下的 .tmp 文件，校验长度后再重命名，失败时不会留下半截文件。
func DownloadFromURL(ctx context.Context, url, savePath string, config *DownloadConfig) (*DownloadResult, error) {
	if config == nil {
		config = DefaultDownloadConfig()
	}

	if !config.OverwriteFile {
		if _, err := os.Stat(savePath); err == nil {
			return nil, fmt.Errorf("文件已存在: %s", savePath)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("User-Agent", config.UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "identity") // 禁用压缩，避免 Content-Length 不匹配

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= config.MaxRedirects {
				return fmt.Errorf("重定向次数过多")
			}
			req.Header.Set("User-Agent", config.UserAgent)
			return nil
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("HTTP请求失败，状态码: %d, 响应: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := os.MkdirAll(filepath.Dir(savePath), 0755); err != nil {
		return nil, fmt.Errorf("创建保存目录失败: %w", err)
	}

	startTime := time.Now()
	tmpPath := savePath + ".tmp"
	written, err := writeFile(tmpPath, resp.Body)
	if err != nil {
		os.Remove(tmpPath)
		return nil, err
	}

	if resp.ContentLength > 0 && written != resp.ContentLength {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("下载不完整: 期望 %d bytes, 实际 %d bytes", resp.ContentLength, written)
	}

	if err := os.Rename(tmpPath, savePath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("重命名文件失败: %w", err)
	}

	return &DownloadResult{
		Size:     written,
		Duration: time.Since(startTime),
		Path:     savePath,
	}, nil
}

func writeFile(path string, r io.Reader) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("创建文件失败: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, r)
	if err != nil {
		return written, fmt.Errorf("写入文件内容失败: %w", err)
	}
	if err := file.Sync(); err != nil {
		return written, fmt.Errorf("刷新文件到磁盘失败: %w", err)
	}
	if err := file.Close(); err != nil {
		return written, fmt.Errorf("关闭文件失败: %w", err)
	}
	return written, nil
}
