package hosting

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"act-relay/app/config"
	"act-relay/app/utils/pathhelper"

	"resty.dev/v3"
)

// 公共匿名文件托管服务名称，与 hosting.services 配置对应
const (
	ServiceTransferSh = "transfer.sh"
	ServiceZeroXZero  = "0x0.st"
	ServiceFileIO     = "file.io"
)

// NewPublicHosts 按配置顺序构建公共托管列表，共用一个带超时的 HTTP 客户端
func NewPublicHosts(cfg config.HostingConfig, client *resty.Client) ([]Host, error) {
	hosts := make([]Host, 0, len(cfg.Services))
	for _, name := range cfg.Services {
		switch strings.TrimSpace(name) {
		case ServiceTransferSh:
			hosts = append(hosts, &TransferSh{baseURL: cfg.TransferShURL, client: client})
		case ServiceZeroXZero:
			hosts = append(hosts, &ZeroXZero{baseURL: cfg.ZeroXZeroURL, client: client})
		case ServiceFileIO:
			hosts = append(hosts, &FileIO{baseURL: cfg.FileIOURL, client: client})
		default:
			return nil, fmt.Errorf("hosting: unknown service %q", name)
		}
	}
	return hosts, nil
}

// NewHTTPClient 托管上传使用的 resty 客户端
func NewHTTPClient(timeout time.Duration) *resty.Client {
	return resty.New().SetTimeout(timeout)
}

// TransferSh PUT 原始字节，响应体即为下载地址
type TransferSh struct {
	baseURL string
	client  *resty.Client
}

func (h *TransferSh) Name() string { return ServiceTransferSh }

func (h *TransferSh) Host(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	target := strings.TrimRight(h.baseURL, "/") + "/" + url.PathEscape(uniqueName(localPath))
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", pathhelper.VideoMimeType(localPath)).
		SetBody(f).
		Put(target)
	if err != nil {
		return "", fmt.Errorf("上传请求失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("上传失败，状态码: %d", resp.StatusCode())
	}
	return httpsURL(resp.String())
}

// ZeroXZero multipart 上传，响应体即为下载地址
type ZeroXZero struct {
	baseURL string
	client  *resty.Client
}

func (h *ZeroXZero) Name() string { return ServiceZeroXZero }

func (h *ZeroXZero) Host(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	resp, err := h.client.R().
		SetContext(ctx).
		SetMultipartFields(&resty.MultipartField{
			Name:        "file",
			FileName:    uniqueName(localPath),
			ContentType: pathhelper.VideoMimeType(localPath),
			Reader:      f,
		}).
		Post(h.baseURL)
	if err != nil {
		return "", fmt.Errorf("上传请求失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("上传失败，状态码: %d", resp.StatusCode())
	}
	return httpsURL(resp.String())
}

// FileIO multipart 上传，响应为 {"success": true, "link": "..."}
type FileIO struct {
	baseURL string
	client  *resty.Client
}

type fileIOResponse struct {
	Success bool   `json:"success"`
	Link    string `json:"link"`
	Message string `json:"message"`
}

func (h *FileIO) Name() string { return ServiceFileIO }

func (h *FileIO) Host(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var result fileIOResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetMultipartFields(&resty.MultipartField{
			Name:        "file",
			FileName:    filepath.Base(localPath),
			ContentType: pathhelper.VideoMimeType(localPath),
			Reader:      f,
		}).
		SetResult(&result).
		Post(h.baseURL)
	if err != nil {
		return "", fmt.Errorf("上传请求失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("上传失败，状态码: %d", resp.StatusCode())
	}
	if !result.Success || result.Link == "" {
		return "", fmt.Errorf("上传未成功: %s", strings.TrimSpace(resp.String()))
	}
	return result.Link, nil
}

// uniqueName 加上毫秒时间戳，避免同名文件互相覆盖
func uniqueName(localPath string) string {
	return fmt.Sprintf("%d_%s", time.Now().UnixMilli(), filepath.Base(localPath))
}

func httpsURL(body string) (string, error) {
	u := strings.TrimSpace(body)
	if !strings.HasPrefix(u, "https://") {
		if len(u) > 200 {
			u = u[:200]
		}
		return "", fmt.Errorf("返回的地址无效: %q", u)
	}
	return u, nil
}
