// Package hosting 为本地视频文件生成外部服务可以访问的 URL
package hosting

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"act-relay/app/config"
	"act-relay/app/logger"
	"act-relay/app/utils/pathhelper"
)

// Host 一种临时托管方式
type Host interface {
	Name() string
	Host(ctx context.Context, localPath string) (string, error)
}

// HostingUnavailableError 所有远程托管都失败，且文件超出内联上限
type HostingUnavailableError struct {
	Path      string
	Size      int64
	Threshold int64
	Attempts  []error
}

func (e *HostingUnavailableError) Error() string {
	return fmt.Sprintf("video too large for inline fallback (%.1fMB, limit %.1fMB) and all temporary hosting failed: %s",
		float64(e.Size)/1024/1024, float64(e.Threshold)/1024/1024, joinErrors(e.Attempts))
}

func (e *HostingUnavailableError) Unwrap() []error {
	return e.Attempts
}

// Resolver 依次尝试各个托管方式，全部失败时对小文件使用 data URI
type Resolver struct {
	hosts       []Host
	inlineLimit int64
	log         *logger.Logger
}

// NewResolver hosts 的顺序即尝试顺序
func NewResolver(hosts []Host, inlineLimit int64, log *logger.Logger) *Resolver {
	return &Resolver{
		hosts:       hosts,
		inlineLimit: inlineLimit,
		log:         log,
	}
}

// Resolve 返回 localPath 的公网可访问地址
func (r *Resolver) Resolve(ctx context.Context, localPath string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("hosting: stat %s: %w", localPath, err)
	}

	var attempts []error
	for _, host := range r.hosts {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		r.log.Debugf("🌐 尝试通过 %s 托管 %s", host.Name(), localPath)
		url, err := r.try(ctx, host, localPath)
		if err != nil {
			r.log.Warnf("❌ %s 托管失败: %v", host.Name(), err)
			attempts = append(attempts, fmt.Errorf("%s: %w", host.Name(), err))
			continue
		}

		r.log.Infof("✅ 已通过 %s 托管: %s", host.Name(), url)
		return url, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	size := info.Size()
	if size < r.inlineLimit {
		r.log.Infof("📦 远程托管全部失败，%d 字节的小文件改用 data URI", size)
		return DataURI(localPath)
	}

	return "", &HostingUnavailableError{
		Path:      localPath,
		Size:      size,
		Threshold: r.inlineLimit,
		Attempts:  attempts,
	}
}

// try 单个托管方式的 panic 也只算作该步骤失败
func (r *Resolver) try(ctx context.Context, host Host, localPath string) (url string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	url, err = host.Host(ctx, localPath)
	if err == nil && url == "" {
		err = errors.New("empty url")
	}
	return url, err
}

// DataURI 将文件内容编码为 data URI
func DataURI(localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("hosting: read %s: %w", localPath, err)
	}
	return "data:" + pathhelper.VideoMimeType(localPath) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func joinErrors(errs []error) string {
	if len(errs) == 0 {
		return "no hosts configured"
	}
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}

// New 按 隧道 → 公共托管 → data URI 的顺序组装解析器
func New(cfg *config.Config, launch Launcher, log *logger.Logger) (*Resolver, *Tunnel, error) {
	tunnel := NewTunnel(cfg.Tunnel, launch, log.Named("tunnel"))

	public, err := NewPublicHosts(cfg.Hosting, NewHTTPClient(cfg.Hosting.Timeout))
	if err != nil {
		return nil, nil, err
	}

	hosts := append([]Host{tunnel}, public...)
	return NewResolver(hosts, cfg.Hosting.InlineLimit, log.Named("hosting")), tunnel, nil
}
