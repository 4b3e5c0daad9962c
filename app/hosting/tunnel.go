package hosting

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"act-relay/app/config"
	"act-relay/app/logger"

	"github.com/patrickmn/go-cache"
	"resty.dev/v3"
)

// ServiceTunnel 本地隧道的名称
const ServiceTunnel = "tunnel"

var ErrTunnelDisabled = errors.New("tunnel disabled")

const publicURLKey = "public_url"

// Process 隧道子进程
type Process interface {
	Stop() error
}

// Launcher 启动隧道进程
type Launcher func(binary string, args ...string) (Process, error)

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Stop() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return err
	}
	_ = p.cmd.Wait()
	return nil
}

// ExecLauncher 以子进程方式启动，输出丢弃
func ExecLauncher(binary string, args ...string) (Process, error) {
	cmd := exec.Command(binary, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

type tunnelList struct {
	Tunnels []struct {
		PublicURL string `json:"public_url"`
		Proto     string `json:"proto"`
		Config    struct {
			Addr string `json:"addr"`
		} `json:"config"`
	} `json:"tunnels"`
}

// Tunnel 通过 ngrok 暴露本服务的 /serve 路由
type Tunnel struct {
	cfg    config.TunnelConfig
	client *resty.Client
	launch Launcher
	cache  *cache.Cache
	log    *logger.Logger

	mu   sync.Mutex
	proc Process
}

// NewTunnel launch 为空时使用 ExecLauncher
func NewTunnel(cfg config.TunnelConfig, launch Launcher, log *logger.Logger) *Tunnel {
	if launch == nil {
		launch = ExecLauncher
	}
	return &Tunnel{
		cfg:    cfg,
		client: resty.New().SetTimeout(5 * time.Second),
		launch: launch,
		cache:  cache.New(5*time.Minute, 10*time.Minute),
		log:    log,
	}
}

func (t *Tunnel) Name() string { return ServiceTunnel }

// Host 返回 {public_url}/serve/{filename}
func (t *Tunnel) Host(ctx context.Context, localPath string) (string, error) {
	publicURL, err := t.PublicURL(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(publicURL, "/") + "/serve/" + url.PathEscape(filepath.Base(localPath)), nil
}

// PublicURL 查找已有隧道，没有则启动并轮询，次数和间隔都有上限
func (t *Tunnel) PublicURL(ctx context.Context) (string, error) {
	if !t.cfg.Enabled {
		return "", ErrTunnelDisabled
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if cached, found := t.cache.Get(publicURLKey); found {
		return cached.(string), nil
	}

	if publicURL, err := t.lookup(ctx); err == nil && publicURL != "" {
		t.cache.Set(publicURLKey, publicURL, cache.DefaultExpiration)
		return publicURL, nil
	}

	if t.proc == nil {
		port, err := localPort(t.cfg.LocalAddr)
		if err != nil {
			return "", err
		}
		t.log.Infof("🚀 启动隧道: %s http %s", t.cfg.Binary, port)
		proc, err := t.launch(t.cfg.Binary, "http", port)
		if err != nil {
			return "", fmt.Errorf("启动隧道失败: %w", err)
		}
		t.proc = proc
	}

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for attempt := 1; attempt <= t.cfg.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		publicURL, err := t.lookup(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if publicURL != "" {
			t.cache.Set(publicURLKey, publicURL, cache.DefaultExpiration)
			return publicURL, nil
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("could not establish tunnel after %d attempts: %w", t.cfg.PollAttempts, lastErr)
	}
	return "", fmt.Errorf("could not establish tunnel after %d attempts", t.cfg.PollAttempts)
}

// lookup 查询 ngrok 本地 API，找到指向本服务的隧道
func (t *Tunnel) lookup(ctx context.Context) (string, error) {
	var list tunnelList
	resp, err := t.client.R().
		SetContext(ctx).
		SetResult(&list).
		Get(strings.TrimRight(t.cfg.APIURL, "/") + "/api/tunnels")
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("隧道API状态码: %d", resp.StatusCode())
	}

	want := normalizeAddr(t.cfg.LocalAddr)
	var fallback string
	for _, tunnel := range list.Tunnels {
		if normalizeAddr(tunnel.Config.Addr) != want {
			continue
		}
		if strings.HasPrefix(tunnel.PublicURL, "https://") {
			return tunnel.PublicURL, nil
		}
		fallback = tunnel.PublicURL
	}
	return fallback, nil
}

// Close 停止由本服务启动的隧道进程
func (t *Tunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cache.Flush()
	if t.proc == nil {
		return nil
	}
	err := t.proc.Stop()
	t.proc = nil
	return err
}

func localPort(addr string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil || u.Port() == "" {
		return "", fmt.Errorf("无法从 %q 解析端口", addr)
	}
	return u.Port(), nil
}

func normalizeAddr(addr string) string {
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	addr = strings.TrimRight(addr, "/")
	return strings.Replace(addr, "127.0.0.1", "localhost", 1)
}
