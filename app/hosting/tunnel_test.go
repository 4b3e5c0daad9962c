package hosting

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"act-relay/app/config"
)

type fakeProcess struct {
	stopped atomic.Bool
}

func (p *fakeProcess) Stop() error {
	p.stopped.Store(true)
	return nil
}

// fakeAgent 模拟 ngrok 本地 API，started 之后才返回隧道
func fakeAgent(t *testing.T, started *atomic.Bool, addr string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tunnels" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if !started.Load() {
			io.WriteString(w, `{"tunnels":[]}`)
			return
		}
		io.WriteString(w, `{"tunnels":[
			{"public_url":"http://abc.ngrok.io","proto":"http","config":{"addr":"`+addr+`"}},
			{"public_url":"https://other.ngrok.io","proto":"https","config":{"addr":"http://localhost:9999"}},
			{"public_url":"https://abc.ngrok.io","proto":"https","config":{"addr":"`+addr+`"}}
		]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func tunnelConfig(apiURL string) config.TunnelConfig {
	return config.TunnelConfig{
		Enabled:      true,
		Binary:       "ngrok",
		APIURL:       apiURL,
		LocalAddr:    "http://localhost:8000",
		PollAttempts: 5,
		PollInterval: 10 * time.Millisecond,
	}
}

func TestTunnelReusesRunningAgent(t *testing.T) {
	var started atomic.Bool
	started.Store(true)
	agent := fakeAgent(t, &started, "http://localhost:8000")

	launches := 0
	tun := NewTunnel(tunnelConfig(agent.URL), func(string, ...string) (Process, error) {
		launches++
		return &fakeProcess{}, nil
	}, testLogger(t))

	got, err := tun.Host(context.Background(), "/data/uploads/job_character.mp4")
	if err != nil {
		t.Fatalf("Host: %v", err)
	}
	if got != "https://abc.ngrok.io/serve/job_character.mp4" {
		t.Errorf("url = %q", got)
	}
	if launches != 0 {
		t.Errorf("launches = %d, want 0", launches)
	}
}

func TestTunnelLaunchesAndPolls(t *testing.T) {
	var started atomic.Bool
	agent := fakeAgent(t, &started, "127.0.0.1:8000")

	proc := &fakeProcess{}
	var gotArgs []string
	tun := NewTunnel(tunnelConfig(agent.URL), func(binary string, args ...string) (Process, error) {
		gotArgs = append([]string{binary}, args...)
		started.Store(true)
		return proc, nil
	}, testLogger(t))

	got, err := tun.PublicURL(context.Background())
	if err != nil {
		t.Fatalf("PublicURL: %v", err)
	}
	if got != "https://abc.ngrok.io" {
		t.Errorf("url = %q", got)
	}
	if strings.Join(gotArgs, " ") != "ngrok http 8000" {
		t.Errorf("launch args = %v", gotArgs)
	}

	if err := tun.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !proc.stopped.Load() {
		t.Error("process not stopped on Close")
	}
}

func TestTunnelGivesUpAfterPollAttempts(t *testing.T) {
	var requests atomic.Int32
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"tunnels":[]}`)
	}))
	defer agent.Close()

	cfg := tunnelConfig(agent.URL)
	cfg.PollAttempts = 3
	tun := NewTunnel(cfg, func(string, ...string) (Process, error) {
		return &fakeProcess{}, nil
	}, testLogger(t))

	_, err := tun.PublicURL(context.Background())
	if err == nil || !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("err = %v", err)
	}
	// 启动前一次查询加上 3 次轮询
	if got := requests.Load(); got != 4 {
		t.Errorf("requests = %d, want 4", got)
	}
}

func TestTunnelDisabled(t *testing.T) {
	cfg := tunnelConfig("http://127.0.0.1:1")
	cfg.Enabled = false
	tun := NewTunnel(cfg, nil, testLogger(t))

	if _, err := tun.Host(context.Background(), "a.mp4"); !errors.Is(err, ErrTunnelDisabled) {
		t.Fatalf("err = %v, want ErrTunnelDisabled", err)
	}
}

func TestTunnelLaunchFailure(t *testing.T) {
	cfg := tunnelConfig("http://127.0.0.1:1")
	tun := NewTunnel(cfg, func(string, ...string) (Process, error) {
		return nil, errors.New("executable file not found")
	}, testLogger(t))

	if _, err := tun.PublicURL(context.Background()); err == nil {
		t.Fatal("expected launch error")
	}
}

func TestNormalizeAddr(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8000":  "localhost:8000",
		"http://127.0.0.1:8000/": "localhost:8000",
		"localhost:8000":         "localhost:8000",
	}
	for in, want := range cases {
		if got := normalizeAddr(in); got != want {
			t.Errorf("normalizeAddr(%q) = %q, want %q", in, got, want)
		}
	}
}
