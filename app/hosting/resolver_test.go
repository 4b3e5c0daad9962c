package hosting

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"act-relay/app/logger"

	"go.uber.org/zap/zaptest"
)

type fakeHost struct {
	name  string
	url   string
	err   error
	panic bool
	calls *[]string
}

func (f fakeHost) Name() string { return f.name }

func (f fakeHost) Host(ctx context.Context, localPath string) (string, error) {
	if f.calls != nil {
		*f.calls = append(*f.calls, f.name)
	}
	if f.panic {
		panic("host exploded")
	}
	return f.url, f.err
}

func writeVideo(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func testLogger(t *testing.T) *logger.Logger {
	return logger.NewFromZap(zaptest.NewLogger(t))
}

func TestResolveFirstSuccessWins(t *testing.T) {
	var calls []string
	r := NewResolver([]Host{
		fakeHost{name: "tunnel", err: errors.New("no ngrok"), calls: &calls},
		fakeHost{name: "transfer.sh", url: "https://transfer.sh/x.mp4", calls: &calls},
		fakeHost{name: "0x0.st", url: "https://0x0.st/y.mp4", calls: &calls},
	}, 3<<20, testLogger(t))

	got, err := r.Resolve(context.Background(), writeVideo(t, "a.mp4", 10))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "https://transfer.sh/x.mp4" {
		t.Errorf("url = %q", got)
	}
	if strings.Join(calls, ",") != "tunnel,transfer.sh" {
		t.Errorf("call order = %v", calls)
	}
}

func TestResolveFallsBackToDataURIForSmallFiles(t *testing.T) {
	var calls []string
	failing := []Host{
		fakeHost{name: "tunnel", err: errors.New("down"), calls: &calls},
		fakeHost{name: "transfer.sh", err: errors.New("down"), calls: &calls},
		fakeHost{name: "0x0.st", panic: true, calls: &calls},
		fakeHost{name: "file.io", url: "", calls: &calls},
	}
	r := NewResolver(failing, 3<<20, testLogger(t))

	path := writeVideo(t, "small.webm", 1024)
	got, err := r.Resolve(context.Background(), path)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.HasPrefix(got, "data:video/webm;base64,") {
		t.Fatalf("url = %.40q", got)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(got, "data:video/webm;base64,"))
	if err != nil || len(raw) != 1024 {
		t.Errorf("decoded %d bytes, err %v", len(raw), err)
	}
	if len(calls) != 4 {
		t.Errorf("every host should be tried, got %v", calls)
	}
}

func TestResolveLargeFileHostingUnavailable(t *testing.T) {
	r := NewResolver([]Host{
		fakeHost{name: "tunnel", err: errors.New("down")},
		fakeHost{name: "file.io", err: errors.New("down")},
	}, 1024, testLogger(t))

	path := writeVideo(t, "big.mp4", 1024)
	_, err := r.Resolve(context.Background(), path)

	var unavailable *HostingUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("err = %v, want HostingUnavailableError", err)
	}
	if unavailable.Size != 1024 || unavailable.Threshold != 1024 || len(unavailable.Attempts) != 2 {
		t.Errorf("error details = %+v", unavailable)
	}
}

func TestResolveStopsOnCancelledContext(t *testing.T) {
	var calls []string
	r := NewResolver([]Host{
		fakeHost{name: "tunnel", err: errors.New("down"), calls: &calls},
	}, 3<<20, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Resolve(ctx, writeVideo(t, "a.mp4", 10)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(calls) != 0 {
		t.Errorf("hosts called after cancel: %v", calls)
	}
}

func TestResolveMissingFile(t *testing.T) {
	r := NewResolver(nil, 3<<20, testLogger(t))
	if _, err := r.Resolve(context.Background(), filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Fatal("expected error")
	}
}

func TestDataURIMimeByExtension(t *testing.T) {
	got, err := DataURI(writeVideo(t, "clip.mov", 3))
	if err != nil {
		t.Fatalf("DataURI: %v", err)
	}
	if !strings.HasPrefix(got, "data:video/quicktime;base64,") {
		t.Errorf("got %q", got)
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}
