package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubHandler is a RequestHandler used to exercise Server/Client wiring
// without a real embedder or store.
type stubHandler struct {
	mu      sync.Mutex
	results []SearchResult
	err     error
	status  StatusResult
	calls   []SearchParams
}

func (h *stubHandler) HandleSearch(_ context.Context, params SearchParams) ([]SearchResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, params)
	if h.err != nil {
		return nil, h.err
	}
	return h.results, nil
}

func (h *stubHandler) GetStatus() StatusResult {
	return h.status
}

func (h *stubHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

// integrationSocketPath creates a unique socket path for daemon integration tests.
func integrationSocketPath(t *testing.T) string {
	t.Helper()
	socketPath := filepath.Join("/tmp", fmt.Sprintf("fskb-daemon-it-%d.sock", time.Now().UnixNano()))
	t.Cleanup(func() { os.Remove(socketPath) })
	return socketPath
}

// startIntegrationServer wires a Server to the given handler and serves it
// in the background until the test completes.
func startIntegrationServer(t *testing.T, handler RequestHandler) (socketPath string, cfg Config) {
	t.Helper()
	socketPath = integrationSocketPath(t)

	srv, err := NewServer(socketPath)
	require.NoError(t, err)
	srv.SetHandler(handler)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})

	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "server socket never appeared")

	cfg = Config{SocketPath: socketPath, Timeout: 5 * time.Second}
	return socketPath, cfg
}

func TestServerHandler_SearchRoundTrip(t *testing.T) {
	handler := &stubHandler{
		results: []SearchResult{
			{FilePath: "main.go", StartLine: 1, EndLine: 5, Score: 0.9, Content: "package main"},
		},
	}
	_, cfg := startIntegrationServer(t, handler)

	client := NewClient(cfg)
	results, err := client.Search(context.Background(), SearchParams{
		Query:    "package declaration",
		RootPath: "/project",
		Limit:    5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "main.go", results[0].FilePath)
	assert.Equal(t, 1, handler.callCount())
}

func TestServerHandler_SearchPropagatesHandlerError(t *testing.T) {
	handler := &stubHandler{err: fmt.Errorf("no index found for root")}
	_, cfg := startIntegrationServer(t, handler)

	client := NewClient(cfg)
	_, err := client.Search(context.Background(), SearchParams{
		Query:    "anything",
		RootPath: "/project",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index found")
}

func TestServerHandler_StatusReflectsHandler(t *testing.T) {
	handler := &stubHandler{
		status: StatusResult{
			Running:        true,
			EmbedderType:   "ollama",
			EmbedderStatus: "ready",
			ProjectsLoaded: 3,
		},
	}
	_, cfg := startIntegrationServer(t, handler)

	client := NewClient(cfg)
	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, "ollama", status.EmbedderType)
	assert.Equal(t, 3, status.ProjectsLoaded)
}

func TestServerHandler_SearchRejectsInvalidParams(t *testing.T) {
	handler := &stubHandler{}
	_, cfg := startIntegrationServer(t, handler)

	client := NewClient(cfg)
	_, err := client.Search(context.Background(), SearchParams{RootPath: "/project"})
	require.Error(t, err)
	assert.Zero(t, handler.callCount(), "handler should not run when params fail validation")
}

func TestClient_PingFailsWithoutServer(t *testing.T) {
	cfg := Config{
		SocketPath: filepath.Join(t.TempDir(), "nothing.sock"),
		Timeout:    200 * time.Millisecond,
	}
	client := NewClient(cfg)
	assert.False(t, client.IsRunning())
	err := client.Ping(context.Background())
	require.Error(t, err)
}
