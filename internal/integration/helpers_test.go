//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"tubefetch/internal/config"
	"tubefetch/internal/downloader"
	"tubefetch/internal/entity"
	httprouter "tubefetch/internal/infrastructure/delivery/http"
	"tubefetch/internal/observability"
	"tubefetch/internal/resolver"
	"tubefetch/internal/service"
	"tubefetch/internal/storage"
	"tubefetch/internal/storage/sqlite"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type apiResponse struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// stack is the whole application served over a real listener.
type stack struct {
	cfg     *config.Config
	url     string
	client  *http.Client
	metrics *observability.Metrics
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		HTTP: config.HTTP{
			HandlerTimeout:  5 * time.Second,
			DownloadTimeout: 30 * time.Second,
		},
		Job: config.Job{
			Timeout:       30 * time.Second,
			BufferSize:    32 << 10,
			WatchInterval: 20 * time.Millisecond,
		},
		Storage: config.Storage{
			Driver: config.StorageDriverMemory,
			Path:   filepath.Join(t.TempDir(), "tubefetch.db"),
		},
		Resolver: config.Resolver{
			AllowedHosts: []string{"youtube.com", "youtu.be"},
			Timeout:      10 * time.Second,
		},
	}
}

func newStack(t *testing.T, cfg *config.Config, backend resolver.Backend) *stack {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewWithRegisterer(prometheus.NewRegistry())

	var storer storage.Storer = storage.New(log, metrics)

	if cfg.Storage.Driver == config.StorageDriverSQLite {
		store, err := sqlite.New(t.Context(), log, cfg.Storage.Path, metrics)
		require.NoError(t, err)

		storer = store
	}

	svc := service.New(log, cfg, storer, resolver.New(log, cfg, backend, metrics), downloader.New(log, cfg, metrics), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)

	srv := httptest.NewServer(httprouter.New(log, cfg, svc, metrics))

	t.Cleanup(func() {
		srv.Close()
		cancel()
		svc.Wait()
		_ = storer.Close()
	})

	return &stack{
		cfg:     cfg,
		url:     srv.URL,
		client:  srv.Client(),
		metrics: metrics,
	}
}

func (s *stack) do(t *testing.T, method, path string, body any) (*http.Response, apiResponse) {
	t.Helper()

	var reader io.Reader = http.NoBody

	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(t.Context(), method, s.url+path, reader)
	require.NoError(t, err)

	resp, err := s.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out apiResponse
	if len(raw) > 0 && resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}

	return resp, out
}

func (s *stack) startJob(t *testing.T, body map[string]string) entity.Job {
	t.Helper()

	resp, out := s.do(t, http.MethodPost, "/v1/jobs/", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, out.Error)

	var job entity.Job
	require.NoError(t, json.Unmarshal(out.Data, &job))

	return job
}

func (s *stack) job(t *testing.T, id int64) entity.Job {
	t.Helper()

	resp, out := s.do(t, http.MethodGet, "/v1/jobs/"+itoa(id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, out.Error)

	var job entity.Job
	require.NoError(t, json.Unmarshal(out.Data, &job))

	return job
}

// waitTerminal polls the job until it completes or fails.
func (s *stack) waitTerminal(t *testing.T, id int64) entity.Job {
	t.Helper()

	var job entity.Job

	require.Eventually(t, func() bool {
		job = s.job(t, id)

		return job.Status.IsTerminal()
	}, 20*time.Second, 20*time.Millisecond)

	return job
}

func (s *stack) file(t *testing.T, id int64) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, s.url+"/v1/jobs/"+itoa(id)+"/file", http.NoBody)
	require.NoError(t, err)

	resp, err := s.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, body
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
