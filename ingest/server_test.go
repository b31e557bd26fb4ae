package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/reugn/hostwatch"
	"github.com/reugn/hostwatch/alert"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (n *recordingNotifier) Notify(ctx context.Context, message string) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("notify context has no deadline")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return n.err
}

func (n *recordingNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/metrics", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func list(t *testing.T, h http.Handler) []hostwatch.Snapshot {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var out []hostwatch.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_PostAndList(t *testing.T) {
	buffer := NewBuffer()
	h := NewServer(buffer, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	assert.Equal(t, "[]\n", rec.Body.String())

	body := `{"cpuUsagePercent":12.5,"ramUsedMb":4096,"diskUsedMb":20480}`
	assert.Equal(t, http.StatusOK, post(t, h, body).Code)
	assert.Equal(t, http.StatusOK, post(t, h, body).Code)

	want := hostwatch.Snapshot{CPUUsagePercent: 12.5, RAMUsedMB: 4096, DiskUsedMB: 20480}
	assert.Equal(t, []hostwatch.Snapshot{want, want}, list(t, h))
	assert.Equal(t, 2, buffer.Len())
}

func TestServer_RejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"cpuUsagePercent":`},
		{"unknown fields only", `{"foo":1}`},
		{"missing field", `{"cpuUsagePercent":1,"ramUsedMb":2}`},
		{"null field", `{"cpuUsagePercent":null,"ramUsedMb":2,"diskUsedMb":3}`},
		{"non numeric", `{"cpuUsagePercent":"high","ramUsedMb":2,"diskUsedMb":3}`},
		{"empty body", ``},
		{"json null", `null`},
		{"trailing garbage", `{"cpuUsagePercent":1,"ramUsedMb":2,"diskUsedMb":3} not-json`},
		{"two objects", `{"cpuUsagePercent":1,"ramUsedMb":2,"diskUsedMb":3}{"cpuUsagePercent":1,"ramUsedMb":2,"diskUsedMb":3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buffer := NewBuffer()
			notifier := &recordingNotifier{}
			h := NewServer(buffer, notifier).Handler()

			rec := post(t, h, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, 0, buffer.Len())
			assert.Empty(t, notifier.sent())
		})
	}
}

func TestServer_AcceptsTrailingWhitespace(t *testing.T) {
	buffer := NewBuffer()
	h := NewServer(buffer, nil).Handler()

	rec := post(t, h, "{\"cpuUsagePercent\":1,\"ramUsedMb\":2,\"diskUsedMb\":3}\n\t ")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, buffer.Len())
}

func TestServer_Threshold(t *testing.T) {
	tests := []struct {
		cpu       string
		wantAlert []string
	}{
		{"80", nil},
		{"80.01", []string{"High CPU usage detected: 80.01%"}},
		{"12", nil},
		{"100", []string{"High CPU usage detected: 100%"}},
	}
	for _, tt := range tests {
		t.Run(tt.cpu, func(t *testing.T) {
			notifier := &recordingNotifier{}
			h := NewServer(NewBuffer(), notifier).Handler()

			rec := post(t, h, fmt.Sprintf(`{"cpuUsagePercent":%s,"ramUsedMb":1,"diskUsedMb":1}`, tt.cpu))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantAlert, notifier.sent())
		})
	}
}

func TestServer_CustomThreshold(t *testing.T) {
	notifier := &recordingNotifier{}
	h := NewServer(NewBuffer(), notifier, WithThreshold(50), WithNotifyTimeout(time.Second)).Handler()

	post(t, h, `{"cpuUsagePercent":50.5,"ramUsedMb":1,"diskUsedMb":1}`)
	assert.Len(t, notifier.sent(), 1)
}

func TestServer_NotifierFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	buffer := NewBuffer()
	notifier := &recordingNotifier{err: errors.New("webhook unreachable")}
	h := NewServer(buffer, notifier, WithLogger(zap.New(core))).Handler()

	rec := post(t, h, `{"cpuUsagePercent":95,"ramUsedMb":1,"diskUsedMb":1}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, buffer.Len())

	failures := logs.FilterMessage("Failed to send alert").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "webhook unreachable", failures[0].ContextMap()["error"])
	assert.NotEmpty(t, failures[0].ContextMap()["req_id"])
	assert.Equal(t, 1, logs.FilterMessage("Received metrics").Len())
}

func TestServer_ConcurrentPosts(t *testing.T) {
	buffer := NewBuffer()
	notifier := &recordingNotifier{}
	server := httptest.NewServer(NewServer(buffer, notifier).Handler())
	defer server.Close()

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"cpuUsagePercent":%d,"ramUsedMb":1,"diskUsedMb":1}`, 60+i)
			resp, err := server.Client().Post(server.URL+"/api/metrics", "application/json",
				strings.NewReader(body))
			if assert.NoError(t, err) {
				resp.Body.Close()
				assert.Equal(t, http.StatusOK, resp.StatusCode)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, buffer.Len())
	// 81..99 exceed the threshold
	assert.Len(t, notifier.sent(), 19)
}

func TestServer_RequestIDAndHealth(t *testing.T) {
	h := NewServer(NewBuffer(), nil).Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/metrics", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_WithWebhookNotifier(t *testing.T) {
	payloads := make(chan map[string]string, 1)
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		payloads <- payload
	}))
	defer webhook.Close()

	h := NewServer(NewBuffer(), alert.NewWebhookNotifier(webhook.URL, webhook.Client())).Handler()
	post(t, h, `{"cpuUsagePercent":90.5,"ramUsedMb":1,"diskUsedMb":1}`)

	assert.Equal(t, "High CPU usage detected: 90.5%", (<-payloads)["text"])
}

func TestListenAndServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ListenAndServe(ctx, addr, NewServer(NewBuffer(), nil).Handler(), zap.NewNop())
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestListenAndServe_AddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	err = ListenAndServe(context.Background(), ln.Addr().String(), http.NotFoundHandler(), zap.NewNop())
	assert.Error(t, err)
}
