package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reugn/hostwatch"
)

// newServer returns a server forwarding every received text message
// to the messages channel.
func newServer(t *testing.T) (*httptest.Server, <-chan []byte) {
	t.Helper()
	messages := make(chan []byte, 16)
	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == ws.TextMessage {
				messages <- data
			}
		}
	}))
	t.Cleanup(server.Close)
	return server, messages
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func receive(t *testing.T, messages <-chan []byte) hostwatch.Observation {
	t.Helper()
	select {
	case data := <-messages:
		var obs hostwatch.Observation
		require.NoError(t, json.Unmarshal(data, &obs))
		return obs
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
		return hostwatch.Observation{}
	}
}

func TestSink(t *testing.T) {
	server, messages := newServer(t)
	ctx := context.Background()

	sink, err := NewSink(ctx, wsURL(server), hostwatch.Origin{Host: "edge", AgentID: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "websocket", sink.Name())

	require.NoError(t, sink.OnMetricsCollected(ctx, hostwatch.Snapshot{CPUUsagePercent: 1}))
	require.NoError(t, sink.OnMetricsCollected(ctx, hostwatch.Snapshot{CPUUsagePercent: 2}))

	assert.Equal(t, 1.0, receive(t, messages).CPUUsagePercent)
	obs := receive(t, messages)
	assert.Equal(t, 2.0, obs.CPUUsagePercent)
	assert.Equal(t, "edge", obs.Host)

	assert.NoError(t, sink.Close())
	assert.NoError(t, sink.Close())
}

func TestSink_RedialsAfterClose(t *testing.T) {
	server, messages := newServer(t)
	ctx := context.Background()

	sink, err := NewSink(ctx, wsURL(server), hostwatch.Origin{}, nil)
	require.NoError(t, err)

	// a closed connection is redialled on the next snapshot
	require.NoError(t, sink.Close())
	require.NoError(t, sink.OnMetricsCollected(ctx, hostwatch.Snapshot{CPUUsagePercent: 5}))
	assert.Equal(t, 5.0, receive(t, messages).CPUUsagePercent)
	assert.NoError(t, sink.Close())
}

func TestNewSink_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewSink(ctx, "ws://127.0.0.1:1/metrics", hostwatch.Origin{}, nil)
	assert.Error(t, err)
}
