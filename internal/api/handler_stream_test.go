package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"schednotify/internal/sse"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newStreamServer serves the SSE endpoint with a stub auth middleware that
// pins the user id, mirroring how the JWT middleware feeds the handler.
func newStreamServer(t *testing.T, manager *sse.Manager, heartbeat time.Duration) *httptest.Server {
	t.Helper()

	h := NewStreamHandler(manager, heartbeat, zap.NewNop())
	r := gin.New()
	r.GET("/events/stream", func(c *gin.Context) {
		c.Set("user_id", "u1")
	}, h.Stream)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

type frame struct {
	Name string
	Data map[string]any
}

// readFrame parses one "event: <name>\ndata: <json>\n\n" frame.
func readFrame(t *testing.T, r *bufio.Reader) frame {
	t.Helper()

	eventLine, err := r.ReadString('\n')
	require.NoError(t, err)
	dataLine, err := r.ReadString('\n')
	require.NoError(t, err)
	blank, err := r.ReadString('\n')
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(eventLine, "event: "), "got %q", eventLine)
	require.True(t, strings.HasPrefix(dataLine, "data: "), "got %q", dataLine)
	require.Equal(t, "\n", blank)

	var f frame
	f.Name = strings.TrimSuffix(strings.TrimPrefix(eventLine, "event: "), "\n")
	body := strings.TrimSuffix(strings.TrimPrefix(dataLine, "data: "), "\n")
	require.NoError(t, json.Unmarshal([]byte(body), &f.Data))
	return f
}

func openStream(t *testing.T, srv *httptest.Server) (*http.Response, *bufio.Reader) {
	t.Helper()

	resp, err := http.Get(srv.URL + "/events/stream")
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	return resp, bufio.NewReader(resp.Body)
}

func waitForConnections(t *testing.T, manager *sse.Manager, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for manager.ConnectionCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d connections, have %d", want, manager.ConnectionCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamConnectedFrameComesFirst(t *testing.T) {
	manager := sse.NewManager(zap.NewNop())
	srv := newStreamServer(t, manager, time.Hour)

	_, r := openStream(t, srv)

	f := readFrame(t, r)
	assert.Equal(t, "connected", f.Name)
	assert.Equal(t, "u1", f.Data["user_id"])
	assert.Contains(t, f.Data, "timestamp")
}

func TestStreamHeartbeatWhenIdle(t *testing.T) {
	manager := sse.NewManager(zap.NewNop())
	srv := newStreamServer(t, manager, 50*time.Millisecond)

	_, r := openStream(t, srv)

	require.Equal(t, "connected", readFrame(t, r).Name)

	// With no published events, the next frame is a heartbeat.
	f := readFrame(t, r)
	assert.Equal(t, "heartbeat", f.Name)
	assert.Contains(t, f.Data, "timestamp")
}

func TestStreamDeliversEventsInOrder(t *testing.T) {
	manager := sse.NewManager(zap.NewNop())
	srv := newStreamServer(t, manager, time.Hour)

	_, r := openStream(t, srv)
	require.Equal(t, "connected", readFrame(t, r).Name)
	waitForConnections(t, manager, 1)

	for i := 0; i < 5; i++ {
		manager.Send("u1", "notification.sent", map[string]any{"seq": i})
	}

	for i := 0; i < 5; i++ {
		f := readFrame(t, r)
		assert.Equal(t, "notification.sent", f.Name)
		assert.EqualValues(t, i, f.Data["seq"])
	}
}

func TestStreamFanOutToTwoClients(t *testing.T) {
	manager := sse.NewManager(zap.NewNop())
	srv := newStreamServer(t, manager, 50*time.Millisecond)

	_, ra := openStream(t, srv)
	_, rb := openStream(t, srv)
	require.Equal(t, "connected", readFrame(t, ra).Name)
	require.Equal(t, "connected", readFrame(t, rb).Name)
	waitForConnections(t, manager, 2)

	manager.Send("u1", "deadline.alert", map[string]any{"schedule_id": 9})

	readUntil := func(r *bufio.Reader) frame {
		for {
			f := readFrame(t, r)
			if f.Name != "heartbeat" {
				return f
			}
		}
	}

	assert.Equal(t, "deadline.alert", readUntil(ra).Name)
	assert.Equal(t, "deadline.alert", readUntil(rb).Name)
}

func TestStreamDisconnectCleansUpConnection(t *testing.T) {
	manager := sse.NewManager(zap.NewNop())
	srv := newStreamServer(t, manager, 20*time.Millisecond)

	resp, r := openStream(t, srv)
	require.Equal(t, "connected", readFrame(t, r).Name)
	waitForConnections(t, manager, 1)

	resp.Body.Close()
	waitForConnections(t, manager, 0)
}
