package server

import (
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GradeLane/internal/model"
)

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitForSubscribers blocks until the hub has registered the dialed
// connection; the upgrade response races the registration.
func waitForSubscribers(t *testing.T, hub *ProgressHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.subscribers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("hub never reached %d subscribers", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) *ProgressEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var event ProgressEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	return &event
}

func TestProgressHub_BroadcastsToSubscribers(t *testing.T) {
	hub := NewProgressHub(log.DefaultLogger)
	srv := httptest.NewServer(nethttp.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	conn := dialHub(t, srv, "")
	waitForSubscribers(t, hub, 1)

	hub.NotifyProgress("task-1", model.StatusProcessing, 10)

	event := readEvent(t, conn)
	assert.Equal(t, "task-1", event.TaskID)
	assert.Equal(t, model.StatusProcessing, event.Status)
	assert.Equal(t, int32(10), event.Progress)
}

func TestProgressHub_TaskFilter(t *testing.T) {
	hub := NewProgressHub(log.DefaultLogger)
	srv := httptest.NewServer(nethttp.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	conn := dialHub(t, srv, "?task_id=task-2")
	waitForSubscribers(t, hub, 1)

	hub.NotifyProgress("task-1", model.StatusProcessing, 30)
	hub.NotifyProgress("task-2", model.StatusCompleted, 100)

	event := readEvent(t, conn)
	assert.Equal(t, "task-2", event.TaskID)
	assert.Equal(t, int32(100), event.Progress)
}

func TestProgressHub_DroppedClientDoesNotBlock(t *testing.T) {
	hub := NewProgressHub(log.DefaultLogger)
	srv := httptest.NewServer(nethttp.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	conn := dialHub(t, srv, "")
	_ = conn.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2*wsSendBuffer; i++ {
			hub.NotifyProgress("task-1", model.StatusProcessing, int32(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier blocked on a dead client")
	}
}
