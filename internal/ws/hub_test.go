package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/frame"
)

func dialTestClient(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsEventToClients(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	conn := dialTestClient(t, server)
	waitForClients(t, hub, 1)

	msg := NewEventMessage("ev-1", "frame_diff", time.Now())
	msg.Regions = []frame.Region{{X: 1, Y: 2, Width: 3, Height: 4}}
	msg.Objects = []ObjectLabel{{Class: "person", Confidence: 0.9}}
	hub.BroadcastEvent(msg)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got EventMessage
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "detection", got.Type)
	assert.Equal(t, "ev-1", got.ID)
	assert.Equal(t, msg.Regions, got.Regions)
	require.Len(t, got.Objects, 1)
	assert.Equal(t, "person", got.Objects[0].Class)
}

func TestHubBroadcastStatus(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	conn := dialTestClient(t, server)
	waitForClients(t, hub, 1)

	hub.BroadcastStatus(&StatusMessage{Type: "status", Timestamp: time.Now(), Running: true})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got StatusMessage
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "status", got.Type)
	assert.True(t, got.Running)
}

func TestHubDropsDisconnectedClient(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	conn := dialTestClient(t, server)
	waitForClients(t, hub, 1)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("disconnected client never removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastWithNoClients(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	// Must not panic or block
	hub.BroadcastEvent(NewEventMessage("ev", "frame_diff", time.Now()))
	assert.Zero(t, hub.ClientCount())
}
