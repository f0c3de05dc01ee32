package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/xiaot623/llmgate/protocol"
)

func newRunningHub(t *testing.T) *Hub {
	t.Helper()
	h := New()
	go h.Run()
	return h
}

// registerBound registers a connection bound to the session and waits for
// the hub loop to pick it up.
func registerBound(t *testing.T, h *Hub, sessionID string) *Connection {
	t.Helper()
	conn := h.NewConnection(nil)
	conn.SessionID = sessionID
	h.Register(conn)

	deadline := time.Now().Add(time.Second)
	for !h.HasActiveConnections(sessionID) {
		if time.Now().After(deadline) {
			t.Fatalf("connection for session %s never registered", sessionID)
		}
		time.Sleep(time.Millisecond)
	}
	return conn
}

func recvJSON(t *testing.T, conn *Connection, v interface{}) {
	t.Helper()
	select {
	case data := <-conn.Send:
		if err := json.Unmarshal(data, v); err != nil {
			t.Fatalf("failed to decode message: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
	}
}

func TestSinkDeliversChunksInOrder(t *testing.T) {
	h := newRunningHub(t)
	conn := registerBound(t, h, "sess_h1")
	sink := NewSink(h)

	sink.SendMessage("sess_h1", "Hel", false)
	sink.SendMessage("sess_h1", "lo", false)
	sink.SendMessage("sess_h1", "Hello", true)

	var first, second, last protocol.ReceiveMessage
	recvJSON(t, conn, &first)
	recvJSON(t, conn, &second)
	recvJSON(t, conn, &last)

	if first.Type != protocol.TypeReceiveMessage || first.Output != "Hel" || first.IsComplete {
		t.Fatalf("unexpected first chunk: %+v", first)
	}
	if second.Output != "lo" || second.IsComplete {
		t.Fatalf("unexpected second chunk: %+v", second)
	}
	if last.Output != "Hello" || !last.IsComplete {
		t.Fatalf("unexpected terminal chunk: %+v", last)
	}
	if last.SessionID != "sess_h1" {
		t.Fatalf("unexpected session id: %s", last.SessionID)
	}
}

func TestSinkFansOutToAllSessionConnections(t *testing.T) {
	h := newRunningHub(t)
	a := registerBound(t, h, "sess_h2")
	b := registerBound(t, h, "sess_h2")
	other := registerBound(t, h, "sess_other")

	NewSink(h).SendMessage("sess_h2", "chunk", true)

	var fromA, fromB protocol.ReceiveMessage
	recvJSON(t, a, &fromA)
	recvJSON(t, b, &fromB)
	if fromA.Output != "chunk" || fromB.Output != "chunk" {
		t.Fatalf("fanout mismatch: %+v / %+v", fromA, fromB)
	}

	select {
	case data := <-other.Send:
		t.Fatalf("unrelated session received: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSinkSendError(t *testing.T) {
	h := newRunningHub(t)
	conn := registerBound(t, h, "sess_h3")

	NewSink(h).SendError("sess_h3", "exchange failed")

	var msg protocol.ReceiveError
	recvJSON(t, conn, &msg)
	if msg.Type != protocol.TypeReceiveError || msg.Message != "exchange failed" {
		t.Fatalf("unexpected error message: %+v", msg)
	}
}

func TestUnregisterClosesSendChannel(t *testing.T) {
	h := newRunningHub(t)
	conn := registerBound(t, h, "sess_h4")

	h.Unregister(conn)

	deadline := time.Now().Add(time.Second)
	for h.HasActiveConnections("sess_h4") {
		if time.Now().After(deadline) {
			t.Fatalf("connection never unregistered")
		}
		time.Sleep(time.Millisecond)
	}

	if _, open := <-conn.Send; open {
		t.Fatalf("expected send channel to be closed")
	}
	if h.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", h.ConnectionCount())
	}
}

func TestBindSessionMovesConnection(t *testing.T) {
	h := newRunningHub(t)
	conn := registerBound(t, h, "sess_h5")

	h.BindSession(conn, "sess_h6")

	if h.HasActiveConnections("sess_h5") {
		t.Fatalf("old session still has connections")
	}
	if !h.HasActiveConnections("sess_h6") {
		t.Fatalf("new session has no connections")
	}
	if h.SessionCount() != 1 {
		t.Fatalf("expected 1 session, got %d", h.SessionCount())
	}
}
