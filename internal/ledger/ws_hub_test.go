package ledger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func (h *WSHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitForClients(t *testing.T, hub *WSHub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.clientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("hub never reached %d clients (have %d)", want, hub.clientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWSHub_BroadcastReachesClient(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()
	waitForClients(t, hub, 1)

	hub.Broadcast(Event{Type: "trade", EventFields: EventFields{InstrumentID: "ins1", UserID: "alice", Quantity: 5}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != "trade" || ev.InstrumentID != "ins1" || ev.Quantity != 5 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestWSHub_DisconnectedClientIsRemoved(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	stayer := dialHub(t, srv)
	defer stayer.Close()
	leaver := dialHub(t, srv)
	waitForClients(t, hub, 2)

	// Drop one client, then keep broadcasting; the dead connection must be
	// pruned (via the failed write or the read pump) without panicking and
	// without losing the surviving client.
	leaver.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.clientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("dead client never pruned, %d clients remain", hub.clientCount())
		}
		hub.Broadcast(Event{Type: "trade"})
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast(Event{Type: "liquidation", EventFields: EventFields{InstrumentID: "ins1"}})
	stayer.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := stayer.ReadMessage()
		if err != nil {
			t.Fatalf("surviving client read: %v", err)
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Type == "liquidation" {
			break
		}
	}
}
