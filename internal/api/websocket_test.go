package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

func newTestHubServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	go hub.Run()

	r := gin.New()
	r.GET("/stream", hub.Subscribe)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastsTxBroadcastEvent(t *testing.T) {
	hub, srv := newTestHubServer(t)
	conn := dialHub(t, srv)

	// Give Subscribe's goroutine a moment to register the client.
	time.Sleep(50 * time.Millisecond)

	hub.Broadcast(WalletEvent{Type: EventTxBroadcast, Txid: "deadbeef"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var got WalletEvent
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != EventTxBroadcast {
		t.Errorf("Type = %q, want %q", got.Type, EventTxBroadcast)
	}
	if got.Txid != "deadbeef" {
		t.Errorf("Txid = %q, want deadbeef", got.Txid)
	}
	if got.Alert != nil {
		t.Errorf("Alert = %+v, want nil for a tx_broadcast event", got.Alert)
	}
}

func TestHubBroadcastsAlertEventWithPayload(t *testing.T) {
	hub, srv := newTestHubServer(t)
	conn := dialHub(t, srv)
	time.Sleep(50 * time.Millisecond)

	alert := wallet.Alert{ID: "a1", Kind: "dust_attack", Severity: wallet.SeverityHigh, Message: "suspicious inbound dust"}
	hub.Broadcast(WalletEvent{Type: EventAlert, Alert: &alert})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var got WalletEvent
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != EventAlert {
		t.Errorf("Type = %q, want %q", got.Type, EventAlert)
	}
	if got.Alert == nil || got.Alert.ID != "a1" {
		t.Fatalf("Alert = %+v, want ID=a1", got.Alert)
	}
	if got.Txid != "" {
		t.Errorf("Txid = %q, want empty for an alert event", got.Txid)
	}
}
