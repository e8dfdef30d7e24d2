package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TestWebsocketDialer_RoundTrip runs a full handshake against an in-process
// relay and verifies frames survive both directions.
func TestWebsocketDialer_RoundTrip(t *testing.T) {
	received := make(chan Frame, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Push one inbound event, then read one outbound.
		require.NoError(t, conn.WriteJSON(Frame{
			Event:   "send-email",
			Payload: json.RawMessage(`{"id":"e1","templateParams":{}}`),
		}))

		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		received <- f
	}))
	defer server.Close()

	dialer := &WebsocketDialer{HandshakeTimeout: 2 * time.Second}
	conn, err := dialer.Dial(context.Background(), server.URL+"/email")
	require.NoError(t, err)
	defer conn.Close()

	inbound, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "send-email", inbound.Event)

	require.NoError(t, conn.WriteFrame(Frame{
		Event:   "email-sent",
		Payload: json.RawMessage(`{"emailId":"e1","success":true}`),
	}))

	select {
	case f := <-received:
		assert.Equal(t, "email-sent", f.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the outbound frame")
	}
}

func TestWebsocketDialer_HandshakeFailure(t *testing.T) {
	// Plain HTTP handler that refuses the upgrade.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no websocket here", http.StatusBadGateway)
	}))
	defer server.Close()

	dialer := &WebsocketDialer{HandshakeTimeout: 2 * time.Second}
	_, err := dialer.Dial(context.Background(), server.URL+"/email")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay handshake failed")
}
