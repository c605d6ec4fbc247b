package chat

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveOne upgrades a single request and hands the wrapped conn to the test.
func serveOne(t *testing.T) (*websocket.Conn, *WsConn) {
	t.Helper()
	ready := make(chan *WsConn, 1)
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewWsConn("c1", "alice", ws, WsConnConf{SendQueue: 2})
		c.Start()
		ready <- c
		for {
			if _, err := c.ReadFrame(); err != nil {
				_ = c.Close()
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case c := <-ready:
		return client, c
	case <-time.After(2 * time.Second):
		t.Fatal("server did not accept")
		return nil, nil
	}
}

func TestWsConnSendAndClose(t *testing.T) {
	client, c := serveOne(t)

	require.NoError(t, c.Send([]byte(`{"event":"pong"}`)))
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"pong"}`, string(data))

	require.NoError(t, c.CloseWithStatus(websocket.CloseInvalidFramePayloadData, "bad frame"))
	assert.False(t, c.IsOpen())
	assert.ErrorIs(t, c.Send([]byte("late")), ErrConnClosed)

	_, _, err = client.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseInvalidFramePayloadData), "got %v", err)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("write pump did not exit")
	}
}

func TestWsConnCloseIsIdempotent(t *testing.T) {
	_, c := serveOne(t)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.CloseReplaced())
	<-c.Done()
}
