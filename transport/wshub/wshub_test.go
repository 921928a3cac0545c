package wshub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PopoGonry/iot-data-bridge/transport"
)

// hubServer is a minimal relay that records every frame it receives.
type hubServer struct {
	*httptest.Server
	frames chan Frame
	conns  atomic.Int32
}

func newHubServer(t *testing.T) *hubServer {
	t.Helper()

	h := &hubServer{frames: make(chan Frame, 16)}
	upgrader := websocket.Upgrader{}

	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.conns.Add(1)
		defer conn.Close()

		for {
			var frame Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			h.frames <- frame
		}
	}))
	t.Cleanup(h.Server.Close)
	return h
}

func (h *hubServer) wsURL() string {
	return "ws" + strings.TrimPrefix(h.URL, "http")
}

func startedClient(t *testing.T, endpoint string) *Client {
	t.Helper()

	c := NewClient(ClientDeps{Config: ClientConfig{
		Endpoint:     endpoint,
		SendTimeout:  time.Second,
		PingInterval: time.Minute,
		DialTimeout:  time.Second,
	}})
	require.NoError(t, c.Initialize())
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(time.Second) })
	return c
}

func TestClient_InitializeRequiresEndpoint(t *testing.T) {
	c := NewClient(ClientDeps{})
	require.Error(t, c.Initialize())
}

func TestClient_SendBeforeStart(t *testing.T) {
	c := NewClient(ClientDeps{Config: ClientConfig{Endpoint: "ws://localhost:1"}})

	err := c.Send(context.Background(), transport.Channel{Group: "VM-C", Target: "ingress"}, []byte("{}"))
	require.Error(t, err)
}

func TestClient_SendDeliversFrame(t *testing.T) {
	srv := newHubServer(t)
	c := startedClient(t, srv.wsURL())

	payload := []byte(`{"object":"Geo.Latitude","value":37.52}`)
	ch := transport.Channel{Group: "VM-C", Target: "ingress"}
	require.NoError(t, c.Send(context.Background(), ch, payload))

	select {
	case frame := <-srv.frames:
		assert.Equal(t, "send", frame.Kind)
		assert.Equal(t, "VM-C", frame.Group)
		assert.Equal(t, "ingress", frame.Target)
		assert.JSONEq(t, string(payload), string(frame.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("frame not received")
	}
}

func TestClient_SendMarshalsRawPayload(t *testing.T) {
	srv := newHubServer(t)
	c := startedClient(t, srv.wsURL())

	payload, err := json.Marshal(map[string]any{"object": "Engine.RPM", "value": 1800})
	require.NoError(t, err)
	require.NoError(t, c.Send(context.Background(), transport.Channel{Group: "VM-B", Target: "ingress"}, payload))

	frame := <-srv.frames
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frame.Payload, &decoded))
	assert.Equal(t, "Engine.RPM", decoded["object"])
}

func TestClient_SendCancelledContext(t *testing.T) {
	srv := newHubServer(t)
	c := startedClient(t, srv.wsURL())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Send(ctx, transport.Channel{Group: "VM-C", Target: "ingress"}, []byte("{}"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_RedialsAfterConnectionLoss(t *testing.T) {
	srv := newHubServer(t)
	c := startedClient(t, srv.wsURL())

	require.NoError(t, c.Send(context.Background(), transport.Channel{Group: "VM-A", Target: "ingress"}, []byte("{}")))
	<-srv.frames

	// Kill the session out from under the client. The failed send drops
	// the connection and the one after it redials.
	c.connMu.RLock()
	require.NoError(t, c.conn.Close())
	c.connMu.RUnlock()

	deadline := time.Now().Add(5 * time.Second)
	for {
		err := c.Send(context.Background(), transport.Channel{Group: "VM-A", Target: "ingress"}, []byte("{}"))
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("send never recovered: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	select {
	case <-srv.frames:
	case <-time.After(2 * time.Second):
		t.Fatal("frame not received after redial")
	}
}

func TestClient_ConcurrentSendsRedialOnce(t *testing.T) {
	srv := newHubServer(t)
	c := startedClient(t, srv.wsURL())

	// Drop the session without closing the socket so every waiting send
	// observes a nil connection at the same time.
	c.connMu.Lock()
	old := c.conn
	c.conn = nil
	c.connMu.Unlock()
	require.NoError(t, old.Close())

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			errs[slot] = c.Send(context.Background(),
				transport.Channel{Group: "VM-A", Target: "ingress"}, []byte("{}"))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "send %d", i)
	}
	for range errs {
		select {
		case <-srv.frames:
		case <-time.After(2 * time.Second):
			t.Fatal("frame not received after concurrent redial")
		}
	}

	// The initial dial plus exactly one redial: concurrent sends must not
	// each open their own session.
	assert.Equal(t, int32(2), srv.conns.Load())
	assert.Equal(t, int64(1), c.reconnects.Load())
}

func TestClient_StopIsIdempotent(t *testing.T) {
	srv := newHubServer(t)
	c := startedClient(t, srv.wsURL())

	require.NoError(t, c.Stop(time.Second))
	require.NoError(t, c.Stop(time.Second))
}

func TestClient_Discovery(t *testing.T) {
	srv := newHubServer(t)
	c := startedClient(t, srv.wsURL())

	meta := c.Meta()
	assert.Equal(t, "wshub", meta.Name)
	assert.Equal(t, "transport", meta.Type)
	assert.True(t, c.Health().Healthy)
}
