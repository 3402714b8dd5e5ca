package rpcengine

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborchat/harbor/internal/core"
	"github.com/harborchat/harbor/internal/media"
)

// stubEngine answers the newline-JSON control protocol with canned
// per-method handlers.
type stubEngine struct {
	ln       net.Listener
	handlers map[string]func(req request) response
}

func newStubEngine(t *testing.T) *stubEngine {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &stubEngine{ln: ln, handlers: make(map[string]func(request) response)}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

func (s *stubEngine) serve(conn net.Conn) {
	defer conn.Close()
	enc := json.NewEncoder(conn)
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		h, ok := s.handlers[req.Method]
		if !ok {
			enc.Encode(response{ID: req.ID, OK: false, Error: "unknown_method"})
			continue
		}
		enc.Encode(h(req))
	}
}

func (s *stubEngine) on(method string, result any) {
	s.handlers[method] = func(req request) response {
		raw, _ := json.Marshal(result)
		return response{ID: req.ID, OK: true, Result: raw}
	}
}

func (s *stubEngine) fail(method, code string) {
	s.handlers[method] = func(req request) response {
		return response{ID: req.ID, OK: false, Error: code}
	}
}

func (s *stubEngine) addr() string { return s.ln.Addr().String() }

func TestCreateRouterAndTransport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	stub := newStubEngine(t)
	stub.on("createRouter", map[string]any{"router_id": "r-1"})
	stub.on("createTransport", map[string]any{"id": "t-1"})

	client, err := Dial(ctx, stub.addr())
	require.NoError(t, err)
	defer client.Close()

	router, err := client.CreateRouter(ctx)
	require.NoError(t, err)
	assert.Equal(t, media.RouterID("r-1"), router.ID())

	params, err := router.CreateTransport(ctx, media.DirectionSend)
	require.NoError(t, err)
	assert.Equal(t, media.TransportID("t-1"), params.ID)
	assert.Equal(t, media.DirectionSend, params.Direction)
}

func TestEngineErrorCodesMapToSentinels(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	stub := newStubEngine(t)
	stub.on("createRouter", map[string]any{"router_id": "r-1"})
	stub.fail("consume", "producer_gone")
	stub.fail("connectTransport", "already_connected")
	stub.fail("produce", "unknown_transport")

	client, err := Dial(ctx, stub.addr())
	require.NoError(t, err)
	defer client.Close()
	router, err := client.CreateRouter(ctx)
	require.NoError(t, err)

	_, err = router.Consume(ctx, "t-1", "p-1", webrtc.RTPCapabilities{})
	assert.ErrorIs(t, err, core.ErrProducerGone)
	assert.ErrorIs(t, router.ConnectTransport(ctx, "t-1", webrtc.DTLSParameters{}), core.ErrAlreadyConnected)
	_, err = router.Produce(ctx, "t-1", media.KindAudio, webrtc.RTPParameters{})
	assert.ErrorIs(t, err, core.ErrUnknownTransport)
}

func TestCallContextCancellation(t *testing.T) {
	t.Parallel()

	// A listener that accepts and never answers.
	silent, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { silent.Close() })
	go func() {
		for {
			conn, err := silent.Accept()
			if err != nil {
				return
			}
			go func() { _, _ = bufio.NewReader(conn).ReadString(0) }()
		}
	}()

	client, err := Dial(context.Background(), silent.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.CreateRouter(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseFailsPendingCalls(t *testing.T) {
	t.Parallel()

	silent, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { silent.Close() })
	go func() {
		conn, err := silent.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(time.Hour)
	}()

	client, err := Dial(context.Background(), silent.Addr().String())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := client.CreateRouter(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	client.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call did not fail after Close")
	}
}
