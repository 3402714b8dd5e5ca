// Package rpcengine drives the external media engine process over its
// control socket. Requests carry a correlation id; responses are
// matched back to the waiting caller, so many operations can be in
// flight on one connection.
package rpcengine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/harborchat/harbor/internal/core"
)

var ErrClosed = errors.New("engine connection closed")

type request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	ID     uint64          `json:"id"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

type Client struct {
	conn   net.Conn
	encMu  sync.Mutex
	enc    *json.Encoder
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan response
	closed  bool
}

func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial engine: %w", err)
	}
	c := &Client{
		conn:    conn,
		enc:     json.NewEncoder(conn),
		pending: make(map[uint64]chan response),
	}
	go c.readLoop()
	log.Info().Str("module", "rpcengine").Str("addr", addr).Msg("engine connected")
	return c, nil
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var resp response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			log.Error().Err(err).Str("module", "rpcengine").Msg("bad response frame")
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if !ok {
			// Response to a caller that already gave up; drop it.
			continue
		}
		ch <- resp
	}
	c.Close()
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint64]chan response)
	c.mu.Unlock()

	_ = c.conn.Close()
	for _, ch := range pending {
		close(ch)
	}
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	id := c.nextID.Add(1)
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.encMu.Lock()
	err = c.enc.Encode(request{ID: id, Method: method, Params: raw})
	c.encMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if !resp.OK {
			return mapError(resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

// mapError turns the engine's stable error codes back into the core
// taxonomy so callers can branch on sentinels.
func mapError(code string) error {
	switch code {
	case "producer_gone":
		return core.ErrProducerGone
	case "unknown_transport":
		return core.ErrUnknownTransport
	case "already_connected":
		return core.ErrAlreadyConnected
	default:
		return fmt.Errorf("engine error: %s", code)
	}
}
