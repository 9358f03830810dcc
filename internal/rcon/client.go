// Package rcon implements the command channel to the simulation process
// (spec.md §1, §6: "the simulation process (Factorio, via its RCON command
// channel ...)"). The simulation itself is an external collaborator — this
// package only specifies the thin client surface the runtime depends on:
// dial, reconnect-with-backoff, and synchronous request/response framing
// over the Source-engine RCON wire protocol.
//
// Connection management follows the teacher's core.RedisClient: a pooled,
// namespaced wrapper with health checks and graceful shutdown, adapted from
// a pub/sub store to a request/response command channel.
package rcon

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v5"

	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
)

// packet types from the Source RCON protocol.
const (
	typeAuth         int32 = 3
	typeAuthResponse int32 = 2
	typeCommand      int32 = 2
	typeResponse     int32 = 0
)

var (
	// ErrNotConnected is returned by Command when the client has no live
	// connection and reconnection has not yet succeeded.
	ErrNotConnected = errors.New("rcon: not connected")
	// ErrAuthFailed is returned when the simulation rejects the configured
	// password.
	ErrAuthFailed = errors.New("rcon: authentication failed")
)

// Client is a single, reconnecting RCON connection to the simulation. It is
// safe for concurrent use: Command serializes requests onto the wire, reads
// one response per request and rejects a response whose id does not match.
type Client struct {
	cfg    agcore.RCONConfig
	logger agcore.Logger
	cb     agcore.CircuitBreaker

	mu      sync.Mutex
	conn    net.Conn
	reqID   int32
	closed  atomic.Bool
}

// New builds a Client without dialing. The connection is opened and
// authenticated lazily by EnsureConnected, which Command calls internally.
func New(cfg agcore.RCONConfig, logger agcore.Logger) *Client {
	if logger == nil {
		logger = agcore.NoOpLogger{}
	}
	c := &Client{
		cfg:    cfg,
		logger: logger,
		cb:     agcore.NewThresholdBreaker("rcon", agcore.DefaultCircuitBreakerConfig(), logger),
	}
	return c
}

// EnsureConnected dials and authenticates if not already connected,
// retrying with exponential backoff (ported from the teacher's use of
// cenkalti/backoff for registry reconnects) up to cfg.MaxReconnect attempts
// (0 means unbounded).
func (c *Client) EnsureConnected(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	operation := func() (struct{}, error) {
		conn, err := net.DialTimeout("tcp", c.cfg.Address, c.cfg.DialTimeout)
		if err != nil {
			return struct{}{}, err
		}
		if err := authenticate(conn, c.cfg.Password); err != nil {
			conn.Close()
			return struct{}{}, backoff.Permanent(err)
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		return struct{}{}, nil
	}

	bo := backoff.NewExponentialBackOff()
	opts := []backoff.RetryOption{backoff.WithBackOff(bo)}
	if c.cfg.MaxReconnect > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(c.cfg.MaxReconnect)))
	}
	_, err := backoff.Retry(ctx, operation, opts...)
	if err != nil {
		c.logger.Error("rcon: connect failed", map[string]interface{}{"address": c.cfg.Address, "error": err.Error()})
		return err
	}
	c.logger.Info("rcon: connected", map[string]interface{}{"address": c.cfg.Address})
	return nil
}

func authenticate(conn net.Conn, password string) error {
	id := int32(1)
	if err := writePacket(conn, id, typeAuth, password); err != nil {
		return err
	}
	// The simulation may send an empty typeResponse packet before the auth
	// response; drain until we see typeAuthResponse.
	for i := 0; i < 2; i++ {
		respID, respType, _, err := readPacket(conn)
		if err != nil {
			return err
		}
		if respType == typeAuthResponse {
			if respID == -1 {
				return ErrAuthFailed
			}
			return nil
		}
	}
	return ErrAuthFailed
}

// Command sends one command string and returns its response body. It
// connects first if no connection is open. A write or read failure closes
// the connection and is returned to the caller; the next Command
// reconnects. Calls go through the circuit breaker so a persistently
// unreachable simulation fails fast rather than retrying forever inside a
// single tick.
func (c *Client) Command(ctx context.Context, cmd string) (string, error) {
	if c.closed.Load() {
		return "", ErrNotConnected
	}

	var result string
	err := c.cb.ExecuteWithTimeout(ctx, c.cfg.CommandTimeout, func() error {
		if err := c.EnsureConnected(ctx); err != nil {
			return err
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		id := atomic.AddInt32(&c.reqID, 1)
		if err := writePacket(c.conn, id, typeCommand, cmd); err != nil {
			c.conn.Close()
			c.conn = nil
			return err
		}
		respID, _, body, err := readPacket(c.conn)
		if err != nil {
			c.conn.Close()
			c.conn = nil
			return err
		}
		if respID != id {
			return fmt.Errorf("rcon: response id mismatch: got %d want %d", respID, id)
		}
		result = body
		return nil
	})
	return result, err
}

// Close shuts down the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.closed.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func writePacket(conn net.Conn, id, ptype int32, body string) error {
	payload := append([]byte(body), 0, 0)
	size := int32(4 + 4 + len(payload))
	buf := make([]byte, 0, 4+size)
	buf = appendInt32(buf, size)
	buf = appendInt32(buf, id)
	buf = appendInt32(buf, ptype)
	buf = append(buf, payload...)
	_, err := conn.Write(buf)
	return err
}

func readPacket(conn net.Conn) (id, ptype int32, body string, err error) {
	r := bufio.NewReader(conn)
	var sizeBuf [4]byte
	if _, err = readFull(r, sizeBuf[:]); err != nil {
		return
	}
	size := int32(binary.LittleEndian.Uint32(sizeBuf[:]))
	if size < 10 || size > 1<<20 {
		err = fmt.Errorf("rcon: invalid packet size %d", size)
		return
	}
	rest := make([]byte, size)
	if _, err = readFull(r, rest); err != nil {
		return
	}
	id = int32(binary.LittleEndian.Uint32(rest[0:4]))
	ptype = int32(binary.LittleEndian.Uint32(rest[4:8]))
	body = string(rest[8 : len(rest)-2])
	return
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func appendInt32(buf []byte, v int32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	return append(buf, tmp[:]...)
}
