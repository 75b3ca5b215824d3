package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"procpanel/internal/models"
)

// codeConnectionLost never crosses the wire; it marks calls failed locally.
const codeConnectionLost = "connection_lost"

// Client is a single control connection to the supervisor. It is safe for
// concurrent use: writes are serialized and a read loop routes responses
// back to callers by request id.
type Client struct {
	conn net.Conn

	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan Response
	err     error

	done chan struct{}
}

// Dial connects to the supervisor and verifies it answers a ping.
func Dial(ctx context.Context, network, address string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial supervisor %s: %w", address, err)
	}

	c := NewClient(conn)
	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("ping supervisor: %w", err)
	}
	return c, nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		enc:     json.NewEncoder(conn),
		pending: make(map[uint64]chan Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Done is closed once the connection is no longer usable.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection was lost, or nil while it is healthy.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	err := c.conn.Close()
	c.fail(ErrConnectionLost)
	return err
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)

	for scanner.Scan() {
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			c.fail(fmt.Errorf("%w: malformed response: %v", ErrConnectionLost, err))
			c.conn.Close()
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()

		if ok {
			ch <- resp
		}
	}

	if err := scanner.Err(); err != nil {
		c.fail(fmt.Errorf("%w: %v", ErrConnectionLost, err))
		return
	}
	c.fail(ErrConnectionLost)
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return
	}
	c.err = err
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- Response{ID: id, Error: &ErrorPayload{Code: codeConnectionLost, Message: err.Error()}}
	}
	close(c.done)
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	req := Request{Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return err
		}
		req.Params = raw
	}

	ch := make(chan Response, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.nextID++
	req.ID = c.nextID
	c.pending[req.ID] = ch
	c.mu.Unlock()

	if err := c.write(ctx, req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return err
	}

	select {
	case resp := <-ch:
		return decodeResponse(resp, c.Err(), out)
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return ctx.Err()
	}
}

func (c *Client) write(ctx context.Context, req Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	c.conn.SetWriteDeadline(deadline)

	if err := c.enc.Encode(req); err != nil {
		err = fmt.Errorf("%w: %v", ErrConnectionLost, err)
		c.fail(err)
		c.conn.Close()
		return err
	}
	return nil
}

func decodeResponse(resp Response, connErr error, out any) error {
	if resp.Error != nil {
		if resp.Error.Code == codeConnectionLost && connErr != nil {
			return connErr
		}
		return &RemoteError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode supervisor response: %w", err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	var pong string
	return c.call(ctx, MethodPing, nil, &pong)
}

func (c *Client) List(ctx context.Context) ([]models.Process, error) {
	var processes []models.Process
	if err := c.call(ctx, MethodList, nil, &processes); err != nil {
		return nil, err
	}
	return processes, nil
}

func (c *Client) Start(ctx context.Context, spec models.StartSpec) ([]models.Process, error) {
	var started []models.Process
	if err := c.call(ctx, MethodStart, spec, &started); err != nil {
		return nil, err
	}
	return started, nil
}

func (c *Client) Restart(ctx context.Context, target string) error {
	return c.call(ctx, MethodRestart, TargetParams{Target: target}, nil)
}

func (c *Client) Stop(ctx context.Context, target string) error {
	return c.call(ctx, MethodStop, TargetParams{Target: target}, nil)
}

func (c *Client) Delete(ctx context.Context, target string) error {
	return c.call(ctx, MethodDelete, TargetParams{Target: target}, nil)
}

func (c *Client) Describe(ctx context.Context, target string) (models.ProcessDetail, error) {
	var detail models.ProcessDetail
	err := c.call(ctx, MethodDescribe, TargetParams{Target: target}, &detail)
	return detail, err
}
