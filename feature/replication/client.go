package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"perishable-ledger/core/command"
	"perishable-ledger/core/protocol"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned for requests on a closed client.
	ErrClosed = errors.New("replication client closed")
	// ErrNotPrivileged is returned before sending when the server did not grant admin.
	ErrNotPrivileged = command.ErrNotPrivileged
)

// ClientOptions configures Dial.
type ClientOptions struct {
	Name  string
	Token string
	// Resolver maps server entity handles to local ones. Nil keeps them as sent.
	Resolver protocol.EntityResolver
	// OnMessage, when set, is called after each server message is applied.
	OnMessage func(m protocol.Message, err error)
	Logger    *zap.Logger
}

// Client is a replica connected to a hub.
type Client struct {
	conn    *websocket.Conn
	replica *protocol.Replica
	table   *protocol.Table[*protocol.Replica]
	opts    ClientOptions
	logger  *zap.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]chan *protocol.CommandResponse
	synced  chan struct{}
	done    chan struct{}
	err     error
}

// Dial connects to a hub's WebSocket URL and sends Hello.
func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	conn.SetReadLimit(maxFrameSize)

	c := &Client{
		conn:    conn,
		replica: protocol.NewReplica(opts.Resolver),
		table:   protocol.ReplicaTable(),
		opts:    opts,
		logger:  opts.Logger,
		pending: make(map[uint32]chan *protocol.CommandResponse),
		synced:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	if err := c.send(&protocol.Hello{Name: opts.Name, Token: opts.Token}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

// Replica returns the local copy kept in sync with the server.
func (c *Client) Replica() *protocol.Replica {
	return c.replica
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended, if it has.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// WaitSynced blocks until the first full sync has been applied.
func (c *Client) WaitSynced(ctx context.Context) error {
	select {
	case <-c.synced:
		return nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute sends a command and waits for its response.
func (c *Client) Execute(ctx context.Context, cmd command.Command) (*protocol.CommandResponse, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: nil command", command.ErrUnknownAction)
	}
	if change, ok := cmd.(command.ChangeSettings); ok {
		return c.ChangeSettings(ctx, change)
	}
	return c.request(ctx, func(id uint32) protocol.Message {
		return &protocol.CommandRequest{RequestID: id, Command: cmd}
	})
}

// ChangeSettings sends a settings change and waits for its response.
func (c *Client) ChangeSettings(ctx context.Context, change command.ChangeSettings) (*protocol.CommandResponse, error) {
	return c.request(ctx, func(id uint32) protocol.Message {
		return &protocol.SettingsChangeRequest{RequestID: id, Change: change}
	})
}

func (c *Client) request(ctx context.Context, build func(id uint32) protocol.Message) (*protocol.CommandResponse, error) {
	if err := c.WaitSynced(ctx); err != nil {
		return nil, err
	}
	if !c.replica.Admin() {
		return nil, ErrNotPrivileged
	}

	id := c.nextID.Add(1)
	ch := make(chan *protocol.CommandResponse, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(build(id)); err != nil {
		return nil, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) send(m protocol.Message) error {
	frame, err := protocol.Marshal(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("failed to send %s: %w", m.Type(), err)
	}
	return nil
}

// Close ends the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.err == nil {
		c.err = ErrClosed
	}
	c.mu.Unlock()
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	var syncOnce sync.Once
	defer func() {
		c.mu.Lock()
		if c.err == nil {
			c.err = ErrClosed
		}
		c.mu.Unlock()
		close(c.done)
	}()
	for {
		msgType, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.err == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.err = err
			}
			c.mu.Unlock()
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		m, err := protocol.Unmarshal(frame)
		if err != nil {
			c.logger.Warn("Discarded server message", zap.Error(err))
			c.notify(nil, err)
			continue
		}
		if resp, ok := m.(*protocol.CommandResponse); ok {
			c.mu.Lock()
			ch, found := c.pending[resp.RequestID]
			c.mu.Unlock()
			if found {
				ch <- resp
			}
			c.notify(m, nil)
			continue
		}
		err = c.table.Dispatch(c.replica, m)
		if err != nil {
			c.logger.Warn("Failed to apply server message", zap.String("type", m.Type().String()), zap.Error(err))
		}
		if m.Type() == protocol.MsgFullSync {
			syncOnce.Do(func() { close(c.synced) })
		}
		c.notify(m, err)
	}
}

func (c *Client) notify(m protocol.Message, err error) {
	if c.opts.OnMessage != nil {
		c.opts.OnMessage(m, err)
	}
}
