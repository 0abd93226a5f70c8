package bridge

import (
	"context"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"codebox-relay/internal/types"
)

type MessageHandler func(*types.Message)

// Client is the consumer side of the bridge. Messages sent while it is
// disconnected are dropped.
type Client struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn

	writeMu sync.Mutex

	cbMu      sync.RWMutex
	callbacks []MessageHandler
}

func NewClient(host string, port int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		timeout: timeout,
	}
}

func (c *Client) OnMessage(cb MessageHandler) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect dials the bridge and starts the read loop. It is a no-op when
// already connected.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return err
	}
	c.conn = conn
	go c.listen(conn)
	return nil
}

// Run keeps the client connected until ctx is done, retrying every interval.
func (c *Client) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	wasUp := false
	for {
		if !c.Connected() {
			err := c.Connect()
			switch {
			case err == nil:
				log.Printf("bridge client: connected to %s", c.addr)
				wasUp = true
			case wasUp:
				log.Printf("bridge client: reconnect to %s failed: %v", c.addr, err)
				wasUp = false
			}
		}

		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-t.C:
		}
	}
}

func (c *Client) Send(msg *types.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := writeLine(conn, msg); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) listen(conn net.Conn) {
	err := readLines(conn, c.dispatch)
	if err != nil && !isClosedErr(err) {
		log.Printf("bridge client: read: %v", err)
	}
	_ = conn.Close()

	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	c.mu.Unlock()

	if current {
		c.dispatch(types.NewStatusMessage(types.StatusMap{"manager": {"Offline", "red"}}))
	}
}

func (c *Client) dispatch(msg *types.Message) {
	c.cbMu.RLock()
	callbacks := append([]MessageHandler(nil), c.callbacks...)
	c.cbMu.RUnlock()
	for _, cb := range callbacks {
		cb(msg)
	}
}
