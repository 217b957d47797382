// Package transport abstracts one duplex message channel to a peer: the
// telephony leg, the model leg, or an observer leg. Receive and close
// notifications are pushed by the hosting read loop into the coordinator;
// the Conn itself only carries identity and the outbound path.
package transport

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("transport closed")

// Conn is a duplex byte-oriented message channel to one peer.
type Conn interface {
	ID() string
	Send(msg []byte) error
	Close() error
}

// WSConn wraps a websocket connection with a single-writer lock. Both
// server-accepted sockets (telephony/observer legs) and client-dialed
// sockets (model leg) use it.
type WSConn struct {
	id        string
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{
		id:     uuid.NewString(),
		conn:   conn,
		closed: make(chan struct{}),
	}
}

func (c *WSConn) ID() string { return c.id }

func (c *WSConn) Send(msg []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// Closed reports closure without blocking; the model-leg dialer uses it to
// decide whether a freshly accepted socket is already live.
func (c *WSConn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// ReadMessage exposes the underlying frame reader for the hosting read loop.
func (c *WSConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// PipeConn is an in-memory Conn for tests. Sends land on the peer's Recv
// channel; closing either end closes both.
type PipeConn struct {
	id        string
	peer      *PipeConn
	Recv      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

// Pair returns two connected in-memory conns.
func Pair() (*PipeConn, *PipeConn) {
	a := &PipeConn{id: uuid.NewString(), Recv: make(chan []byte, 64), closed: make(chan struct{})}
	b := &PipeConn{id: uuid.NewString(), Recv: make(chan []byte, 64), closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (c *PipeConn) ID() string { return c.id }

func (c *PipeConn) Send(msg []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.peer.Recv <- msg:
		return nil
	case <-c.closed:
		return ErrClosed
	}
}

func (c *PipeConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.peer.closeOnce.Do(func() { close(c.peer.closed) })
	})
	return nil
}
