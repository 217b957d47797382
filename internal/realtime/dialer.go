// Package realtime establishes and pumps the model leg: a websocket to the
// conversational voice-AI backend.
package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/trunkline/internal/reliability"
	"github.com/ent0n29/trunkline/internal/transport"
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Dialer opens model-leg connections carrying the bearer credential and the
// beta-feature header in the handshake request.
type Dialer struct {
	cfg Config
}

func NewDialer(cfg Config) *Dialer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "wss://api.openai.com/v1/realtime"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-realtime-preview"
	}
	return &Dialer{cfg: cfg}
}

// Conn is a model-leg socket. The socket may already be open at the moment
// of acceptance: Ready reports that synchronously, and OnOpen registers a
// fallback callback for runtimes that surface an explicit open event.
type Conn struct {
	*transport.WSConn

	openMu   sync.Mutex
	open     bool
	onOpen   []func()
	pumpOnce sync.Once
}

func (d *Dialer) Dial(ctx context.Context) (*Conn, error) {
	conn, _, err := d.dial(ctx)
	return conn, err
}

// DialWithRetry retries transient handshake rejections with capped
// exponential backoff. Non-retryable rejections (bad credential, bad
// request) fail immediately.
func (d *Dialer) DialWithRetry(ctx context.Context, maxAttempts int) (*Conn, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := reliability.ExponentialBackoff(attempt-1, 250*time.Millisecond, 2*time.Second)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		conn, status, err := d.dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if status != 0 && !reliability.IsRetryableHTTPStatus(status) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (d *Dialer) dial(ctx context.Context) (*Conn, int, error) {
	u, err := url.Parse(d.cfg.BaseURL)
	if err != nil {
		return nil, 0, fmt.Errorf("model url: %w", err)
	}
	q := u.Query()
	q.Set("model", d.cfg.Model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+d.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, resp.StatusCode, fmt.Errorf("dial model (status %d): %w", resp.StatusCode, err)
		}
		return nil, 0, fmt.Errorf("dial model: %w", err)
	}

	c := &Conn{WSConn: transport.NewWSConn(ws)}
	// A successfully dialed socket is open at acceptance; no separate open
	// event will fire for it.
	c.markOpen()
	return c, 0, nil
}

// Ready reports synchronously whether the socket is live.
func (c *Conn) Ready() bool {
	c.openMu.Lock()
	defer c.openMu.Unlock()
	return c.open && !c.Closed()
}

// OnOpen runs fn once the socket is open. If it already is, fn runs
// immediately on the calling goroutine.
func (c *Conn) OnOpen(fn func()) {
	c.openMu.Lock()
	if c.open {
		c.openMu.Unlock()
		fn()
		return
	}
	c.onOpen = append(c.onOpen, fn)
	c.openMu.Unlock()
}

func (c *Conn) markOpen() {
	c.openMu.Lock()
	if c.open {
		c.openMu.Unlock()
		return
	}
	c.open = true
	pending := c.onOpen
	c.onOpen = nil
	c.openMu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

// ReadPump delivers inbound frames to onMessage until the socket fails or
// closes, then reports the terminal error to onClose. It starts at most
// one pump per connection.
func (c *Conn) ReadPump(onMessage func(raw []byte), onClose func(err error)) {
	c.pumpOnce.Do(func() {
		go func() {
			for {
				data, err := c.ReadMessage()
				if err != nil {
					_ = c.Close()
					if onClose != nil {
						onClose(err)
					}
					return
				}
				onMessage(data)
			}
		}()
	})
}
