package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"RegimePull/internal/domain/models"
	drepo "RegimePull/internal/domain/repository"

	"github.com/gorilla/websocket"
)

// Client implements a BarStream backed by a WebSocket candle feed. The feed
// pushes one frame per closed bar; partial (still-forming) bars are flagged
// and skipped so the engine only ever sees closed samples.
type Client struct {
	apiKey         string
	websocketURL   string
	instruments    []string
	timeframes     []string
	reconnectDelay time.Duration
	pingInterval   time.Duration

	conn      *websocket.Conn
	connected bool
}

// New creates a new WebSocket bar feed.
func New(apiKey, websocketURL string, instruments, timeframes []string, reconnectDelay, pingInterval time.Duration) drepo.BarStream {
	return &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		instruments:    instruments,
		timeframes:     timeframes,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := fmt.Sprintf("%s?token=%s", c.websocketURL, c.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	log.Printf("feed: connected")
	return nil
}

// Subscribe subscribes to every configured instrument/timeframe pair.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil || !c.connected {
		return fmt.Errorf("feed not connected")
	}
	for _, inst := range c.instruments {
		for _, tf := range c.timeframes {
			msg := map[string]string{"type": "subscribe", "symbol": inst, "resolution": tf}
			if err := c.conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("subscribe %s/%s: %w", inst, tf, err)
			}
			log.Printf("feed: subscribed %s %s", inst, tf)
		}
	}
	return nil
}

type wsBar struct {
	S      string  `json:"s"`
	TF     string  `json:"tf"`
	T      int64   `json:"t"` // close time, ms
	O      float64 `json:"o"`
	H      float64 `json:"h"`
	L      float64 `json:"l"`
	C      float64 `json:"c"`
	V      float64 `json:"v"`
	Lvl    float64 `json:"lvl,omitempty"`
	Closed bool    `json:"x"`
}

type wsFrame struct {
	Type string  `json:"type"`
	Data []wsBar `json:"data"`
}

// Read streams closed bars and errors.
func (c *Client) Read(ctx context.Context) (<-chan *models.Bar, <-chan error) {
	bars := make(chan *models.Bar, 1024)
	errs := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	go func() {
		defer close(bars)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if c.conn == nil {
				errs <- fmt.Errorf("feed conn nil")
				return
			}
			_, b, err := c.conn.ReadMessage()
			if err != nil {
				errs <- fmt.Errorf("feed read: %w", err)
				return
			}
			var m wsFrame
			if err := json.Unmarshal(b, &m); err != nil {
				// ignore non-bar frames
				continue
			}
			if m.Type != "bar" {
				continue
			}
			for _, d := range m.Data {
				if !d.Closed {
					continue
				}
				bar := &models.Bar{
					InstrumentID:    d.S,
					Timeframe:       d.TF,
					CloseTime:       time.UnixMilli(d.T).UTC(),
					Open:            d.O,
					High:            d.H,
					Low:             d.L,
					Close:           d.C,
					Volume:          d.V,
					StructuralLevel: d.Lvl,
				}
				select {
				case bars <- bar:
				default:
					// drop on backpressure; history replay will fill the gap
				}
			}
		}
	}()

	return bars, errs
}

// Reconnect closes and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	time.Sleep(c.reconnectDelay)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected }
