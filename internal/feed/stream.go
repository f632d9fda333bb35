package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/vigil/pkg/config"
	"github.com/wonny/vigil/pkg/logger"
)

const (
	reconnectDelay    = 5 * time.Second
	maxReconnectDelay = 5 * time.Minute

	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// streamMessage is the wire format of one tick from the price stream.
type streamMessage struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

type subscribeMessage struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// Stream consumes a websocket price feed and pushes ticks into the
// Feed. It reconnects with exponential backoff; while disconnected the
// feed's LastUpdate stops advancing, which the engine surfaces as
// staleness rather than silently serving old prices.
type Stream struct {
	cfg  config.FeedConfig
	feed *Feed
	log  *logger.Logger

	conn   *websocket.Conn
	connMu sync.RWMutex

	symbols   map[string]bool
	symbolsMu sync.RWMutex

	stopCh chan struct{}
	doneCh chan struct{}

	reconnecting bool
	reconnectMu  sync.Mutex
}

// NewStream creates a stream client for the given symbols.
func NewStream(cfg config.FeedConfig, f *Feed, symbols []string, log *logger.Logger) *Stream {
	active := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		active[sym] = true
	}
	return &Stream{
		cfg:     cfg,
		feed:    f,
		log:     log.WithComponent("stream"),
		symbols: active,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start connects and launches the read and ping loops.
func (s *Stream) Start(ctx context.Context) error {
	s.log.WithField("url", s.cfg.WSURL).Info("Starting price stream")

	if err := s.connect(ctx); err != nil {
		return fmt.Errorf("initial connection failed: %w", err)
	}

	go s.readLoop(ctx)
	go s.pingLoop(ctx)

	return nil
}

// Stop closes the connection and waits for the read loop to exit.
func (s *Stream) Stop() {
	s.log.Info("Stopping price stream")

	close(s.stopCh)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()

	<-s.doneCh
}

// Subscribe adds a symbol to the live subscription.
func (s *Stream) Subscribe(symbol string) error {
	s.symbolsMu.Lock()
	s.symbols[symbol] = true
	s.symbolsMu.Unlock()

	return s.sendSubscribe([]string{symbol})
}

func (s *Stream) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Publish the connection before subscribing: writeJSON takes connMu
	// itself, so the lock must not be held across the subscribe write.
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.log.Info("Connected to price stream")

	s.symbolsMu.RLock()
	symbols := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		symbols = append(symbols, sym)
	}
	s.symbolsMu.RUnlock()

	if err := s.writeJSON(subscribeMessage{Op: "subscribe", Symbols: symbols}); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}
	return nil
}

func (s *Stream) sendSubscribe(symbols []string) error {
	return s.writeJSON(subscribeMessage{Op: "subscribe", Symbols: symbols})
}

func (s *Stream) writeJSON(v interface{}) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *Stream) readLoop(ctx context.Context) {
	defer close(s.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()

		if conn == nil {
			time.Sleep(1 * time.Second)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.log.WithError(err).Error("Failed to read message")
			s.handleDisconnect(ctx)
			continue
		}

		if err := s.handleMessage(message); err != nil {
			s.log.WithError(err).Error("Failed to handle message")
		}
	}
}

func (s *Stream) handleMessage(message []byte) error {
	var msg streamMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	if msg.Symbol == "" || msg.Price <= 0 {
		return fmt.Errorf("invalid tick: symbol=%q price=%v", msg.Symbol, msg.Price)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	s.feed.ApplyTick(&PriceTick{
		Symbol:    msg.Symbol,
		Price:     msg.Price,
		Timestamp: msg.Timestamp,
		Source:    msg.Source,
	})
	return nil
}

func (s *Stream) handleDisconnect(ctx context.Context) {
	s.reconnectMu.Lock()
	if s.reconnecting {
		s.reconnectMu.Unlock()
		return
	}
	s.reconnecting = true
	s.reconnectMu.Unlock()

	defer func() {
		s.reconnectMu.Lock()
		s.reconnecting = false
		s.reconnectMu.Unlock()
	}()

	s.log.Warn("Stream disconnected, attempting to reconnect")

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(delay):
		}

		if err := s.connect(ctx); err != nil {
			s.log.WithError(err).WithField("delay", delay).Error("Reconnect failed, retrying")

			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}

		s.log.Info("Reconnected to price stream")
		return
	}
}

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.connMu.RLock()
			conn := s.conn
			s.connMu.RUnlock()

			if conn == nil {
				continue
			}

			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				s.log.WithError(err).Error("Failed to send ping")
			}
		}
	}
}
