package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamConfig holds trade-update stream settings.
type StreamConfig struct {
	URL              string
	APIKey           string
	APISecret        string
	MaxReconnects    int
	ReconnectBackoff time.Duration
	HandshakeTimeout time.Duration
}

// DefaultStreamConfig returns the standard stream settings.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		URL:              "wss://paper-api.alpaca.markets/stream",
		MaxReconnects:    10,
		ReconnectBackoff: 2 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// TradeStream keeps a websocket open to the broker's trade-update feed and
// pushes each order event into the lifecycle manager. The poll loop remains
// the source of truth; the stream only makes transitions faster.
type TradeStream struct {
	config  StreamConfig
	manager *Manager
	logger  *zap.Logger
	dialer  *websocket.Dialer

	mu                sync.Mutex
	conn              *websocket.Conn
	connected         bool
	reconnectAttempts int

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewTradeStream wires a stream to its manager.
func NewTradeStream(config StreamConfig, manager *Manager, logger *zap.Logger) *TradeStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradeStream{
		config:  config,
		manager: manager,
		logger:  logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
		},
		stopCh: make(chan struct{}),
	}
}

// Start connects and begins reading. The read loop reconnects on failure up
// to MaxReconnects consecutive times.
func (s *TradeStream) Start(ctx context.Context) error {
	if err := s.connect(); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.readLoop(ctx)
	return nil
}

// Stop closes the connection and waits for the read loop.
func (s *TradeStream) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

type authMessage struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type listenMessage struct {
	Action string `json:"action"`
	Data   struct {
		Streams []string `json:"streams"`
	} `json:"data"`
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tradeUpdate struct {
	Event string        `json:"event"`
	Order orderResponse `json:"order"`
}

func (s *TradeStream) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}

	conn, _, err := s.dialer.Dial(s.config.URL, nil)
	if err != nil {
		return fmt.Errorf("stream: dial %s: %w", s.config.URL, err)
	}

	auth := authMessage{Action: "auth", Key: s.config.APIKey, Secret: s.config.APISecret}
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return fmt.Errorf("stream: auth: %w", err)
	}
	listen := listenMessage{Action: "listen"}
	listen.Data.Streams = []string{"trade_updates"}
	if err := conn.WriteJSON(listen); err != nil {
		conn.Close()
		return fmt.Errorf("stream: subscribe: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.reconnectAttempts = 0
	s.logger.Info("trade update stream connected", zap.String("url", s.config.URL))
	return nil
}

func (s *TradeStream) reconnect() error {
	s.mu.Lock()
	if s.reconnectAttempts >= s.config.MaxReconnects {
		s.mu.Unlock()
		return fmt.Errorf("stream: max reconnect attempts reached (%d)", s.config.MaxReconnects)
	}
	s.reconnectAttempts++
	attempt := s.reconnectAttempts
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected = false
	s.mu.Unlock()

	s.logger.Warn("reconnecting trade update stream",
		zap.Int("attempt", attempt),
		zap.Int("max", s.config.MaxReconnects))
	time.Sleep(s.config.ReconnectBackoff * time.Duration(attempt))
	return s.connect()
}

func (s *TradeStream) readLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			if err := s.reconnect(); err != nil {
				s.logger.Error("trade update stream abandoned", zap.Error(err))
				return
			}
			continue
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.logger.Warn("trade update stream read failed", zap.Error(err))
			s.mu.Lock()
			s.connected = false
			s.conn = nil
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.handleMessage(raw)
	}
}

func (s *TradeStream) handleMessage(raw []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Debug("unparseable stream message", zap.Error(err))
		return
	}
	if env.Stream != "trade_updates" {
		return
	}
	var update tradeUpdate
	if err := json.Unmarshal(env.Data, &update); err != nil {
		s.logger.Debug("unparseable trade update", zap.Error(err))
		return
	}
	info := update.Order.toOrderInfo()
	s.logger.Debug("trade update",
		zap.String("event", update.Event),
		zap.String("order_id", info.ID),
		zap.String("status", info.Status))
	s.manager.HandleOrderUpdate(&info)
	for i := range info.Legs {
		s.manager.HandleOrderUpdate(&info.Legs[i])
	}
}
