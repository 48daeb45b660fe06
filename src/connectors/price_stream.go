package connectors

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const (
	streamDialTimeout    = 10 * time.Second
	streamReconnectDelay = 5 * time.Second
	// A cached price older than this is treated as unavailable rather than
	// fed into the trigger engine.
	streamMaxPriceAge = 2 * time.Minute
)

type cachedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// PriceStream keeps a last-price cache fed by the exchange websocket ticker
// channel. It satisfies PriceFeed from the cache, so a tick never waits on
// network I/O.
type PriceStream struct {
	url     string
	symbols []string
	now     func() time.Time

	mu     sync.RWMutex
	prices map[string]cachedPrice
}

func NewPriceStream(url string, symbols []string) *PriceStream {
	return &PriceStream{
		url:     url,
		symbols: symbols,
		now:     time.Now,
		prices:  map[string]cachedPrice{},
	}
}

type subscribeMsg struct {
	Method  string   `json:"method"`
	Symbols []string `json:"symbols"`
}

type tickMsg struct {
	Tick *struct {
		Symbol string      `json:"symbol"`
		Last   json.Number `json:"last"`
	} `json:"tick"`
}

// Run consumes the websocket until the context is canceled, reconnecting with
// a fixed delay on any failure.
func (s *PriceStream) Run(ctx context.Context) {
	for {
		if err := s.consume(ctx); err != nil {
			if ctx.Err() != nil {
				logger.Info("price stream stopped")
				return
			}
			logger.WithError(err).Warn("price stream disconnected, will reconnect")
		}

		select {
		case <-ctx.Done():
			logger.Info("price stream stopped")
			return
		case <-time.After(streamReconnectDelay):
		}
	}
}

func (s *PriceStream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: streamDialTimeout}

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMsg{Method: "tick.subscribe", Symbols: s.symbols}); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"component": "PriceStream",
		"url":       s.url,
		"symbols":   s.symbols,
	}).Info("price stream connected")

	// Unblock ReadMessage when the context ends.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg tickMsg
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Tick == nil {
			continue
		}

		price, err := decimal.NewFromString(msg.Tick.Last.String())
		if err != nil || !price.IsPositive() {
			continue
		}

		s.mu.Lock()
		s.prices[msg.Tick.Symbol] = cachedPrice{price: price, at: s.now()}
		s.mu.Unlock()
	}
}

// GetPrice serves the cached last price. Missing or stale entries surface as
// ErrPriceUnavailable.
func (s *PriceStream) GetPrice(ctx context.Context, symbol, marketType string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	s.mu.RLock()
	cached, ok := s.prices[symbol]
	s.mu.RUnlock()

	if !ok || s.now().Sub(cached.at) > streamMaxPriceAge {
		return decimal.Zero, ErrPriceUnavailable
	}

	return cached.price, nil
}
