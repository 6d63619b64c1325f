package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trendline-bot/risk"
)

// BrokerConfig holds REST connection settings for the brokerage API.
type BrokerConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// DefaultBrokerConfig returns paper-trading settings.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		BaseURL: "https://paper-api.alpaca.markets",
		Timeout: 10 * time.Second,
	}
}

// AlpacaBroker talks to the Alpaca trading REST API.
type AlpacaBroker struct {
	config     BrokerConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAlpacaBroker creates a REST broker client.
func NewAlpacaBroker(config BrokerConfig, logger *zap.Logger) *AlpacaBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &AlpacaBroker{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}
}

type takeProfitPayload struct {
	LimitPrice string `json:"limit_price"`
}

type stopLossPayload struct {
	StopPrice string `json:"stop_price"`
}

type orderPayload struct {
	Symbol        string             `json:"symbol"`
	Qty           string             `json:"qty"`
	Side          string             `json:"side"`
	Type          string             `json:"type"`
	TimeInForce   string             `json:"time_in_force"`
	OrderClass    string             `json:"order_class"`
	ClientOrderID string             `json:"client_order_id"`
	TakeProfit    *takeProfitPayload `json:"take_profit,omitempty"`
	StopLoss      *stopLossPayload   `json:"stop_loss,omitempty"`
}

type orderResponse struct {
	ID             string          `json:"id"`
	ClientOrderID  string          `json:"client_order_id"`
	Status         string          `json:"status"`
	Type           string          `json:"type"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Legs           []orderResponse `json:"legs"`
}

type positionResponse struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
}

type accountResponse struct {
	Equity decimal.Decimal `json:"equity"`
	Cash   decimal.Decimal `json:"cash"`
}

// SubmitBracket places a market entry with attached take-profit and stop-loss
// legs.
func (b *AlpacaBroker) SubmitBracket(ctx context.Context, req BracketRequest) (*OrderInfo, error) {
	payload := orderPayload{
		Symbol:        req.Symbol,
		Qty:           strconv.FormatInt(req.Quantity, 10),
		Side:          req.Side,
		Type:          "market",
		TimeInForce:   "day",
		OrderClass:    "bracket",
		ClientOrderID: req.ClientOrderID,
		TakeProfit:    &takeProfitPayload{LimitPrice: req.TakeProfit.StringFixed(2)},
		StopLoss:      &stopLossPayload{StopPrice: req.StopLoss.StringFixed(2)},
	}
	var resp orderResponse
	if err := b.do(ctx, http.MethodPost, "/v2/orders", payload, &resp); err != nil {
		return nil, err
	}
	info := resp.toOrderInfo()
	return &info, nil
}

// OrderStatus fetches an order with its bracket legs.
func (b *AlpacaBroker) OrderStatus(ctx context.Context, orderID string) (*OrderInfo, error) {
	var resp orderResponse
	if err := b.do(ctx, http.MethodGet, "/v2/orders/"+orderID+"?nested=true", nil, &resp); err != nil {
		return nil, err
	}
	info := resp.toOrderInfo()
	return &info, nil
}

// OpenPositions lists positions currently held at the broker.
func (b *AlpacaBroker) OpenPositions(ctx context.Context) ([]Position, error) {
	var resp []positionResponse
	if err := b.do(ctx, http.MethodGet, "/v2/positions", nil, &resp); err != nil {
		return nil, err
	}
	positions := make([]Position, 0, len(resp))
	for _, p := range resp {
		positions = append(positions, Position{
			Symbol:        p.Symbol,
			Quantity:      p.Qty.IntPart(),
			AvgEntryPrice: p.AvgEntryPrice,
		})
	}
	return positions, nil
}

// CancelOrder cancels a working order.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) error {
	return b.do(ctx, http.MethodDelete, "/v2/orders/"+orderID, nil, nil)
}

// AccountSnapshot reads current equity and cash.
func (b *AlpacaBroker) AccountSnapshot(ctx context.Context) (risk.Account, error) {
	var resp accountResponse
	if err := b.do(ctx, http.MethodGet, "/v2/account", nil, &resp); err != nil {
		return risk.Account{}, err
	}
	return risk.Account{Equity: resp.Equity, Cash: resp.Cash}, nil
}

func (r orderResponse) toOrderInfo() OrderInfo {
	info := OrderInfo{
		ID:             r.ID,
		ClientOrderID:  r.ClientOrderID,
		Status:         r.Status,
		FilledQty:      r.FilledQty.IntPart(),
		FilledAvgPrice: r.FilledAvgPrice,
		UpdatedAt:      r.UpdatedAt,
		LegKind:        legKindForType(r.Type),
	}
	for _, leg := range r.Legs {
		info.Legs = append(info.Legs, leg.toOrderInfo())
	}
	return info
}

func legKindForType(orderType string) OrderLegKind {
	switch orderType {
	case "limit":
		return LegTarget
	case "stop", "stop_limit":
		return LegStop
	default:
		return LegEntry
	}
}

func (b *AlpacaBroker) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("broker: encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("broker: build request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", b.config.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", b.config.APISecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("broker: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("broker: %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("broker: decode response: %w", err)
	}
	return nil
}
