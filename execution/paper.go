package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trendline-bot/risk"
)

// PaperBroker is an in-memory broker for dry runs and tests. Entries fill
// immediately at the requested mark price; exit legs fill when the mark is
// pushed through them via SetMark.
type PaperBroker struct {
	mu     sync.Mutex
	cash   decimal.Decimal
	equity decimal.Decimal
	orders map[string]*paperOrder
	marks  map[string]decimal.Decimal
}

type paperOrder struct {
	info   OrderInfo
	symbol string
	side   string
	qty    int64
	limit  decimal.Decimal // target leg trigger
	stop   decimal.Decimal // stop leg trigger
}

// NewPaperBroker creates a paper broker with the given starting cash.
func NewPaperBroker(startingCash decimal.Decimal) *PaperBroker {
	return &PaperBroker{
		cash:   startingCash,
		equity: startingCash,
		orders: make(map[string]*paperOrder),
		marks:  make(map[string]decimal.Decimal),
	}
}

// SetMark updates the simulated market price for a symbol and fills any exit
// leg the move crossed.
func (p *PaperBroker) SetMark(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[symbol] = price
	for _, o := range p.orders {
		if o.symbol != symbol || o.info.Status == "filled" || o.info.Status == "canceled" {
			continue
		}
		switch o.info.LegKind {
		case LegTarget:
			if crossed(o.side, price, o.limit, true) {
				o.info.Status = "filled"
				o.info.FilledQty = o.qty
				o.info.FilledAvgPrice = o.limit
			}
		case LegStop:
			if crossed(o.side, price, o.stop, false) {
				o.info.Status = "filled"
				o.info.FilledQty = o.qty
				o.info.FilledAvgPrice = o.stop
			}
		}
	}
}

// crossed reports whether the mark reached an exit trigger. The exit side is
// the opposite of the entry side: a long's target sells above, its stop sells
// below, mirrored for shorts.
func crossed(entrySide string, mark, trigger decimal.Decimal, favorable bool) bool {
	long := entrySide == "buy"
	if long == favorable {
		return mark.GreaterThanOrEqual(trigger)
	}
	return mark.LessThanOrEqual(trigger)
}

// SubmitBracket fills the entry at the current mark (or the stop midpoint if
// no mark is set) and registers both exit legs.
func (p *PaperBroker) SubmitBracket(_ context.Context, req BracketRequest) (*OrderInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mark, ok := p.marks[req.Symbol]
	if !ok {
		mark = req.TakeProfit.Add(req.StopLoss).Div(decimal.NewFromInt(2))
	}

	entry := &paperOrder{
		info: OrderInfo{
			ID:             uuid.New().String(),
			ClientOrderID:  req.ClientOrderID,
			Status:         "filled",
			FilledQty:      req.Quantity,
			FilledAvgPrice: mark,
			LegKind:        LegEntry,
		},
		symbol: req.Symbol,
		side:   req.Side,
		qty:    req.Quantity,
	}
	target := &paperOrder{
		info:   OrderInfo{ID: uuid.New().String(), Status: "new", LegKind: LegTarget},
		symbol: req.Symbol,
		side:   req.Side,
		qty:    req.Quantity,
		limit:  req.TakeProfit,
	}
	stop := &paperOrder{
		info:   OrderInfo{ID: uuid.New().String(), Status: "new", LegKind: LegStop},
		symbol: req.Symbol,
		side:   req.Side,
		qty:    req.Quantity,
		stop:   req.StopLoss,
	}
	entry.info.Legs = []OrderInfo{target.info, stop.info}

	p.orders[entry.info.ID] = entry
	p.orders[target.info.ID] = target
	p.orders[stop.info.ID] = stop
	return cloneWithLegs(entry, target, stop), nil
}

// OrderStatus returns the order; entry orders carry fresh leg snapshots.
func (p *PaperBroker) OrderStatus(_ context.Context, orderID string) (*OrderInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("paper: unknown order %s", orderID)
	}
	if o.info.LegKind != LegEntry {
		info := o.info
		return &info, nil
	}
	var legs []*paperOrder
	for _, legRef := range o.info.Legs {
		if lo, ok := p.orders[legRef.ID]; ok {
			legs = append(legs, lo)
		}
	}
	return cloneWithLegs(o, legs...), nil
}

// OpenPositions reports nothing: paper state lives entirely in the manager.
func (p *PaperBroker) OpenPositions(context.Context) ([]Position, error) {
	return nil, nil
}

// CancelOrder marks a working order canceled.
func (p *PaperBroker) CancelOrder(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper: unknown order %s", orderID)
	}
	if o.info.Status != "filled" {
		o.info.Status = "canceled"
	}
	return nil
}

// AccountSnapshot returns the static paper account.
func (p *PaperBroker) AccountSnapshot(context.Context) (risk.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return risk.Account{Equity: p.equity, Cash: p.cash}, nil
}

func cloneWithLegs(entry *paperOrder, legs ...*paperOrder) *OrderInfo {
	info := entry.info
	info.Legs = make([]OrderInfo, 0, len(legs))
	for _, l := range legs {
		info.Legs = append(info.Legs, l.info)
	}
	return &info
}
