package orderbook

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

var (
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrInvalidTransition = errors.New("invalid order state transition")
)

const defaultHistory = 200

// Trigger is a pending order whose condition was met at the tick price.
type Trigger struct {
	Order schema.Order
	Price decimal.Decimal
}

// Book holds pending orders in submission order and the recent terminal ones.
type Book struct {
	pending []*schema.Order
	orders  map[string]*schema.Order
	history []*schema.Order
	keep    int
	seq     uint64
}

// NewBook creates an empty book keeping up to keep terminal orders.
func NewBook(keep int) *Book {
	if keep <= 0 {
		keep = defaultHistory
	}
	return &Book{
		orders: make(map[string]*schema.Order),
		keep:   keep,
	}
}

// Submit validates an order and appends it to the pending queue.
func (b *Book) Submit(o schema.Order) (schema.Order, error) {
	if err := Validate(o); err != nil {
		return schema.Order{}, err
	}
	if o.ID == "" {
		b.seq++
		o.ID = "ord-" + strconv.FormatUint(b.seq, 10)
	}
	if _, ok := b.orders[o.ID]; ok {
		return schema.Order{}, ErrDuplicateOrder
	}
	if o.Leverage < 1 {
		o.Leverage = 1
	}
	o.Status = schema.OrderStatusPending
	o.StopTriggered = false
	stored := o
	b.pending = append(b.pending, &stored)
	b.orders[stored.ID] = &stored
	return stored, nil
}

// Validate checks the order shape independent of market state.
func Validate(o schema.Order) error {
	if o.Symbol == "" {
		return errors.Wrap(exception.ErrInvalidInput, "empty symbol")
	}
	if o.Side != schema.SideLong && o.Side != schema.SideShort {
		return errors.Wrap(exception.ErrInvalidInput, "unknown side")
	}
	if !o.Size.IsPositive() {
		return errors.Wrap(exception.ErrInvalidInput, "size must be > 0")
	}
	switch o.Kind {
	case schema.OrderKindMarket:
	case schema.OrderKindLimit:
		if !positive(o.LimitPrice) {
			return errors.Wrap(exception.ErrInvalidInput, "limit price must be > 0")
		}
	case schema.OrderKindStop:
		if !positive(o.StopPrice) {
			return errors.Wrap(exception.ErrInvalidInput, "stop price must be > 0")
		}
	case schema.OrderKindStopLimit:
		if !positive(o.LimitPrice) || !positive(o.StopPrice) {
			return errors.Wrap(exception.ErrInvalidInput, "stop and limit prices must be > 0")
		}
	default:
		return errors.Wrap(exception.ErrInvalidInput, "unknown order kind")
	}
	return nil
}

// Cancel moves a pending order to cancelled.
func (b *Book) Cancel(id, reason string, now time.Time) (schema.Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return schema.Order{}, exception.ErrOrderNotFound
	}
	if isTerminal(o.Status) {
		return *o, ErrInvalidTransition
	}
	b.finish(o, schema.OrderStatusCancelled, now)
	o.Reason = reason
	return *o, nil
}

// Evaluate walks the pending queue in FIFO order and returns the orders that trigger.
// The STOP_LIMIT stop phase is recorded on the order even when the limit leg is not yet met.
func (b *Book) Evaluate(priceOf func(symbol string) (decimal.Decimal, bool)) []Trigger {
	var out []Trigger
	for _, o := range b.pending {
		price, ok := priceOf(o.Symbol)
		if !ok {
			continue
		}
		if shouldFill(o, price) {
			out = append(out, Trigger{Order: *o, Price: price})
		}
	}
	return out
}

// MarkFilled moves a pending order to filled.
func (b *Book) MarkFilled(id string, price decimal.Decimal, positionID string, now time.Time) (schema.Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return schema.Order{}, exception.ErrOrderNotFound
	}
	if isTerminal(o.Status) {
		return *o, ErrInvalidTransition
	}
	o.FillPrice = price
	o.PositionID = positionID
	b.finish(o, schema.OrderStatusFilled, now)
	return *o, nil
}

// Pending returns copies of pending orders in FIFO order.
func (b *Book) Pending() []schema.Order {
	out := make([]schema.Order, 0, len(b.pending))
	for _, o := range b.pending {
		out = append(out, *o)
	}
	return out
}

// History returns up to limit terminal orders, newest first.
func (b *Book) History(limit int) []schema.Order {
	n := len(b.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]schema.Order, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, *b.history[i])
	}
	return out
}

// Order returns an order by ID.
func (b *Book) Order(id string) (schema.Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return schema.Order{}, false
	}
	return *o, true
}

func (b *Book) finish(o *schema.Order, status schema.OrderStatus, now time.Time) {
	o.Status = status
	o.ClosedAt = now
	for i, p := range b.pending {
		if p == o {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			break
		}
	}
	b.history = append(b.history, o)
	if len(b.history) > b.keep {
		drop := b.history[0]
		b.history = b.history[1:]
		delete(b.orders, drop.ID)
	}
}

func shouldFill(o *schema.Order, price decimal.Decimal) bool {
	switch o.Kind {
	case schema.OrderKindMarket:
		return true
	case schema.OrderKindLimit:
		return limitHit(o.Side, price, *o.LimitPrice)
	case schema.OrderKindStop:
		return stopHit(o.Side, price, *o.StopPrice)
	case schema.OrderKindStopLimit:
		if !o.StopTriggered {
			if !stopHit(o.Side, price, *o.StopPrice) {
				return false
			}
			o.StopTriggered = true
		}
		return limitHit(o.Side, price, *o.LimitPrice)
	default:
		return false
	}
}

func limitHit(side schema.Side, price, limit decimal.Decimal) bool {
	if side == schema.SideLong {
		return price.LessThanOrEqual(limit)
	}
	return price.GreaterThanOrEqual(limit)
}

func stopHit(side schema.Side, price, stop decimal.Decimal) bool {
	if side == schema.SideLong {
		return price.GreaterThanOrEqual(stop)
	}
	return price.LessThanOrEqual(stop)
}

func isTerminal(status schema.OrderStatus) bool {
	switch status {
	case schema.OrderStatusFilled, schema.OrderStatusCancelled:
		return true
	default:
		return false
	}
}

func positive(p *decimal.Decimal) bool {
	return p != nil && p.IsPositive()
}

// State is the serialisable form of the book.
type State struct {
	Pending []schema.Order `json:"pending"`
	History []schema.Order `json:"history"`
	Seq     uint64         `json:"seq"`
}

// Export captures the book for snapshotting.
func (b *Book) Export() State {
	hist := make([]schema.Order, 0, len(b.history))
	for _, o := range b.history {
		hist = append(hist, *o)
	}
	return State{Pending: b.Pending(), History: hist, Seq: b.seq}
}

// Restore replaces the book contents.
func (b *Book) Restore(st State) {
	b.pending = nil
	b.history = nil
	b.orders = make(map[string]*schema.Order, len(st.Pending)+len(st.History))
	for _, o := range st.History {
		c := o
		b.history = append(b.history, &c)
		b.orders[c.ID] = &c
	}
	for _, o := range st.Pending {
		c := o
		b.pending = append(b.pending, &c)
		b.orders[c.ID] = &c
	}
	b.seq = st.Seq
}
