// Package orders implements order admission and the per-bar matching state
// machine used by the simulator.
package orders

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"stockanalyzer/internal/domain"
)

const qtyEpsilon = 1e-9

// ErrInvalidOrder is wrapped by every admission failure.
var ErrInvalidOrder = errors.New("invalid order")

// ValidationError explains why Submit rejected an order.
type ValidationError struct {
	OrderID string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order %s rejected: %s", e.OrderID, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidOrder }

// ExecuteFunc settles a proposed fill, typically by pricing it and booking it
// in a ledger. It returns the fills actually executed; their quantities must
// not exceed the proposed quantity. A non-nil error stops the order.
type ExecuteFunc func(order domain.Order, proposed domain.Fill) ([]domain.Fill, error)

// Option configures a Manager.
type Option func(*Manager)

// WithVolumeParticipation caps each limit fill at frac of the bar volume.
// Zero disables the cap.
func WithVolumeParticipation(frac float64) Option {
	return func(m *Manager) { m.participation = frac }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager owns every order of a run and the fills executed against them.
type Manager struct {
	mu            sync.Mutex
	seq           int
	prefix        string
	orders        map[string]*domain.Order
	sequence      []string
	rank          map[string]int
	fills         map[string][]domain.Fill
	allFills      []domain.Fill
	participation float64
	log           *slog.Logger
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		prefix: "ord",
		orders: make(map[string]*domain.Order),
		rank:   make(map[string]int),
		fills:  make(map[string][]domain.Fill),
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("component", "orders")
	return m
}

// Submit validates o, assigns it an id and stores a copy. Invalid orders are
// kept as rejected and a *ValidationError is returned along with the id.
func (m *Manager) Submit(o *domain.Order) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	ord := *o
	ord.ID = fmt.Sprintf("%s-%06d", m.prefix, m.seq)
	if ord.TimeInForce == "" {
		ord.TimeInForce = domain.TimeInForceDay
	}
	if ord.CreatedAt.IsZero() {
		ord.CreatedAt = time.Now().UTC()
	}
	if ord.ActivateAt.IsZero() {
		ord.ActivateAt = ord.CreatedAt
	}
	ord.UpdatedAt = ord.CreatedAt
	ord.FilledQty = 0
	ord.RemainingQty = ord.Qty
	ord.FilledAvgPrice = 0
	ord.Commission = 0
	ord.Slippage = 0

	m.orders[ord.ID] = &ord
	m.rank[ord.ID] = m.seq
	m.sequence = append(m.sequence, ord.ID)
	o.ID = ord.ID

	if reason := validate(&ord); reason != "" {
		ord.Status = domain.OrderStatusRejected
		ord.RejectReason = reason
		o.Status = ord.Status
		m.log.Debug("order rejected", "id", ord.ID, "symbol", ord.Symbol, "reason", reason)
		return ord.ID, &ValidationError{OrderID: ord.ID, Reason: reason}
	}
	ord.Status = domain.OrderStatusPending
	o.Status = ord.Status
	return ord.ID, nil
}

func validate(o *domain.Order) string {
	switch {
	case o.Symbol == "":
		return "missing symbol"
	case !(o.Qty > 0) || math.IsInf(o.Qty, 0):
		return "quantity must be positive"
	case !o.Side.Valid():
		return fmt.Sprintf("unknown side %q", o.Side)
	case !o.Type.Valid():
		return fmt.Sprintf("unknown order type %q", o.Type)
	case !o.TimeInForce.Valid():
		return fmt.Sprintf("unknown time in force %q", o.TimeInForce)
	}
	if (o.Type == domain.OrderTypeLimit || o.Type == domain.OrderTypeStopLimit) && !(o.LimitPrice > 0) {
		return "limit price required"
	}
	if (o.Type == domain.OrderTypeStop || o.Type == domain.OrderTypeStopLimit) && !(o.StopPrice > 0) {
		return "stop price required"
	}
	return ""
}

// Cancel cancels an active order at ts. It returns false for unknown or
// finished orders. A zero ts falls back to the order's last update.
func (m *Manager) Cancel(id string, ts time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || !o.Status.Active() {
		return false
	}
	if ts.IsZero() {
		ts = o.UpdatedAt
	}
	m.cancelLocked(o, ts, "cancelled")
	return true
}

// CancelAll cancels every active order at ts and returns them.
func (m *Manager) CancelAll(ts time.Time, reason string) []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, id := range m.sequence {
		o := m.orders[id]
		if o.Status.Active() {
			m.cancelLocked(o, ts, reason)
			out = append(out, *o)
		}
	}
	return out
}

// ExpireDayOrders cancels active day orders submitted on a session before
// date.
func (m *Manager) ExpireDayOrders(date time.Time) []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	today := sessionDay(date)
	var out []domain.Order
	for _, id := range m.sequence {
		o := m.orders[id]
		if !o.Status.Active() || o.TimeInForce != domain.TimeInForceDay {
			continue
		}
		if sessionDay(o.CreatedAt).Before(today) {
			m.cancelLocked(o, date, "day order expired")
			out = append(out, *o)
		}
	}
	return out
}

func (m *Manager) cancelLocked(o *domain.Order, ts time.Time, reason string) {
	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = ts
	t := ts
	o.CancelledAt = &t
	if reason != "" && o.RejectReason == "" && reason != "cancelled" {
		o.RejectReason = reason
	}
}

func sessionDay(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func (m *Manager) Get(id string) (domain.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Orders returns copies of all orders in submission order.
func (m *Manager) Orders() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Order, 0, len(m.sequence))
	for _, id := range m.sequence {
		out = append(out, *m.orders[id])
	}
	return out
}

// Active returns copies of pending and partially filled orders.
func (m *Manager) Active() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, id := range m.sequence {
		if o := m.orders[id]; o.Status.Active() {
			out = append(out, *o)
		}
	}
	return out
}

func (m *Manager) Fills(id string) []domain.Fill {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.fills[id]
	out := make([]domain.Fill, len(f))
	copy(out, f)
	return out
}

// AllFills returns every executed fill in execution order.
func (m *Manager) AllFills() []domain.Fill {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Fill, len(m.allFills))
	copy(out, m.allFills)
	return out
}

// CheckConservation verifies filled + remaining == requested for every order.
func (m *Manager) CheckConservation() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.sequence {
		o := m.orders[id]
		if math.Abs(o.FilledQty+o.RemainingQty-o.Qty) > 1e-6 {
			return fmt.Errorf("order %s: filled %g + remaining %g != qty %g", o.ID, o.FilledQty, o.RemainingQty, o.Qty)
		}
	}
	return nil
}

// byPriority orders market before stop before limit, then by submission.
func (m *Manager) byPriority(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		pi, pj := priority(m.orders[ids[i]].Type), priority(m.orders[ids[j]].Type)
		if pi != pj {
			return pi < pj
		}
		return m.rank[ids[i]] < m.rank[ids[j]]
	})
}

func priority(t domain.OrderType) int {
	switch t {
	case domain.OrderTypeMarket:
		return 0
	case domain.OrderTypeStop, domain.OrderTypeStopLimit:
		return 1
	default:
		return 2
	}
}
