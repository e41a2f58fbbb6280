package testutil

import (
	"context"
	"github.com/RaikyD/shop-orders-service/internal/domain"
	"github.com/google/uuid"
	"sort"
	"sync"
	"time"
)

// MemoryOrderRepo is an in-process order store with the same contract as the
// Postgres repository.
type MemoryOrderRepo struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]domain.Order
	numbers  map[string]uuid.UUID
	seq      int
	created  map[uuid.UUID]int
	Err      error // returned by every call when set
	Writes   int
	AddCalls int
}

func NewMemoryOrderRepo() *MemoryOrderRepo {
	return &MemoryOrderRepo{
		byID:    make(map[uuid.UUID]domain.Order),
		numbers: make(map[string]uuid.UUID),
		created: make(map[uuid.UUID]int),
	}
}

func (m *MemoryOrderRepo) AddOrder(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddCalls++
	if m.Err != nil {
		return m.Err
	}
	if _, dup := m.numbers[o.OrderNumber]; dup {
		return domain.ErrOrderNumberConflict
	}

	o.ID = uuid.New()
	for i := range o.Items {
		o.Items[i].ID = uuid.New()
		o.Items[i].OrderID = o.ID
	}
	m.byID[o.ID] = cloneOrder(*o)
	m.numbers[o.OrderNumber] = o.ID
	m.seq++
	m.created[o.ID] = m.seq
	m.Writes++
	return nil
}

func (m *MemoryOrderRepo) GetOrderById(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	o, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	c := cloneOrder(o)
	return &c, nil
}

func (m *MemoryOrderRepo) ListOrdersByCustomer(_ context.Context, customerID string, limit, offset int) ([]domain.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, 0, m.Err
	}

	var all []domain.Order
	for _, o := range m.byID {
		if o.CustomerID == customerID {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return m.created[all[i].ID] > m.created[all[j].ID]
	})

	total := len(all)
	out := []domain.Order{}
	for i := offset; i < total && i < offset+limit; i++ {
		out = append(out, cloneOrder(all[i]))
	}
	return out, total, nil
}

func (m *MemoryOrderRepo) UpdateOrderStatus(_ context.Context, id uuid.UUID, status domain.Status, at time.Time) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	o, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = at
	m.byID[id] = o
	m.Writes++
	c := cloneOrder(o)
	return &c, nil
}

func (m *MemoryOrderRepo) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Err
}

// Put stores o as is, bypassing creation. Useful to seed fixtures.
func (m *MemoryOrderRepo) Put(o domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[o.ID] = cloneOrder(o)
	m.numbers[o.OrderNumber] = o.ID
	m.seq++
	m.created[o.ID] = m.seq
}

func (m *MemoryOrderRepo) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Writes
}

func (m *MemoryOrderRepo) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

func cloneOrder(o domain.Order) domain.Order {
	items := make([]domain.OrderItem, len(o.Items))
	copy(items, o.Items)
	o.Items = items
	return o
}
