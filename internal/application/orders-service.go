package application

import (
	"context"
	"errors"
	"github.com/RaikyD/shop-orders-service/internal/clock"
	"github.com/RaikyD/shop-orders-service/internal/domain"
	"github.com/RaikyD/shop-orders-service/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100

	orderNumberAttempts   = 3
	defaultPublishTimeout = 5 * time.Second
)

// EventPublisher hands lifecycle events to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.OrderEvent) error
}

// IdempotencyStore remembers which order a client supplied key produced.
// Reserve returns the stored value when the key is already taken.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (reserved bool, value string, err error)
	Complete(ctx context.Context, key, orderID string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type OrdersService struct {
	repo           repository.OrderRepo
	pub            EventPublisher
	idem           IdempotencyStore
	idemTTL        time.Duration
	clock          clock.Clock
	log            *zap.SugaredLogger
	publishTimeout time.Duration
	newNumber      func(time.Time) string

	inflight sync.WaitGroup
}

type Option func(*OrdersService)

func WithClock(c clock.Clock) Option {
	return func(s *OrdersService) { s.clock = c }
}

func WithPublishTimeout(d time.Duration) Option {
	return func(s *OrdersService) { s.publishTimeout = d }
}

func WithIdempotency(store IdempotencyStore, ttl time.Duration) Option {
	return func(s *OrdersService) {
		s.idem = store
		s.idemTTL = ttl
	}
}

func WithOrderNumbers(gen func(time.Time) string) Option {
	return func(s *OrdersService) { s.newNumber = gen }
}

func NewOrdersService(r repository.OrderRepo, pub EventPublisher, log *zap.SugaredLogger, opts ...Option) *OrdersService {
	s := &OrdersService{
		repo:           r,
		pub:            pub,
		clock:          clock.NewSystem(),
		log:            log,
		publishTimeout: defaultPublishTimeout,
		newNumber:      NewOrderNumber,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateOrderItem struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

type CreateOrderInput struct {
	ShippingAddress string
	BillingAddress  string
	Currency        string
	Items           []CreateOrderItem
	IdempotencyKey  string
}

type CreateOrderResult struct {
	Order   *domain.Order
	Created bool
}

func (s *OrdersService) ListOrders(ctx context.Context, caller domain.Identity, page, pageSize int) (*domain.Page, error) {
	if page < 1 {
		return nil, domain.NewValidationError("page", "must be at least 1")
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, domain.NewValidationError("pageSize", "must be between 1 and 100")
	}

	orders, total, err := s.repo.ListOrdersByCustomer(ctx, caller.ID, pageSize, (page-1)*pageSize)
	if err != nil {
		s.log.Errorw("list orders failed", "customer_id", caller.ID, "err", err)
		return nil, err
	}
	return &domain.Page{
		Orders:     orders,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: domain.TotalPages(total, pageSize),
	}, nil
}

// GetOrder hides orders of other customers behind the same not-found error as
// missing ones.
func (s *OrdersService) GetOrder(ctx context.Context, caller domain.Identity, id uuid.UUID) (*domain.Order, error) {
	o, err := s.repo.GetOrderById(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) {
			s.log.Errorw("get order failed", "order_id", id, "err", err)
		}
		return nil, err
	}
	if !caller.CanSee(o) {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s *OrdersService) CreateOrder(ctx context.Context, caller domain.Identity, in CreateOrderInput) (CreateOrderResult, error) {
	if err := in.validate(); err != nil {
		return CreateOrderResult{}, err
	}

	idemKey := s.idempotencyKey(caller, in.IdempotencyKey)
	if idemKey != "" {
		res, done, err := s.replay(ctx, caller, idemKey)
		if err != nil || done {
			return res, err
		}
	}

	now := s.now()
	o := &domain.Order{
		CustomerID:      caller.ID,
		CustomerEmail:   caller.Email,
		Status:          domain.StatusPending,
		Currency:        normalizeCurrency(in.Currency),
		ShippingAddress: strings.TrimSpace(in.ShippingAddress),
		BillingAddress:  strings.TrimSpace(in.BillingAddress),
		CreatedAt:       now,
		UpdatedAt:       now,
		Items:           make([]domain.OrderItem, 0, len(in.Items)),
	}
	for _, it := range in.Items {
		o.Items = append(o.Items, domain.OrderItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	o.PriceItems()

	var err error
	for attempt := 1; attempt <= orderNumberAttempts; attempt++ {
		o.OrderNumber = s.newNumber(now)
		err = s.repo.AddOrder(ctx, o)
		if !errors.Is(err, domain.ErrOrderNumberConflict) {
			break
		}
		s.log.Warnw("order number collision, regenerating", "order_number", o.OrderNumber, "attempt", attempt)
	}
	if err != nil {
		s.log.Errorw("create order failed", "customer_id", caller.ID, "err", err)
		if idemKey != "" {
			s.releaseKey(ctx, idemKey)
		}
		return CreateOrderResult{}, err
	}

	if idemKey != "" {
		if err := s.idem.Complete(ctx, idemKey, o.ID.String(), s.idemTTL); err != nil {
			s.log.Warnw("idempotency complete failed", "key", idemKey, "order_id", o.ID, "err", err)
		}
	}

	s.log.Infow("order created", "order_id", o.ID, "order_number", o.OrderNumber, "total", o.TotalAmount.StringFixed(domain.MoneyScale))
	s.notify(ctx, domain.NewOrderEvent(domain.EventOrderCreated, o, "", now))
	return CreateOrderResult{Order: o, Created: true}, nil
}

// UpdateOrderStatus lets an admin move an order to any status, terminal ones
// included.
func (s *OrdersService) UpdateOrderStatus(ctx context.Context, caller domain.Identity, id uuid.UUID, status domain.Status) (*domain.Order, error) {
	if !caller.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	if !status.Valid() {
		return nil, domain.NewValidationError("status", "must be one of pending, processing, shipped, delivered, cancelled")
	}

	now := s.now()
	o, err := s.repo.UpdateOrderStatus(ctx, id, status, now)
	if err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) {
			s.log.Errorw("update order status failed", "order_id", id, "err", err)
		}
		return nil, err
	}

	s.log.Infow("order status updated", "order_id", o.ID, "status", o.Status, "by", caller.ID)
	s.notify(ctx, domain.NewOrderEvent(domain.EventOrderStatusChanged, o, "", now))
	return o, nil
}

func (s *OrdersService) CancelOrder(ctx context.Context, caller domain.Identity, id uuid.UUID) (*domain.Order, error) {
	current, err := s.GetOrder(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := current.CheckCancellable(); err != nil {
		return nil, err
	}

	now := s.now()
	o, err := s.repo.UpdateOrderStatus(ctx, id, domain.StatusCancelled, now)
	if err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) {
			s.log.Errorw("cancel order failed", "order_id", id, "err", err)
		}
		return nil, err
	}

	s.log.Infow("order cancelled", "order_id", o.ID, "by", caller.ID)
	s.notify(ctx, domain.NewOrderEvent(domain.EventOrderCancelled, o, current.Status, now))
	return o, nil
}

// now is truncated to what a TIMESTAMPTZ column keeps, so responses match
// later reads of the same order.
func (s *OrdersService) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

func (s *OrdersService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// Drain waits for in-flight event publishes, or until ctx is done.
func (s *OrdersService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notify publishes detached from the request: the caller never waits for the
// broker and a failed publish is only logged.
func (s *OrdersService) notify(ctx context.Context, ev domain.OrderEvent) {
	if s.pub == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
		defer cancel()

		if err := s.pub.Publish(pctx, ev); err != nil {
			s.log.Warnw("publish order event failed",
				"event_type", ev.Type, "order_id", ev.OrderID, "err", err)
			return
		}
		s.log.Debugw("order event published", "event_type", ev.Type, "order_id", ev.OrderID)
	}()
}

func (s *OrdersService) idempotencyKey(caller domain.Identity, key string) string {
	key = strings.TrimSpace(key)
	if s.idem == nil || key == "" {
		return ""
	}
	return caller.ID + ":" + key
}

// replay reserves key or resolves an earlier request that used it. done is
// true when the result is final and no order must be created.
func (s *OrdersService) replay(ctx context.Context, caller domain.Identity, key string) (CreateOrderResult, bool, error) {
	reserved, value, err := s.idem.Reserve(ctx, key, s.idemTTL)
	if err != nil {
		// degrade to a plain create rather than failing the request
		s.log.Warnw("idempotency reserve failed", "key", key, "err", err)
		return CreateOrderResult{}, false, nil
	}
	if reserved {
		return CreateOrderResult{}, false, nil
	}

	id, err := uuid.Parse(value)
	if err != nil {
		return CreateOrderResult{}, true, domain.ErrIdempotencyInProgress
	}
	o, err := s.GetOrder(ctx, caller, id)
	if err != nil {
		return CreateOrderResult{}, true, err
	}
	return CreateOrderResult{Order: o, Created: false}, true, nil
}

func (s *OrdersService) releaseKey(ctx context.Context, key string) {
	if err := s.idem.Release(context.WithoutCancel(ctx), key); err != nil {
		s.log.Warnw("idempotency release failed", "key", key, "err", err)
	}
}

func normalizeCurrency(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return domain.DefaultCurrency
	}
	return c
}

func (in CreateOrderInput) validate() error {
	ve := &domain.ValidationError{}
	add := func(field, msg string) {
		ve.Fields = append(ve.Fields, domain.FieldError{Field: field, Message: msg})
	}

	if strings.TrimSpace(in.ShippingAddress) == "" {
		add("shippingAddress", "is required")
	}
	if strings.TrimSpace(in.BillingAddress) == "" {
		add("billingAddress", "is required")
	}
	if c := normalizeCurrency(in.Currency); len(c) != 3 || strings.Trim(c, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") != "" {
		add("currency", "must be a 3-letter code")
	}
	if len(in.Items) == 0 {
		add("orderItems", "must contain at least 1 item")
	}
	for i, it := range in.Items {
		prefix := "orderItems[" + strconv.Itoa(i) + "]."
		if strings.TrimSpace(it.ProductID) == "" {
			add(prefix+"productId", "is required")
		}
		if strings.TrimSpace(it.ProductName) == "" {
			add(prefix+"productName", "is required")
		}
		if it.Quantity < 1 {
			add(prefix+"quantity", "must be at least 1")
		}
		if msg := domain.UnitPriceProblem(it.UnitPrice); msg != "" {
			add(prefix+"unitPrice", msg)
		}
	}

	if len(ve.Fields) > 0 {
		return ve
	}

	// every item is bounded now, so the sum is cheap
	total := decimal.Zero
	for _, it := range in.Items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if total.GreaterThan(domain.MaxOrderAmount) {
		return domain.NewValidationError("orderItems", "order total must be at most "+domain.MaxOrderAmount.StringFixed(domain.MoneyScale))
	}
	return nil
}
