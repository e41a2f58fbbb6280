package application

import (
	"context"
	"errors"
	"fmt"
	"github.com/RaikyD/shop-orders-service/internal/clock"
	"github.com/RaikyD/shop-orders-service/internal/domain"
	"github.com/RaikyD/shop-orders-service/internal/logger"
	"github.com/RaikyD/shop-orders-service/internal/testutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

var (
	now      = time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)
	alice    = domain.Identity{ID: "cust-alice", Email: "alice@example.com", Roles: []string{"customer"}}
	bob      = domain.Identity{ID: "cust-bob", Email: "bob@example.com", Roles: []string{"customer"}}
	operator = domain.Identity{ID: "ops-1", Email: "ops@example.com", Roles: []string{domain.RoleAdmin}}
)

func newService(t *testing.T, opts ...Option) (*OrdersService, *testutil.MemoryOrderRepo, *testutil.RecordingPublisher) {
	t.Helper()
	repo := testutil.NewMemoryOrderRepo()
	pub := &testutil.RecordingPublisher{}
	opts = append([]Option{WithClock(clock.NewFixed(now))}, opts...)
	svc := NewOrdersService(repo, pub, logger.Nop(), opts...)
	return svc, repo, pub
}

func drain(t *testing.T, svc *OrdersService) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Drain(ctx))
}

func sampleInput() CreateOrderInput {
	return CreateOrderInput{
		ShippingAddress: "1 Main St, Springfield",
		BillingAddress:  "1 Main St, Springfield",
		Items: []CreateOrderItem{
			{ProductID: "sku-1", ProductName: "Mug", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
			{ProductID: "sku-2", ProductName: "Tea", Quantity: 1, UnitPrice: decimal.RequireFromString("5.00")},
		},
	}
}

func createOrder(t *testing.T, svc *OrdersService, caller domain.Identity) *domain.Order {
	t.Helper()
	res, err := svc.CreateOrder(context.Background(), caller, sampleInput())
	require.NoError(t, err)
	return res.Order
}

func TestCreateOrder(t *testing.T) {
	t.Parallel()

	svc, repo, pub := newService(t)

	res, err := svc.CreateOrder(context.Background(), alice, sampleInput())
	require.NoError(t, err)
	require.True(t, res.Created)

	o := res.Order
	assert.NotEqual(t, uuid.Nil, o.ID)
	assert.Equal(t, "25.00", o.TotalAmount.StringFixed(2))
	assert.Equal(t, domain.StatusPending, o.Status)
	assert.Equal(t, "USD", o.Currency)
	assert.Equal(t, alice.ID, o.CustomerID)
	assert.Equal(t, alice.Email, o.CustomerEmail)
	assert.Regexp(t, `^ORD-20260402103000-[A-Z2-7]{8}$`, o.OrderNumber)
	assert.True(t, o.CreatedAt.Equal(now))
	require.Len(t, o.Items, 2)
	for _, it := range o.Items {
		assert.NotEqual(t, uuid.Nil, it.ID)
		assert.Equal(t, o.ID, it.OrderID)
	}
	assert.Equal(t, "20.00", o.Items[0].LineTotal.StringFixed(2))

	stored, err := repo.GetOrderById(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmount.Equal(o.TotalAmount))

	drain(t, svc)
	events := pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOrderCreated, events[0].Type)
	assert.Equal(t, o.ID, events[0].OrderID)
	assert.Equal(t, o.OrderNumber, events[0].OrderNumber)
	assert.Equal(t, "25.00", events[0].TotalAmount)
}

func TestCreateOrderTotalMatchesItems(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	in := sampleInput()
	in.Currency = "eur"
	in.Items = []CreateOrderItem{
		{ProductID: "a", ProductName: "A", Quantity: 3, UnitPrice: decimal.RequireFromString("0.10")},
		{ProductID: "b", ProductName: "B", Quantity: 7, UnitPrice: decimal.RequireFromString("19.99")},
		{ProductID: "c", ProductName: "C", Quantity: 1, UnitPrice: decimal.RequireFromString("0.01")},
	}

	res, err := svc.CreateOrder(context.Background(), alice, in)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, it := range res.Order.Items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	assert.True(t, sum.Equal(res.Order.TotalAmount), "sum %s total %s", sum, res.Order.TotalAmount)
	assert.Equal(t, "140.24", res.Order.TotalAmount.StringFixed(2))
	assert.Equal(t, "EUR", res.Order.Currency)
}

func TestCreateOrderValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*CreateOrderInput)
		field  string
	}{
		{"missing shipping", func(in *CreateOrderInput) { in.ShippingAddress = " " }, "shippingAddress"},
		{"missing billing", func(in *CreateOrderInput) { in.BillingAddress = "" }, "billingAddress"},
		{"bad currency", func(in *CreateOrderInput) { in.Currency = "US" }, "currency"},
		{"no items", func(in *CreateOrderInput) { in.Items = nil }, "orderItems"},
		{"zero quantity", func(in *CreateOrderInput) { in.Items[0].Quantity = 0 }, "orderItems[0].quantity"},
		{"negative price", func(in *CreateOrderInput) { in.Items[1].UnitPrice = decimal.RequireFromString("-1") }, "orderItems[1].unitPrice"},
		{"sub-cent price", func(in *CreateOrderInput) { in.Items[1].UnitPrice = decimal.RequireFromString("1.005") }, "orderItems[1].unitPrice"},
		{"exponent out of range", func(in *CreateOrderInput) { in.Items[0].UnitPrice = decimal.New(1, 2000000) }, "orderItems[0].unitPrice"},
		{"price above column", func(in *CreateOrderInput) { in.Items[0].UnitPrice = decimal.RequireFromString("10000000000.00") }, "orderItems[0].unitPrice"},
		{"total above column", func(in *CreateOrderInput) {
			in.Items[0].Quantity = 10000
			in.Items[0].UnitPrice = decimal.RequireFromString("9999999999.99")
		}, "orderItems"},
		{"missing product name", func(in *CreateOrderInput) { in.Items[0].ProductName = "" }, "orderItems[0].productName"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc, repo, _ := newService(t)
			in := sampleInput()
			tt.mutate(&in)

			_, err := svc.CreateOrder(context.Background(), alice, in)

			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			fields := make([]string, 0, len(ve.Fields))
			for _, f := range ve.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.field)
			assert.Zero(t, repo.WriteCount())
		})
	}
}

func TestCreateOrderAcceptsColumnLimits(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	in := sampleInput()
	in.Items = []CreateOrderItem{
		{ProductID: "a", ProductName: "A", Quantity: 99, UnitPrice: domain.MaxUnitPrice},
	}
	res, err := svc.CreateOrder(context.Background(), alice, in)
	require.NoError(t, err)
	assert.Equal(t, "989999999999.01", res.Order.TotalAmount.StringFixed(2))
	drain(t, svc)
}

func TestCreateOrderTimestampsMatchStorePrecision(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 4, 2, 10, 30, 0, 123456789, time.UTC)
	svc, repo, _ := newService(t, WithClock(clock.NewFixed(at)))

	res, err := svc.CreateOrder(context.Background(), alice, sampleInput())
	require.NoError(t, err)
	want := time.Date(2026, 4, 2, 10, 30, 0, 123456000, time.UTC)
	assert.True(t, res.Order.CreatedAt.Equal(want), res.Order.CreatedAt)
	assert.True(t, res.Order.UpdatedAt.Equal(want))

	o, err := svc.UpdateOrderStatus(context.Background(), operator, res.Order.ID, domain.StatusShipped)
	require.NoError(t, err)
	assert.Zero(t, o.UpdatedAt.Nanosecond()%1000)

	stored, err := repo.GetOrderById(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.True(t, stored.CreatedAt.Equal(res.Order.CreatedAt))
	drain(t, svc)
}

func TestCreateOrderPublishFailureDoesNotFailCreate(t *testing.T) {
	t.Parallel()

	svc, repo, pub := newService(t)
	pub.Err = errors.New("broker down")

	res, err := svc.CreateOrder(context.Background(), alice, sampleInput())
	require.NoError(t, err)
	require.True(t, res.Created)
	drain(t, svc)

	_, err = repo.GetOrderById(context.Background(), res.Order.ID)
	assert.NoError(t, err)
	assert.Len(t, pub.Events(), 1)
}

func TestCreateOrderDoesNotWaitForPublisher(t *testing.T) {
	t.Parallel()

	repo := testutil.NewMemoryOrderRepo()
	pub := testutil.NewBlockingPublisher()
	svc := NewOrdersService(repo, pub, logger.Nop(), WithPublishTimeout(time.Minute))

	done := make(chan error, 1)
	go func() {
		_, err := svc.CreateOrder(context.Background(), alice, sampleInput())
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("create blocked on the event publisher")
	}

	close(pub.Release)
	drain(t, svc)
}

func TestCreateOrderPublishSurvivesRequestCancellation(t *testing.T) {
	t.Parallel()

	svc, _, pub := newService(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := svc.CreateOrder(ctx, alice, sampleInput())
	require.NoError(t, err)
	cancel()

	drain(t, svc)
	assert.Len(t, pub.Events(), 1)
}

func TestCreateOrderStoreFailure(t *testing.T) {
	t.Parallel()

	svc, repo, pub := newService(t)
	repo.SetErr(fmt.Errorf("insert order: %w", domain.ErrStoreUnavailable))

	_, err := svc.CreateOrder(context.Background(), alice, sampleInput())
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	drain(t, svc)
	assert.Empty(t, pub.Events())
}

func TestCreateOrderRegeneratesCollidingNumber(t *testing.T) {
	t.Parallel()

	numbers := []string{"ORD-FIXED", "ORD-FIXED", "ORD-OTHER"}
	var mu sync.Mutex
	gen := func(time.Time) string {
		mu.Lock()
		defer mu.Unlock()
		n := numbers[0]
		numbers = numbers[1:]
		return n
	}
	svc, repo, _ := newService(t, WithOrderNumbers(gen))

	first := createOrder(t, svc, alice)
	second := createOrder(t, svc, bob)

	assert.Equal(t, "ORD-FIXED", first.OrderNumber)
	assert.Equal(t, "ORD-OTHER", second.OrderNumber)
	assert.Equal(t, 3, repo.AddCalls)
}

func TestCreateOrderGivesUpAfterRepeatedCollisions(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t, WithOrderNumbers(func(time.Time) string { return "ORD-SAME" }))
	createOrder(t, svc, alice)

	_, err := svc.CreateOrder(context.Background(), alice, sampleInput())
	assert.ErrorIs(t, err, domain.ErrOrderNumberConflict)
}

func TestCreateOrderConcurrentNumbersAreUnique(t *testing.T) {
	t.Parallel()

	// the real generator under a frozen clock: every number shares the prefix
	svc, _, _ := newService(t)

	const n = 200
	var wg sync.WaitGroup
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.CreateOrder(context.Background(), alice, sampleInput())
			if err == nil {
				results <- res.Order.OrderNumber
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]struct{}, n)
	for num := range results {
		_, dup := seen[num]
		require.False(t, dup, "duplicate order number %s", num)
		seen[num] = struct{}{}
	}
	assert.Len(t, seen, n)
	drain(t, svc)
}

func TestCreateOrderIdempotency(t *testing.T) {
	t.Parallel()

	idem := testutil.NewMemoryIdempotency()
	svc, repo, pub := newService(t, WithIdempotency(idem, 24*time.Hour))

	in := sampleInput()
	in.IdempotencyKey = "key-1"

	first, err := svc.CreateOrder(context.Background(), alice, in)
	require.NoError(t, err)
	require.True(t, first.Created)

	again, err := svc.CreateOrder(context.Background(), alice, in)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.Order.ID, again.Order.ID)
	assert.Equal(t, 1, repo.WriteCount())

	// keys are scoped per customer
	other, err := svc.CreateOrder(context.Background(), bob, in)
	require.NoError(t, err)
	assert.True(t, other.Created)

	drain(t, svc)
	assert.Len(t, pub.Events(), 2)
}

func TestCreateOrderIdempotencyInProgress(t *testing.T) {
	t.Parallel()

	idem := testutil.NewMemoryIdempotency()
	svc, _, _ := newService(t, WithIdempotency(idem, time.Hour))
	_, _, err := idem.Reserve(context.Background(), alice.ID+":key-2", time.Hour)
	require.NoError(t, err)

	in := sampleInput()
	in.IdempotencyKey = "key-2"
	_, err = svc.CreateOrder(context.Background(), alice, in)
	assert.ErrorIs(t, err, domain.ErrIdempotencyInProgress)
}

func TestCreateOrderIdempotencyReleasedOnFailure(t *testing.T) {
	t.Parallel()

	idem := testutil.NewMemoryIdempotency()
	svc, repo, _ := newService(t, WithIdempotency(idem, time.Hour))
	repo.SetErr(domain.ErrStoreUnavailable)

	in := sampleInput()
	in.IdempotencyKey = "key-3"
	_, err := svc.CreateOrder(context.Background(), alice, in)
	require.Error(t, err)

	_, held := idem.Value(alice.ID + ":key-3")
	assert.False(t, held)
}

func TestCreateOrderIdempotencyStoreDownDegrades(t *testing.T) {
	t.Parallel()

	idem := testutil.NewMemoryIdempotency()
	idem.Err = errors.New("redis: connection refused")
	svc, _, _ := newService(t, WithIdempotency(idem, time.Hour))

	in := sampleInput()
	in.IdempotencyKey = "key-4"
	res, err := svc.CreateOrder(context.Background(), alice, in)
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestListOrders(t *testing.T) {
	t.Parallel()

	svc, repo, _ := newService(t)
	for i := 0; i < 25; i++ {
		repo.Put(domain.Order{
			ID:          uuid.New(),
			OrderNumber: fmt.Sprintf("ORD-A-%02d", i),
			CustomerID:  alice.ID,
			Status:      domain.StatusPending,
			CreatedAt:   now.Add(time.Duration(i) * time.Minute),
		})
	}
	for i := 0; i < 4; i++ {
		repo.Put(domain.Order{ID: uuid.New(), OrderNumber: fmt.Sprintf("ORD-B-%02d", i), CustomerID: bob.ID})
	}

	page, err := svc.ListOrders(context.Background(), alice, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 25, page.TotalCount)
	assert.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Orders, 10)
	assert.Equal(t, "ORD-A-24", page.Orders[0].OrderNumber)

	page, err = svc.ListOrders(context.Background(), alice, 3, 10)
	require.NoError(t, err)
	require.Len(t, page.Orders, 5)
	assert.Equal(t, "ORD-A-04", page.Orders[0].OrderNumber)

	for _, size := range []int{1, 3, 7, 100} {
		for p := 1; p <= 5; p++ {
			pg, err := svc.ListOrders(context.Background(), bob, p, size)
			require.NoError(t, err)
			for _, o := range pg.Orders {
				assert.Equal(t, bob.ID, o.CustomerID)
			}
			assert.Equal(t, 4, pg.TotalCount)
		}
	}
}

func TestListOrdersRejectsBadPaging(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	for _, tc := range [][2]int{{0, 10}, {1, 0}, {1, 101}, {-3, 5}} {
		_, err := svc.ListOrders(context.Background(), alice, tc[0], tc[1])
		assert.True(t, domain.IsValidation(err), "page=%d size=%d", tc[0], tc[1])
	}
}

func TestGetOrderVisibility(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	o := createOrder(t, svc, bob)

	got, err := svc.GetOrder(context.Background(), bob, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = svc.GetOrder(context.Background(), alice, o.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	got, err = svc.GetOrder(context.Background(), operator, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = svc.GetOrder(context.Background(), bob, uuid.New())
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	drain(t, svc)
}

func TestUpdateOrderStatus(t *testing.T) {
	t.Parallel()

	t.Run("non admin is forbidden without touching the store", func(t *testing.T) {
		t.Parallel()
		svc, repo, pub := newService(t)
		o := createOrder(t, svc, alice)
		drain(t, svc)
		writes := repo.WriteCount()

		repo.SetErr(errors.New("store must not be called"))
		_, err := svc.UpdateOrderStatus(context.Background(), alice, o.ID, domain.StatusShipped)
		require.ErrorIs(t, err, domain.ErrForbidden)
		assert.Equal(t, writes, repo.WriteCount())
		assert.Len(t, pub.Events(), 1)
	})

	t.Run("admin moves any status", func(t *testing.T) {
		t.Parallel()
		svc, _, pub := newService(t)
		o := createOrder(t, svc, alice)

		for _, st := range []domain.Status{domain.StatusShipped, domain.StatusDelivered, domain.StatusPending} {
			got, err := svc.UpdateOrderStatus(context.Background(), operator, o.ID, st)
			require.NoError(t, err)
			assert.Equal(t, st, got.Status)
		}
		drain(t, svc)
		events := pub.Events()
		require.Len(t, events, 4)
		assert.Equal(t, domain.EventOrderStatusChanged, events[3].Type)
		assert.Equal(t, o.ID, events[3].OrderID)
	})

	t.Run("unknown order", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newService(t)
		_, err := svc.UpdateOrderStatus(context.Background(), operator, uuid.New(), domain.StatusShipped)
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})

	t.Run("unknown status", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newService(t)
		o := createOrder(t, svc, alice)
		_, err := svc.UpdateOrderStatus(context.Background(), operator, o.ID, domain.Status("lost"))
		assert.True(t, domain.IsValidation(err))
		drain(t, svc)
	})

	t.Run("publish failure is swallowed", func(t *testing.T) {
		t.Parallel()
		svc, _, pub := newService(t)
		o := createOrder(t, svc, alice)
		pub.Err = errors.New("broker down")

		got, err := svc.UpdateOrderStatus(context.Background(), operator, o.ID, domain.StatusProcessing)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusProcessing, got.Status)
		drain(t, svc)
	})
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()

	t.Run("create then cancel twice", func(t *testing.T) {
		t.Parallel()
		svc, _, pub := newService(t)
		o := createOrder(t, svc, alice)

		got, err := svc.CancelOrder(context.Background(), alice, o.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCancelled, got.Status)

		_, err = svc.CancelOrder(context.Background(), alice, o.ID)
		assert.ErrorIs(t, err, domain.ErrOrderAlreadyCancelled)

		drain(t, svc)
		events := pub.Events()
		require.Len(t, events, 2)
		assert.Equal(t, domain.EventOrderCancelled, events[1].Type)
		assert.Equal(t, domain.StatusPending, events[1].PreviousStatus)
	})

	t.Run("shipped or delivered cannot be cancelled", func(t *testing.T) {
		t.Parallel()
		for _, st := range []domain.Status{domain.StatusShipped, domain.StatusDelivered} {
			svc, repo, _ := newService(t)
			o := createOrder(t, svc, alice)
			_, err := svc.UpdateOrderStatus(context.Background(), operator, o.ID, st)
			require.NoError(t, err)
			writes := repo.WriteCount()

			_, err = svc.CancelOrder(context.Background(), alice, o.ID)
			require.ErrorIs(t, err, domain.ErrOrderNotCancellable)

			cur, err := repo.GetOrderById(context.Background(), o.ID)
			require.NoError(t, err)
			assert.Equal(t, st, cur.Status)
			assert.Equal(t, writes, repo.WriteCount())
			drain(t, svc)
		}
	})

	t.Run("other customer sees not found", func(t *testing.T) {
		t.Parallel()
		svc, repo, _ := newService(t)
		o := createOrder(t, svc, bob)

		_, err := svc.CancelOrder(context.Background(), alice, o.ID)
		require.ErrorIs(t, err, domain.ErrOrderNotFound)
		cur, _ := repo.GetOrderById(context.Background(), o.ID)
		assert.Equal(t, domain.StatusPending, cur.Status)
		drain(t, svc)
	})

	t.Run("admin may cancel any order", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newService(t)
		o := createOrder(t, svc, bob)

		got, err := svc.CancelOrder(context.Background(), operator, o.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCancelled, got.Status)
		drain(t, svc)
	})

	t.Run("processing can be cancelled", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newService(t)
		o := createOrder(t, svc, alice)
		_, err := svc.UpdateOrderStatus(context.Background(), operator, o.ID, domain.StatusProcessing)
		require.NoError(t, err)

		got, err := svc.CancelOrder(context.Background(), alice, o.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCancelled, got.Status)
		drain(t, svc)
	})
}

func TestDrainHonoursContext(t *testing.T) {
	t.Parallel()

	repo := testutil.NewMemoryOrderRepo()
	pub := testutil.NewBlockingPublisher()
	svc := NewOrdersService(repo, pub, logger.Nop(), WithPublishTimeout(time.Minute))
	_, err := svc.CreateOrder(context.Background(), alice, sampleInput())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Drain(ctx), context.DeadlineExceeded)

	close(pub.Release)
	drain(t, svc)
}
