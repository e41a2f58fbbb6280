package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

const DefaultCurrency = "USD"

// MoneyScale is the number of fraction digits kept for amounts.
const MoneyScale = 2

// Column limits: unit_price NUMERIC(12,2), line_total and total_amount NUMERIC(14,2).
var (
	MaxUnitPrice   = decimal.RequireFromString("9999999999.99")
	MaxOrderAmount = decimal.RequireFromString("999999999999.99")
)

// exponent window and coefficient size accepted before any rescaling
const (
	maxMoneyExponent = 12
	maxMoneyBits     = 96
)

// MoneyInRange reports whether d is small enough to rescale cheaply. It only
// looks at the exponent and coefficient size, so it is safe on any input.
func MoneyInRange(d decimal.Decimal) bool {
	exp := d.Exponent()
	if exp > maxMoneyExponent || exp < -maxMoneyExponent {
		return false
	}
	return d.Coefficient().BitLen() <= maxMoneyBits
}

// UnitPriceProblem returns why d is not an acceptable unit price, or "".
func UnitPriceProblem(d decimal.Decimal) string {
	if !MoneyInRange(d) {
		return "is out of range"
	}
	if !d.IsPositive() {
		return "must be greater than 0"
	}
	if d.GreaterThan(MaxUnitPrice) {
		return "must be at most " + MaxUnitPrice.StringFixed(MoneyScale)
	}
	if !d.Equal(d.Round(MoneyScale)) {
		return "must have at most 2 decimal places"
	}
	return ""
}

var Statuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
}

func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

type Order struct {
	ID              uuid.UUID
	OrderNumber     string
	CustomerID      string
	CustomerEmail   string
	Status          Status
	TotalAmount     decimal.Decimal
	Currency        string
	ShippingAddress string
	BillingAddress  string
	Items           []OrderItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type OrderItem struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// ComputeLineTotal returns quantity × unit price rounded to MoneyScale.
func (i OrderItem) ComputeLineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))).Round(MoneyScale)
}

// PriceItems fills every item's LineTotal and sets TotalAmount to their sum.
// Client supplied totals are always overwritten.
func (o *Order) PriceItems() {
	total := decimal.Zero
	for i := range o.Items {
		o.Items[i].LineTotal = o.Items[i].ComputeLineTotal()
		total = total.Add(o.Items[i].LineTotal)
	}
	o.TotalAmount = total.Round(MoneyScale)
}

// CheckCancellable reports why the order may not move to cancelled, if anything.
func (o *Order) CheckCancellable() error {
	switch o.Status {
	case StatusCancelled:
		return ErrOrderAlreadyCancelled
	case StatusShipped, StatusDelivered:
		return ErrOrderNotCancellable
	}
	return nil
}

func (o *Order) OwnedBy(customerID string) bool {
	return o.CustomerID == customerID
}

// Page is one slice of a customer's orders together with the overall count.
type Page struct {
	Orders     []Order
	Page       int
	PageSize   int
	TotalCount int
	TotalPages int
}

func TotalPages(totalCount, pageSize int) int {
	if pageSize <= 0 || totalCount <= 0 {
		return 0
	}
	return (totalCount + pageSize - 1) / pageSize
}
