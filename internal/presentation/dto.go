package presentation

import (
	"github.com/RaikyD/shop-orders-service/internal/application"
	"github.com/RaikyD/shop-orders-service/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"time"
)

type CreateOrderRequest struct {
	ShippingAddress string                   `json:"shippingAddress" validate:"required,notblank,max=500"`
	BillingAddress  string                   `json:"billingAddress" validate:"required,notblank,max=500"`
	Currency        string                   `json:"currency" validate:"omitempty,len=3,alpha"`
	OrderItems      []CreateOrderItemRequest `json:"orderItems" validate:"required,min=1,max=100,dive"`
}

type CreateOrderItemRequest struct {
	ProductID   string          `json:"productId" validate:"required,notblank,max=100"`
	ProductName string          `json:"productName" validate:"required,notblank,max=255"`
	Quantity    int             `json:"quantity" validate:"min=1,max=10000"`
	UnitPrice   decimal.Decimal `json:"unitPrice" validate:"money"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending processing shipped delivered cancelled"`
}

func (req CreateOrderRequest) toInput(idempotencyKey string) application.CreateOrderInput {
	in := application.CreateOrderInput{
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Currency:        req.Currency,
		IdempotencyKey:  idempotencyKey,
		Items:           make([]application.CreateOrderItem, 0, len(req.OrderItems)),
	}
	for _, it := range req.OrderItems {
		in.Items = append(in.Items, application.CreateOrderItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return in
}

type OrderItemResponse struct {
	ID          uuid.UUID `json:"id"`
	ProductID   string    `json:"productId"`
	ProductName string    `json:"productName"`
	Quantity    int       `json:"quantity"`
	UnitPrice   string    `json:"unitPrice"`
	LineTotal   string    `json:"lineTotal"`
}

type OrderResponse struct {
	ID              uuid.UUID           `json:"id"`
	OrderNumber     string              `json:"orderNumber"`
	CustomerID      string              `json:"customerId"`
	CustomerEmail   string              `json:"customerEmail"`
	Status          domain.Status       `json:"status"`
	TotalAmount     string              `json:"totalAmount"`
	Currency        string              `json:"currency"`
	ShippingAddress string              `json:"shippingAddress"`
	BillingAddress  string              `json:"billingAddress"`
	OrderItems      []OrderItemResponse `json:"orderItems"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalCount int `json:"totalCount"`
	TotalPages int `json:"totalPages"`
}

type ListOrdersResponse struct {
	Orders     []OrderResponse `json:"orders"`
	Pagination Pagination      `json:"pagination"`
}

func toOrderResponse(o *domain.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResponse{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.StringFixed(domain.MoneyScale),
			LineTotal:   it.LineTotal.StringFixed(domain.MoneyScale),
		})
	}
	return OrderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		CustomerID:      o.CustomerID,
		CustomerEmail:   o.CustomerEmail,
		Status:          o.Status,
		TotalAmount:     o.TotalAmount.StringFixed(domain.MoneyScale),
		Currency:        o.Currency,
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		OrderItems:      items,
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
	}
}

func toListResponse(p *domain.Page) ListOrdersResponse {
	orders := make([]OrderResponse, 0, len(p.Orders))
	for i := range p.Orders {
		orders = append(orders, toOrderResponse(&p.Orders[i]))
	}
	return ListOrdersResponse{
		Orders: orders,
		Pagination: Pagination{
			Page:       p.Page,
			PageSize:   p.PageSize,
			TotalCount: p.TotalCount,
			TotalPages: p.TotalPages,
		},
	}
}
