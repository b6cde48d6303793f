package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mohamaddakhiliuad/tenantorders/internal/app"
	"github.com/mohamaddakhiliuad/tenantorders/internal/domain"
)

const idempotencyHeader = "Idempotency-Key"

// OrderCommands is the write side the order handlers need.
type OrderCommands interface {
	CreateOrder(ctx context.Context, tenantID string, in app.CreateOrderInput) (app.CreateOrderResult, error)
	PlaceOrder(ctx context.Context, tenantID string, in app.TransitionInput) (app.TransitionResult, error)
	PayOrder(ctx context.Context, tenantID string, in app.TransitionInput) (app.TransitionResult, error)
	CancelOrder(ctx context.Context, tenantID string, in app.CancelOrderInput) (app.TransitionResult, error)
	CompleteOrder(ctx context.Context, tenantID string, in app.TransitionInput) (app.TransitionResult, error)
}

// OrderQueries is the read side.
type OrderQueries interface {
	GetOrder(ctx context.Context, tenantID string, id int64) (app.OrderDetails, error)
	ListOrdersByCustomer(ctx context.Context, tenantID string, customerID int64) ([]app.OrderDetails, error)
}

type createOrderRequest struct {
	CustomerID int64  `json:"customer_id"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
}

type createOrderResponse struct {
	ID      int64 `json:"id"`
	Created bool  `json:"created"`
}

// HandleCreateOrder serves POST /orders. A replay of a completed key answers
// 200 with the original id instead of 201.
func HandleCreateOrder(svc OrderCommands) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
		if key == "" {
			writeDomainError(w, domain.ErrIdempotencyKeyRequired)
			return
		}

		var req createOrderRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.CustomerID == 0 || req.Amount == "" || req.Currency == "" {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, "customer_id, amount and currency are required")
			return
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeDomainError(w, domain.ErrInvalidAmount)
			return
		}

		res, err := svc.CreateOrder(r.Context(), tenantFrom(r.Context()), app.CreateOrderInput{
			CustomerID:     req.CustomerID,
			Amount:         amount,
			Currency:       req.Currency,
			IdempotencyKey: key,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		status := http.StatusOK
		if res.Created {
			status = http.StatusCreated
			w.Header().Set("Location", "/orders/"+strconv.FormatInt(res.OrderID, 10))
		}
		writeJSON(w, status, createOrderResponse{ID: res.OrderID, Created: res.Created})
	}
}

type transitionRequest struct {
	ExpectedVersion string `json:"expected_version"`
	Reason          string `json:"reason,omitempty"`
}

type transitionResponse struct {
	ID      int64  `json:"id"`
	Status  string `json:"status"`
	Version string `json:"version"`
}

// versionFromIfMatch reads a single entity tag. Weak tags compare the same
// as strong ones since the token is the row version.
func versionFromIfMatch(h string) string {
	tag := strings.TrimSpace(h)
	tag = strings.TrimPrefix(tag, "W/")
	return strings.Trim(tag, `"`)
}

// HandleTransition serves POST /orders/{id}/{action}. The expected version
// comes from the body or, failing that, the If-Match header.
func HandleTransition(svc OrderCommands) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeDomainError(w, domain.ErrInvalidID)
			return
		}
		var req transitionRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.ExpectedVersion == "" {
			req.ExpectedVersion = versionFromIfMatch(r.Header.Get("If-Match"))
		}

		tenantID := tenantFrom(r.Context())
		in := app.TransitionInput{OrderID: id, ExpectedVersion: req.ExpectedVersion}

		var (
			res app.TransitionResult
			err error
		)
		switch r.PathValue("action") {
		case "place":
			res, err = svc.PlaceOrder(r.Context(), tenantID, in)
		case "pay":
			res, err = svc.PayOrder(r.Context(), tenantID, in)
		case "complete":
			res, err = svc.CompleteOrder(r.Context(), tenantID, in)
		case "cancel":
			res, err = svc.CancelOrder(r.Context(), tenantID, app.CancelOrderInput{
				OrderID:         id,
				ExpectedVersion: in.ExpectedVersion,
				Reason:          req.Reason,
			})
		default:
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
			return
		}
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("ETag", `"`+res.Version+`"`)
		writeJSON(w, http.StatusOK, transitionResponse{ID: res.OrderID, Status: string(res.Status), Version: res.Version})
	}
}

type orderResponse struct {
	ID         int64      `json:"id"`
	CustomerID int64      `json:"customer_id"`
	Status     string     `json:"status"`
	Amount     string     `json:"amount"`
	Currency   string     `json:"currency"`
	Version    string     `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	PlacedAt   *time.Time `json:"placed_at,omitempty"`
}

func toOrderResponse(d app.OrderDetails) orderResponse {
	return orderResponse{
		ID:         d.ID,
		CustomerID: d.CustomerID,
		Status:     string(d.Status),
		Amount:     d.Amount,
		Currency:   d.Currency,
		Version:    d.Version,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
		PlacedAt:   d.PlacedAt,
	}
}

// HandleGetOrder serves GET /orders/{id}.
func HandleGetOrder(svc OrderQueries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeDomainError(w, domain.ErrInvalidID)
			return
		}
		d, err := svc.GetOrder(r.Context(), tenantFrom(r.Context()), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.Header().Set("ETag", `"`+d.Version+`"`)
		writeJSON(w, http.StatusOK, toOrderResponse(d))
	}
}

// HandleListCustomerOrders serves GET /customers/{id}/orders, newest first.
func HandleListCustomerOrders(svc OrderQueries) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeDomainError(w, domain.ErrInvalidID)
			return
		}
		list, err := svc.ListOrdersByCustomer(r.Context(), tenantFrom(r.Context()), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out := make([]orderResponse, 0, len(list))
		for _, d := range list {
			out = append(out, toOrderResponse(d))
		}
		writeJSON(w, http.StatusOK, map[string]any{"orders": out})
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
