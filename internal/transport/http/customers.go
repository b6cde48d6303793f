package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/mohamaddakhiliuad/tenantorders/internal/app"
)

type CustomerCreator interface {
	CreateCustomer(ctx context.Context, tenantID, name string) (app.CustomerResult, error)
}

type createCustomerRequest struct {
	Name string `json:"name"`
}

type customerResponse struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// HandleCreateCustomer serves POST /customers.
func HandleCreateCustomer(svc CustomerCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createCustomerRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, "name is required")
			return
		}
		c, err := svc.CreateCustomer(r.Context(), tenantFrom(r.Context()), req.Name)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.Header().Set("Location", "/customers/"+strconv.FormatInt(c.ID, 10))
		writeJSON(w, http.StatusCreated, customerResponse{ID: c.ID, Name: c.Name, Version: c.Version})
	}
}
