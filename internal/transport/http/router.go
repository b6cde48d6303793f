package http

import (
	"net/http"

	"github.com/mohamaddakhiliuad/tenantorders/internal/logger"
	"github.com/mohamaddakhiliuad/tenantorders/internal/metrics"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Orders        OrderCommands
	Queries       OrderQueries
	Customers     CustomerCreator
	Store         Pinger
	Metrics       *metrics.Metrics
	Logger        *logger.Logger
	CORSOrigins   []string
	DefaultTenant string
}

// NewRouter builds the full handler chain: CORS, request logging, then routing.
func NewRouter(d Deps) http.Handler {
	tenant := func(h http.Handler) http.Handler { return RequireTenant(d.DefaultTenant, h) }

	mux := http.NewServeMux()
	mux.Handle("GET /health", HealthHandler(d.Store))
	mux.Handle("GET /metrics", d.Metrics.Handler())
	mux.Handle("GET /tenant", tenant(HandleTenant()))
	mux.Handle("POST /customers", tenant(HandleCreateCustomer(d.Customers)))
	mux.Handle("GET /customers/{id}/orders", tenant(HandleListCustomerOrders(d.Queries)))
	mux.Handle("POST /orders", tenant(HandleCreateOrder(d.Orders)))
	mux.Handle("GET /orders/{id}", tenant(HandleGetOrder(d.Queries)))
	mux.Handle("POST /orders/{id}/{action}", tenant(HandleTransition(d.Orders)))
	mux.HandleFunc("/", routeNotFound)

	return CORS(d.CORSOrigins, RequestLogger(mux, d.Logger, d.Metrics))
}

// routeNotFound answers requests no pattern matched, including known paths
// with an unsupported method.
func routeNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, codeNotFound, "no route for "+r.Method+" "+r.URL.Path)
}
