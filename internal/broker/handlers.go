package broker

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/MR-Coder-Coder/Bet-Broker/internal/model"
	"github.com/MR-Coder-Coder/Bet-Broker/internal/store"
	"github.com/MR-Coder-Coder/Bet-Broker/internal/workflow"
)

// Actor headers. Identity is established upstream; the broker only records it.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorName = "X-Actor-Name"
)

// API exposes a Service over HTTP.
type API struct {
	svc *Service
}

// NewAPI creates the HTTP handlers for svc.
func NewAPI(svc *Service) *API {
	return &API{svc: svc}
}

// Routes mounts the broker endpoints on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/orders", a.ListOrders)
	r.Post("/orders", a.CreateOrder)
	r.Post("/orders/direct", a.SubmitDirect)

	r.Route("/orders/{orderID}", func(r chi.Router) {
		r.Get("/", a.GetOrder)
		r.Get("/events", a.ListFillEvents)
		r.Post("/events", a.AppendFillEvent)
		r.Get("/summary", a.GetSummary)
		r.Post("/transition", a.Transition)
		r.Post("/settle", a.Settle)
		r.Get("/positions", a.GetPositions)
		r.Get("/journals", a.GetJournals)
		r.Get("/results", a.GetResults)
		r.Get("/betslip", a.GetBetSlip)
	})

	r.Get("/summaries", a.ListSummaries)
	r.Get("/reports/balances", a.GetBalances)
	r.Get("/reports/trial-balance", a.GetTrialBalance)
}

// --- Request types ---

// EventRequest is the JSON body for POST /orders/{orderID}/events.
type EventRequest struct {
	Type         string              `json:"type"`
	Amount       decimal.NullDecimal `json:"amount"`
	Price        decimal.NullDecimal `json:"price"`
	TimerSeconds int64               `json:"timer_seconds"`
	Notes        string              `json:"notes"`
	ImageRef     string              `json:"image_ref"`
}

// TransitionRequest is the JSON body for POST /orders/{orderID}/transition.
type TransitionRequest struct {
	To           string                `json:"to"`
	Suppliers    []workflow.Assignment `json:"suppliers"`
	ManualFinish bool                  `json:"manual_finish"`
	ClientAmount decimal.NullDecimal   `json:"client_amount"`
	ClientPrice  decimal.NullDecimal   `json:"client_price"`
	Result       string                `json:"result"`
	Notes        string                `json:"notes"`
}

// SettleRequest is the JSON body for POST /orders/{orderID}/settle.
type SettleRequest struct {
	Result string `json:"result"`
}

// --- Handlers ---

// CreateOrder handles POST /api/v1/orders
func (a *API) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest, "")
		return
	}
	o, err := a.svc.CreateOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// SubmitDirect handles POST /api/v1/orders/direct
// The calling trader becomes the order's only supplier.
func (a *API) SubmitDirect(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest, "")
		return
	}
	o, err := a.svc.SubmitDirect(r.Context(), r.Header.Get(HeaderActorID), r.Header.Get(HeaderActorName), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// ListOrders handles GET /api/v1/orders?status=&agent=&request_by=
func (a *API) ListOrders(w http.ResponseWriter, r *http.Request) {
	f, ok := orderFilter(w, r)
	if !ok {
		return
	}
	orders, err := a.svc.ListOrders(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetOrder handles GET /api/v1/orders/{orderID}
func (a *API) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := a.svc.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListFillEvents handles GET /api/v1/orders/{orderID}/events
func (a *API) ListFillEvents(w http.ResponseWriter, r *http.Request) {
	events, err := a.svc.ListFillEvents(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if events == nil {
		events = []model.FillEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// AppendFillEvent handles POST /api/v1/orders/{orderID}/events
func (a *API) AppendFillEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest, "")
		return
	}
	typ, err := model.ParseEventType(req.Type)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	ev, err := a.svc.AppendFillEvent(r.Context(), chi.URLParam(r, "orderID"), model.FillEvent{
		Type:         typ,
		ActorID:      r.Header.Get(HeaderActorID),
		ActorName:    r.Header.Get(HeaderActorName),
		Amount:       req.Amount,
		Price:        req.Price,
		TimerSeconds: req.TimerSeconds,
		Notes:        req.Notes,
		ImageRef:     req.ImageRef,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// GetSummary handles GET /api/v1/orders/{orderID}/summary
func (a *API) GetSummary(w http.ResponseWriter, r *http.Request) {
	v, err := a.svc.Summary(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ListSummaries handles GET /api/v1/summaries?status=&agent=&request_by=
func (a *API) ListSummaries(w http.ResponseWriter, r *http.Request) {
	f, ok := orderFilter(w, r)
	if !ok {
		return
	}
	views, err := a.svc.Summaries(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// Transition handles POST /api/v1/orders/{orderID}/transition
func (a *API) Transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest, "")
		return
	}
	to, err := model.ParseStatus(req.To)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	gc := workflow.GuardContext{
		Actor:        r.Header.Get(HeaderActorID),
		ActorName:    r.Header.Get(HeaderActorName),
		Suppliers:    req.Suppliers,
		ManualFinish: req.ManualFinish,
		ClientAmount: req.ClientAmount,
		ClientPrice:  req.ClientPrice,
		Notes:        req.Notes,
	}
	if req.Result != "" {
		if gc.Result, err = model.ParseResult(req.Result); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	o, err := a.svc.Transition(r.Context(), chi.URLParam(r, "orderID"), to, gc)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Settle handles POST /api/v1/orders/{orderID}/settle
func (a *API) Settle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest, "")
		return
	}
	result, err := model.ParseResult(req.Result)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	positions, err := a.svc.Settle(r.Context(), chi.URLParam(r, "orderID"), result)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetPositions handles GET /api/v1/orders/{orderID}/positions
func (a *API) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := a.svc.Positions(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if positions == nil {
		positions = []model.PositionEntry{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetJournals handles GET /api/v1/orders/{orderID}/journals
func (a *API) GetJournals(w http.ResponseWriter, r *http.Request) {
	journals, err := a.svc.Journals(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if journals == nil {
		journals = []model.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, journals)
}

// GetResults handles GET /api/v1/orders/{orderID}/results
func (a *API) GetResults(w http.ResponseWriter, r *http.Request) {
	sum, err := a.svc.Results(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GetBetSlip handles GET /api/v1/orders/{orderID}/betslip
// Responds with plain text when ?format=text.
func (a *API) GetBetSlip(w http.ResponseWriter, r *http.Request) {
	slip, err := a.svc.BetSlip(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(slip.String()))
		return
	}
	writeJSON(w, http.StatusOK, slip)
}

// GetBalances handles GET /api/v1/reports/balances
func (a *API) GetBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := a.svc.ProjectBalances(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

// GetTrialBalance handles GET /api/v1/reports/trial-balance
func (a *API) GetTrialBalance(w http.ResponseWriter, r *http.Request) {
	tb, err := a.svc.TrialBalance(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rows":     tb.Rows,
		"total_dr": tb.TotalDR,
		"total_cr": tb.TotalCR,
		"balanced": tb.Balanced(),
	})
}

func orderFilter(w http.ResponseWriter, r *http.Request) (store.OrderFilter, bool) {
	q := r.URL.Query()
	f := store.OrderFilter{Agent: q.Get("agent"), RequestBy: q.Get("request_by")}
	if s := q.Get("status"); s != "" {
		status, err := model.ParseStatus(s)
		if err != nil {
			writeServiceError(w, err)
			return f, false
		}
		f.Status = status
	}
	return f, true
}

// --- Responses ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response. guard is omitted when empty.
func writeError(w http.ResponseWriter, message string, status int, guard string) {
	body := map[string]string{"error": message}
	if guard != "" {
		body["guard"] = guard
	}
	writeJSON(w, status, body)
}

// writeServiceError maps a Service error to its HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrPreconditionViolation):
		writeError(w, err.Error(), http.StatusConflict, model.GuardOf(err))
	case errors.Is(err, model.ErrConcurrentModification):
		writeError(w, err.Error(), http.StatusConflict, "")
	case errors.Is(err, model.ErrMalformedInput):
		writeError(w, err.Error(), http.StatusBadRequest, "")
	case errors.Is(err, model.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound, "")
	case errors.Is(err, model.ErrExternalUnavailable):
		writeError(w, "storage unavailable", http.StatusServiceUnavailable, "")
	default:
		writeError(w, "internal error", http.StatusInternalServerError, "")
	}
}
