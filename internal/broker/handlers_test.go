package broker_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/MR-Coder-Coder/Bet-Broker/internal/broker"
	"github.com/MR-Coder-Coder/Bet-Broker/internal/model"
	"github.com/MR-Coder-Coder/Bet-Broker/internal/store"
)

// newTestRouter mounts the API under /api/v1 on an in-memory store.
func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	svc, _ := newTestService(t, store.NewMemoryStore())
	r := chi.NewRouter()
	r.Route("/api/v1", broker.NewAPI(svc).Routes)
	return r
}

func do(t *testing.T, router chi.Router, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(broker.HeaderActorID, actor)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %s", w.Body.String())
	}
	return body
}

func createOrder(t *testing.T, router chi.Router) model.Order {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/orders", "manager", orderRequest())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var o model.Order
	json.Unmarshal(w.Body.Bytes(), &o)
	return o
}

func TestHTTP_FullWorkflow(t *testing.T) {
	router := newTestRouter(t)
	o := createOrder(t, router)
	base := "/api/v1/orders/" + o.ID

	w := do(t, router, "POST", base+"/transition", "manager", map[string]any{
		"to":        "In-Progress",
		"suppliers": []map[string]any{{"agent": "A"}, {"agent": "B"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("assign: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	for _, f := range []struct{ agent, amount string }{{"A", "50"}, {"B", "25"}} {
		w = do(t, router, "POST", base+"/events", f.agent, map[string]any{
			"type": "agent_fill", "amount": f.amount, "price": "2",
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("fill: expected 201, got %d: %s", w.Code, w.Body.String())
		}
	}

	w = do(t, router, "GET", base+"/summary", "", nil)
	var sum broker.SummaryView
	json.Unmarshal(w.Body.Bytes(), &sum)
	if !sum.AmountTotal.Equal(d("75")) || sum.Status != model.StatusInProgress {
		t.Errorf("unexpected summary: %s %s", sum.AmountTotal, sum.Status)
	}

	w = do(t, router, "POST", base+"/transition", "manager", map[string]any{"to": "Closed-UnSettled"})
	if w.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// "lose" is an accepted spelling of loss.
	w = do(t, router, "POST", base+"/settle", "manager", map[string]string{"result": "lose"})
	if w.Code != http.StatusOK {
		t.Fatalf("settle: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var positions []model.PositionEntry
	json.Unmarshal(w.Body.Bytes(), &positions)
	if len(positions) != 4 || !positions[0].DR.Equal(d("75")) {
		t.Errorf("expected client DR 75 on a loss, got %+v", positions)
	}

	w = do(t, router, "POST", base+"/settle", "manager", map[string]string{"result": "win"})
	if w.Code != http.StatusConflict {
		t.Fatalf("second settle: expected 409, got %d", w.Code)
	}
	if g := decodeError(t, w)["guard"]; g != model.GuardAlreadySettled {
		t.Errorf("expected guard %s, got %s", model.GuardAlreadySettled, g)
	}

	w = do(t, router, "GET", base+"/betslip?format=text", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Bet Slip "+o.ID) {
		t.Errorf("unexpected bet slip: %d %s", w.Code, w.Body.String())
	}

	w = do(t, router, "GET", "/api/v1/reports/trial-balance", "", nil)
	var tb struct {
		Balanced bool `json:"balanced"`
	}
	json.Unmarshal(w.Body.Bytes(), &tb)
	if w.Code != http.StatusOK || !tb.Balanced {
		t.Errorf("trial balance should balance: %s", w.Body.String())
	}

	w = do(t, router, "GET", "/api/v1/orders?status=Closed-Settled", "", nil)
	var orders []model.Order
	json.Unmarshal(w.Body.Bytes(), &orders)
	if len(orders) != 1 || orders[0].ID != o.ID {
		t.Errorf("expected the settled order in the filter, got %d", len(orders))
	}
}

func TestHTTP_ErrorMapping(t *testing.T) {
	router := newTestRouter(t)
	o := createOrder(t, router)
	base := "/api/v1/orders/" + o.ID

	tests := []struct {
		name   string
		method string
		path   string
		actor  string
		body   any
		status int
		guard  string
	}{
		{"unknown order", "GET", "/api/v1/orders/nope", "", nil, http.StatusNotFound, ""},
		{"invalid jump", "POST", base + "/transition", "manager", map[string]string{"to": "Closed-Settled", "result": "win"}, http.StatusConflict, model.GuardInvalidTransition},
		{"no suppliers", "POST", base + "/transition", "manager", map[string]string{"to": "In-Progress"}, http.StatusConflict, model.GuardNoSuppliers},
		{"unknown status", "POST", base + "/transition", "manager", map[string]string{"to": "Finished"}, http.StatusBadRequest, ""},
		{"unknown result", "POST", base + "/settle", "manager", map[string]string{"result": "push"}, http.StatusBadRequest, ""},
		{"fill on open order", "POST", base + "/events", "A", map[string]string{"type": "agent_fill", "amount": "1", "price": "2"}, http.StatusConflict, model.GuardWrongStatus},
		{"unknown event type", "POST", base + "/events", "A", map[string]string{"type": "cash_out"}, http.StatusBadRequest, ""},
		{"missing bet", "POST", "/api/v1/orders", "manager", map[string]string{"event": "x", "request_by": "c"}, http.StatusBadRequest, ""},
		{"bad status filter", "GET", "/api/v1/orders?status=nope", "", nil, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, tt.actor, tt.body)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			body := decodeError(t, w)
			if body["error"] == "" {
				t.Error("expected an error message")
			}
			if body["guard"] != tt.guard {
				t.Errorf("expected guard %q, got %q", tt.guard, body["guard"])
			}
		})
	}
}

func TestHTTP_InvalidBody(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest("POST", "/api/v1/orders", strings.NewReader("{"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHTTP_SubmitDirect(t *testing.T) {
	router := newTestRouter(t)
	w := do(t, router, "POST", "/api/v1/orders/direct", "trader-1", orderRequest())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var o model.Order
	json.Unmarshal(w.Body.Bytes(), &o)
	if o.Origin != model.OriginTrader || o.Status != model.StatusInProgress {
		t.Errorf("expected trader order In-Progress, got %s %s", o.Origin, o.Status)
	}

	w = do(t, router, "GET", "/api/v1/summaries?agent=trader-1", "", nil)
	var views []broker.SummaryView
	json.Unmarshal(w.Body.Bytes(), &views)
	if len(views) != 1 || views[0].Assignments != 1 {
		t.Errorf("expected one summary with one assignment, got %+v", views)
	}
}
