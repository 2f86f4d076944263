package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tablecall/internal/auth"
	"tablecall/internal/config"
	"tablecall/internal/customers"
	"tablecall/internal/journal"
	"tablecall/internal/schedule"
	"tablecall/internal/voice"

	"github.com/gin-gonic/gin"
)

type stubProvider struct {
	calls      []voice.CallSummary
	recording  string
	recErr     error
	outcomeErr error
	submitted  int
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) SubmitCall(_ context.Context, _ voice.CallRequest) (voice.CallSubmission, error) {
	p.submitted++
	return voice.CallSubmission{CallID: "call-1"}, nil
}

func (p *stubProvider) CallOutcome(_ context.Context, id string) (voice.CallOutcome, error) {
	if p.outcomeErr != nil {
		return voice.CallOutcome{}, p.outcomeErr
	}
	return voice.CallOutcome{CallID: id, State: voice.CallPending}, nil
}

func (p *stubProvider) RecordingURL(_ context.Context, _ string) (string, error) {
	return p.recording, p.recErr
}

func (p *stubProvider) ListCalls(_ context.Context, limit int) ([]voice.CallSummary, error) {
	if limit < len(p.calls) {
		return p.calls[:limit], nil
	}
	return p.calls, nil
}

type stubDispatcher struct{ provider *stubProvider }

func (d stubDispatcher) Dispatch(ctx context.Context, c customers.Customer, flow voice.Flow) (voice.CallSubmission, error) {
	return d.provider.SubmitCall(ctx, voice.CallRequest{})
}

func testHandlers(t *testing.T) (Handlers, *customers.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}

	store := customers.NewMemoryStore()
	svc := customers.NewService(store)
	provider := &stubProvider{}
	sched := schedule.New(schedule.Config{}, schedule.Deps{
		Store:      store,
		Dispatcher: stubDispatcher{provider: provider},
		Outcomes:   provider,
	})

	h := Handlers{
		Auth:      manager,
		Creds:     auth.StaticCredentials{Username: "admin", Password: "pass", Role: "owner"},
		Customers: svc,
		Journal:   journal.NewService(journal.NewMemoryRepo()),
		Scheduler: sched,
		Provider:  provider,
	}
	return h, svc
}

func do(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLogin(t *testing.T) {
	h, _ := testHandlers(t)
	r := gin.New()
	r.POST("/login", h.Login)

	w := do(r, http.MethodPost, "/login", loginRequest{Username: "admin", Password: "pass"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["access_token"] == "" || resp["refresh_token"] == "" {
		t.Fatalf("missing tokens: %v", resp)
	}

	if w := do(r, http.MethodPost, "/login", loginRequest{Username: "admin", Password: "wrong"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", w.Code)
	}
}

func TestRefresh(t *testing.T) {
	h, _ := testHandlers(t)
	r := gin.New()
	r.POST("/refresh", h.Refresh)

	pair, err := h.Auth.IssuePair(time.Now(), "admin", "owner")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	w := do(r, http.MethodPost, "/refresh", refreshRequest{RefreshToken: pair.RefreshToken})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}

	if w := do(r, http.MethodPost, "/refresh", refreshRequest{RefreshToken: "garbage"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d", w.Code)
	}
	// An access token is not a refresh token.
	if w := do(r, http.MethodPost, "/refresh", refreshRequest{RefreshToken: pair.AccessToken}); w.Code != http.StatusUnauthorized {
		t.Fatalf("access-as-refresh status = %d", w.Code)
	}
}

func TestCustomerCRUD(t *testing.T) {
	h, _ := testHandlers(t)
	r := gin.New()
	r.POST("/customers", h.CreateCustomer)
	r.GET("/customers", h.ListCustomers)
	r.GET("/customers/:customer_id", h.GetCustomer)
	r.PATCH("/customers/:customer_id", h.UpdateCustomer)

	w := do(r, http.MethodPost, "/customers", customers.CreateRequest{Name: "Asha", Mobile: "+1 415 555 0100"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", w.Code, w.Body.String())
	}
	var created customers.Customer
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Status != customers.StatusNew || created.Mobile != "+14155550100" {
		t.Fatalf("created = %+v", created)
	}

	if w := do(r, http.MethodPost, "/customers", customers.CreateRequest{Name: "X", Mobile: "not-a-phone"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad mobile status = %d", w.Code)
	}

	if w := do(r, http.MethodGet, "/customers/"+created.ID, nil); w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/customers/ghost", nil); w.Code != http.StatusNotFound {
		t.Fatalf("get unknown status = %d", w.Code)
	}

	email := "asha@example.com"
	w = do(r, http.MethodPatch, "/customers/"+created.ID, updateCustomerRequest{Email: &email})
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d body = %s", w.Code, w.Body.String())
	}
	var patched customers.Customer
	if err := json.Unmarshal(w.Body.Bytes(), &patched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if patched.Email != email {
		t.Fatalf("patched email = %q", patched.Email)
	}

	bogus := "imaginary_status"
	if w := do(r, http.MethodPatch, "/customers/"+created.ID, updateCustomerRequest{Status: &bogus}); w.Code != http.StatusBadRequest {
		t.Fatalf("bogus status code = %d", w.Code)
	}

	w = do(r, http.MethodGet, "/customers?status=new", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var listed struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if listed.Count != 1 {
		t.Fatalf("list count = %d", listed.Count)
	}
}

func TestCustomerJournal(t *testing.T) {
	h, _ := testHandlers(t)
	r := gin.New()
	r.POST("/customers", h.CreateCustomer)
	r.GET("/customers/:customer_id/journal", h.CustomerJournal)

	w := do(r, http.MethodPost, "/customers", customers.CreateRequest{Name: "Asha", Mobile: "+14155550100"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}
	var created customers.Customer
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = do(r, http.MethodGet, "/customers/"+created.ID+"/journal", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("journal status = %d body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Count   int             `json:"count"`
		Entries []journal.Entry `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Entries[0].Event != journal.EventCustomerCreated {
		t.Fatalf("journal = %+v", resp)
	}

	if w := do(r, http.MethodGet, "/customers/ghost/journal", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown customer status = %d", w.Code)
	}
}

func TestTriggerCall(t *testing.T) {
	h, svc := testHandlers(t)
	r := gin.New()
	r.POST("/customers/:customer_id/call", h.TriggerCall)

	rec, err := svc.Create(context.Background(), customers.CreateRequest{Name: "Asha", Mobile: "+14155550100"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	w := do(r, http.MethodPost, "/customers/"+rec.ID+"/call", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("trigger status = %d body = %s", w.Code, w.Body.String())
	}

	// The guard holds while the first call is out.
	if w := do(r, http.MethodPost, "/customers/"+rec.ID+"/call", nil); w.Code != http.StatusConflict {
		t.Fatalf("second trigger status = %d", w.Code)
	}

	if w := do(r, http.MethodPost, "/customers/ghost/call", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown trigger status = %d", w.Code)
	}
}

func TestRecording(t *testing.T) {
	h, svc := testHandlers(t)
	h.Provider.(*stubProvider).recording = "https://cdn.example.com/rec-7001.mp3"
	r := gin.New()
	r.GET("/customers/:customer_id/recording", h.Recording)
	r.POST("/customers/:customer_id/call", h.TriggerCall)

	rec, err := svc.Create(context.Background(), customers.CreateRequest{Name: "Asha", Mobile: "+14155550100"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Nothing to play back before the first call.
	if w := do(r, http.MethodGet, "/customers/"+rec.ID+"/recording", nil); w.Code != http.StatusNotFound {
		t.Fatalf("no-call status = %d", w.Code)
	}

	if w := do(r, http.MethodPost, "/customers/"+rec.ID+"/call", nil); w.Code != http.StatusAccepted {
		t.Fatalf("trigger status = %d", w.Code)
	}
	w := do(r, http.MethodGet, "/customers/"+rec.ID+"/recording", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("recording status = %d body = %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["call_id"] != "call-1" || resp["recording_url"] != "https://cdn.example.com/rec-7001.mp3" {
		t.Fatalf("resp = %v", resp)
	}
}

func TestWebhookSecret(t *testing.T) {
	h, svc := testHandlers(t)
	h.WebhookSecret = "hook-secret"
	r := gin.New()
	r.POST("/webhooks/call-result", h.CallResult)

	rec, err := svc.Create(context.Background(), customers.CreateRequest{Name: "Asha", Mobile: "+14155550100"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	body := map[string]any{"customer_id": rec.ID, "call_id": 41, "status": "completed"}
	raw, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/call-result", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhooks/call-result", bytes.NewReader(raw))
	req.Header.Set(webhookTokenHeader, "hook-secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid webhook status = %d body = %s", w.Code, w.Body.String())
	}

	// Unknown customers bounce so proxy delivery logs show the failure.
	body["customer_id"] = "ghost"
	raw, _ = json.Marshal(body)
	req = httptest.NewRequest(http.MethodPost, "/webhooks/call-result", bytes.NewReader(raw))
	req.Header.Set(webhookTokenHeader, "hook-secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown customer status = %d", w.Code)
	}
}

func TestListCalls(t *testing.T) {
	h, _ := testHandlers(t)
	h.Provider.(*stubProvider).calls = []voice.CallSummary{
		{CallID: "7001", State: voice.CallCompleted},
		{CallID: "7002", State: voice.CallPending},
	}
	r := gin.New()
	r.GET("/calls", h.ListCalls)

	w := do(r, http.MethodGet, "/calls?limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("count = %d", resp.Count)
	}

	if w := do(r, http.MethodGet, "/calls?limit=zero", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", w.Code)
	}
}

func TestCallDetail(t *testing.T) {
	h, _ := testHandlers(t)
	r := gin.New()
	r.GET("/calls/:call_id", h.CallDetail)

	w := do(r, http.MethodGet, "/calls/7001", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var out voice.CallOutcome
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.CallID != "7001" || out.State != voice.CallPending {
		t.Fatalf("outcome = %+v", out)
	}

	h.Provider.(*stubProvider).outcomeErr = voice.ErrCallNotFound
	if w := do(r, http.MethodGet, "/calls/9999", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing call status = %d", w.Code)
	}
}
