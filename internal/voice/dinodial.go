package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrCallNotFound means the provider has no call with the given id.
	ErrCallNotFound = errors.New("call not found")
	// ErrRecordingNotAvailable means no recording exists (yet) for the call.
	ErrRecordingNotAvailable = errors.New("recording not available")
)

// DinodialConfig controls the Dinodial proxy adapter.
// BaseURL includes the API prefix, e.g. https://proxy.example.com/api/v1.
type DinodialConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// Engine defaults merged into every make-call request.
	Prompt         string
	EvaluationTool json.RawMessage
	VADEngine      string
}

func (c DinodialConfig) withDefaults() DinodialConfig {
	out := c
	if out.Timeout <= 0 {
		out.Timeout = 15 * time.Second
	}
	if out.VADEngine == "" {
		out.VADEngine = "CAWL"
	}
	return out
}

// DinodialProvider talks to the Dinodial voice-bot proxy. Every response is
// wrapped in a {status, data, status_code, message} envelope; only
// status == "success" carries usable data.
type DinodialProvider struct {
	cfg  DinodialConfig
	http *http.Client
}

func NewDinodialProvider(cfg DinodialConfig) *DinodialProvider {
	cfg = cfg.withDefaults()
	return &DinodialProvider{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *DinodialProvider) Name() string { return "dinodial" }

type envelope struct {
	Status     string          `json:"status"`
	Data       json.RawMessage `json:"data"`
	StatusCode int             `json:"status_code"`
	Message    string          `json:"message"`
}

func (p *DinodialProvider) SubmitCall(ctx context.Context, req CallRequest) (CallSubmission, error) {
	body := makeCallBody{
		CallRequest:    req,
		Prompt:         p.cfg.Prompt,
		EvaluationTool: p.cfg.EvaluationTool,
		VADEngine:      p.cfg.VADEngine,
	}
	env, _, err := p.do(ctx, http.MethodPost, "make-call/", body)
	if err != nil {
		return CallSubmission{}, fmt.Errorf("dinodial make-call: %w", err)
	}

	var data struct {
		CallID flexID `json:"call_id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return CallSubmission{}, fmt.Errorf("dinodial make-call: decode data: %w", err)
	}
	if data.CallID == "" {
		return CallSubmission{}, fmt.Errorf("dinodial make-call: response carried no call_id")
	}
	return CallSubmission{CallID: string(data.CallID)}, nil
}

// makeCallBody is the wire shape of POST make-call/: the call request plus
// the engine defaults the proxy expects at the top level.
type makeCallBody struct {
	CallRequest
	Prompt         string          `json:"prompt,omitempty"`
	EvaluationTool json.RawMessage `json:"evaluation_tool,omitempty"`
	VADEngine      string          `json:"vad_engine,omitempty"`
}

func (p *DinodialProvider) CallOutcome(ctx context.Context, callID string) (CallOutcome, error) {
	env, code, err := p.do(ctx, http.MethodGet, "call/detail/"+url.PathEscape(callID)+"/", nil)
	if err != nil {
		if code == http.StatusNotFound {
			return CallOutcome{}, fmt.Errorf("dinodial call detail %s: %w", callID, ErrCallNotFound)
		}
		return CallOutcome{}, fmt.Errorf("dinodial call detail %s: %w", callID, err)
	}

	var data struct {
		CallID      flexID `json:"call_id"`
		Status      string `json:"status"`
		CompletedAt string `json:"completed_at"`
		EndTime     string `json:"end_time"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return CallOutcome{}, fmt.Errorf("dinodial call detail %s: decode data: %w", callID, err)
	}

	out := CallOutcome{
		CallID:  callID,
		State:   mapCompletionState(data.Status),
		Payload: env.Data,
	}
	if string(data.CallID) != "" {
		out.CallID = string(data.CallID)
	}
	if ts := firstNonEmpty(data.CompletedAt, data.EndTime); ts != "" {
		if t, ok := parseProviderTime(ts); ok {
			out.CompletedAt = t
		}
	}
	return out, nil
}

func (p *DinodialProvider) RecordingURL(ctx context.Context, callID string) (string, error) {
	env, code, err := p.do(ctx, http.MethodGet, "recording-url/"+url.PathEscape(callID)+"/", nil)
	if err != nil {
		if code == http.StatusBadRequest || code == http.StatusNotFound {
			return "", fmt.Errorf("dinodial recording %s: %w", callID, ErrRecordingNotAvailable)
		}
		return "", fmt.Errorf("dinodial recording %s: %w", callID, err)
	}

	var data struct {
		URL          string `json:"url"`
		RecordingURL string `json:"recording_url"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("dinodial recording %s: decode data: %w", callID, err)
	}
	u := firstNonEmpty(data.RecordingURL, data.URL)
	if u == "" {
		return "", fmt.Errorf("dinodial recording %s: %w", callID, ErrRecordingNotAvailable)
	}
	return u, nil
}

func (p *DinodialProvider) ListCalls(ctx context.Context, limit int) ([]CallSummary, error) {
	// TODO: walk the proxy's page param when a caller needs more than one page.
	path := "calls/list/"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	env, _, err := p.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("dinodial calls list: %w", err)
	}

	var rows []struct {
		CallID     flexID `json:"call_id"`
		CustomerID flexID `json:"customer_id"`
		Flow       string `json:"call_flow"`
		Status     string `json:"status"`
		CreatedAt  string `json:"created_at"`
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, fmt.Errorf("dinodial calls list: decode data: %w", err)
	}

	out := make([]CallSummary, 0, len(rows))
	for _, r := range rows {
		s := CallSummary{
			CallID:     string(r.CallID),
			CustomerID: string(r.CustomerID),
			Flow:       Flow(r.Flow),
			State:      mapCompletionState(r.Status),
		}
		if t, ok := parseProviderTime(r.CreatedAt); ok {
			s.CreatedAt = t
		}
		out = append(out, s)
	}
	return out, nil
}

// do issues one request and unwraps the proxy envelope. The returned int is
// the HTTP status code, set even when err is non-nil so callers can map
// provider status codes onto their own sentinels.
func (p *DinodialProvider) do(ctx context.Context, method, path string, body any) (envelope, int, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return envelope{}, 0, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+"/"+path, rdr)
	if err != nil {
		return envelope{}, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return envelope{}, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return envelope{}, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return envelope{}, resp.StatusCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, resp.StatusCode, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Status != "success" {
		msg := env.Message
		if msg == "" {
			msg = "provider reported failure"
		}
		return envelope{}, resp.StatusCode, fmt.Errorf("provider error: %s", msg)
	}
	return env, resp.StatusCode, nil
}

func parseProviderTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
