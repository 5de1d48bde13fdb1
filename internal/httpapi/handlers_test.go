package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"agentsched.org/internal/agent"
	"agentsched.org/internal/audit"
	"agentsched.org/internal/auth"
	"agentsched.org/internal/extract"
	"agentsched.org/internal/orchestrator"
	"agentsched.org/internal/sink"
	"agentsched.org/internal/stream"
)

// Monday 2025-03-03 09:00 UTC.
var ref = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

type apiClient struct {
	baseURL string
	client  *http.Client
	stream  *stream.Stream
	t       *testing.T
}

func newTestAPI(t *testing.T, ready readinessChecker) *apiClient {
	t.Helper()

	clock := func() time.Time { return ref }
	policy, err := auth.NewPolicy(auth.DefaultGrants())
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	keys, err := auth.NewStaticKey("0123456789abcdef0123456789abcdef", 1)
	if err != nil {
		t.Fatalf("NewStaticKey: %v", err)
	}
	tokens, err := auth.NewService(policy, keys, auth.WithClock(clock))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	st := stream.New()
	log, err := audit.New(context.Background(), audit.NewMemoryStore(), audit.WithPublisher(st))
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}
	cal := sink.NewMemoryCalendar()
	planner := agent.NewPlanner(extract.New(), tokens, cal, agent.WithConflictCheck(cal))
	notifier := agent.NewNotifier(tokens, &sink.Outbox{}, agent.WithNotifierClock(clock))
	orch := orchestrator.New(planner, notifier, tokens, log,
		orchestrator.WithClock(clock), orchestrator.WithStatusRecorder(cal))

	api := New(Config{Version: "test", Ready: ready, RateRPS: 100, RateBurst: 100}, orch, log, st)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), stream: st, t: t}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	resp, err := c.client.Get(u.String())
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestScheduleThenQueryAudit(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.post("/v1/schedule", map[string]any{
		"user_request": "Schedule a team meeting tomorrow at 2 PM for 1 hour",
		"user_id":      "user-1",
	}, map[string]string{"X-Request-ID": "req-api-1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	out := decode[orchestrator.Response](t, resp)
	if out.State != orchestrator.NotifySent || !strings.HasPrefix(out.RequestID, "req_") || out.EventID == "" {
		t.Fatalf("unexpected response: %+v", out)
	}

	resp = api.get("/v1/audit", url.Values{"request_id": {out.RequestID}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	page := decode[auditResponse](t, resp)
	if len(page.Items) != 3 || page.Limit != audit.DefaultLimit {
		t.Fatalf("expected 3 audit entries, got %+v", page)
	}
	if page.Items[0].Seq <= page.Items[1].Seq {
		t.Fatal("audit entries must be most recent first")
	}

	resp = api.get("/v1/audit", url.Values{"event_id": {out.EventID}, "actor": {auth.SubjectNotifier}, "limit": {"5000"}})
	page = decode[auditResponse](t, resp)
	if len(page.Items) != 1 || page.Limit != audit.MaxLimit {
		t.Fatalf("unexpected filtered page: %+v", page)
	}
}

func TestScheduleFailures(t *testing.T) {
	api := newTestAPI(t, nil)
	cases := []struct {
		name    string
		body    any
		headers map[string]string
		code    int
		reason  string
	}{
		{"ambiguous", map[string]any{"user_request": "Schedule a call tomorrow at 2pm or maybe 3pm", "user_id": "u"}, nil, http.StatusUnprocessableEntity, orchestrator.KindAmbiguousIntent},
		{"unparsable", map[string]any{"user_request": "Schedule a team meeting", "user_id": "u"}, nil, http.StatusUnprocessableEntity, orchestrator.KindUnparsableRequest},
		{"missing user", map[string]any{"user_request": "Lunch tomorrow at noon"}, nil, http.StatusBadRequest, ""},
		{"caller mismatch", map[string]any{"user_request": "Lunch tomorrow at noon", "user_id": "u"}, map[string]string{"X-User-ID": "someone-else"}, http.StatusForbidden, ""},
		{"empty text", map[string]any{"user_request": "  ", "user_id": "u"}, nil, http.StatusBadRequest, ""},
		{"unknown field", map[string]any{"user_request": "Lunch tomorrow at noon", "user_id": "u", "extra": 1}, nil, http.StatusBadRequest, ""},
		{"trailing data", `{"user_request":"Lunch tomorrow at noon","user_id":"u"} {}`, nil, http.StatusBadRequest, ""},
		{"empty body", nil, nil, http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := api.post("/v1/schedule", tc.body, tc.headers)
			if resp.StatusCode != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, resp.StatusCode)
			}
			body := decode[map[string]any](t, resp)
			if tc.reason != "" {
				if body["reason"] != tc.reason || body["status"] != orchestrator.StatusFailed || body["failedStage"] != string(orchestrator.Planning) {
					t.Fatalf("unexpected body: %v", body)
				}
				return
			}
			if body["error"] == nil || body["request_id"] == nil {
				t.Fatalf("expected error payload, got %v", body)
			}
		})
	}
}

func TestScheduleConflict(t *testing.T) {
	api := newTestAPI(t, nil)
	body := map[string]any{"user_request": "Doctor appointment Thursday 3 PM", "user_id": "user-1"}
	if resp := api.post("/v1/schedule", body, nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first request: %d", resp.StatusCode)
	}
	resp := api.post("/v1/schedule", body, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestScheduleUsesCallerHeader(t *testing.T) {
	api := newTestAPI(t, nil)
	resp := api.post("/v1/schedule", map[string]any{"user_request": "Lunch tomorrow at noon"}, map[string]string{"X-User-ID": "user-7"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	out := decode[orchestrator.Response](t, resp)
	if out.Event == nil || out.Event.UserID != "user-7" {
		t.Fatalf("event not owned by caller: %+v", out.Event)
	}
}

func TestMethodAndQueryValidation(t *testing.T) {
	api := newTestAPI(t, nil)

	resp := api.get("/v1/schedule", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("expected 405 with Allow, got %d %q", resp.StatusCode, resp.Header.Get("Allow"))
	}
	resp.Body.Close()

	for _, params := range []url.Values{{"limit": {"abc"}}, {"limit": {"0"}}, {"outcome": {"Maybe"}}} {
		resp := api.get("/v1/audit", params)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%v: expected 400, got %d", params, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp = api.get("/nowhere", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealthReadyInfo(t *testing.T) {
	api := newTestAPI(t, nil)
	resp := api.get("/healthz", nil)
	if body := decode[map[string]any](t, resp); body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected healthz: %v", body)
	}
	resp = api.get("/readyz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected readyz status: %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = api.get("/v1/info", nil)
	if body := decode[map[string]any](t, resp); body["name"] != serviceName {
		t.Fatalf("unexpected info: %v", body)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing")
	}

	failing := newTestAPI(t, ReadyProbe{Checks: []func(context.Context) error{
		func(context.Context) error { return errors.New("db down") },
	}})
	resp = failing.get("/readyz", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAuditStream(t *testing.T) {
	api := newTestAPI(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/audit/stream?outcome=Failed", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %s", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("expected stream preamble, got %q (%v)", line, err)
	}

	api.post("/v1/schedule", map[string]any{"user_request": "Lunch tomorrow at noon", "user_id": "u"}, nil).Body.Close()
	api.post("/v1/schedule", map[string]any{"user_request": "Schedule a team meeting", "user_id": "u"}, nil).Body.Close()

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var entry audit.Entry
		if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &entry); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if entry.Outcome != audit.OutcomeFailed || entry.Action != audit.ActionPlan {
			t.Fatalf("filter not applied: %+v", entry)
		}
		return
	}
}

func TestReusedClientRequestIDKeepsRunsApart(t *testing.T) {
	api := newTestAPI(t, nil)

	var runs []orchestrator.Response
	for _, text := range []string{"Standup tomorrow at 10am", "Retro friday at 4pm"} {
		resp := api.post("/v1/schedule", map[string]any{"user_request": text, "user_id": "user-1"},
			map[string]string{"X-Request-ID": "same-id"})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("%q: unexpected status %d", text, resp.StatusCode)
		}
		if got := resp.Header.Get("X-Correlation-ID"); got != "same-id" {
			t.Fatalf("correlation header: %q", got)
		}
		out := decode[orchestrator.Response](t, resp)
		if resp.Header.Get("X-Request-ID") != out.RequestID {
			t.Fatalf("header %q does not match response %q", resp.Header.Get("X-Request-ID"), out.RequestID)
		}
		runs = append(runs, out)
	}
	if runs[0].RequestID == runs[1].RequestID {
		t.Fatalf("two runs share request id %q", runs[0].RequestID)
	}

	for _, run := range runs {
		page := decode[auditResponse](t, api.get("/v1/audit", url.Values{"request_id": {run.RequestID}}))
		if len(page.Items) != 3 {
			t.Fatalf("request %s: expected 3 entries, got %d", run.RequestID, len(page.Items))
		}
		for _, e := range page.Items {
			if e.EventID != run.EventID {
				t.Fatalf("entry %+v belongs to another run", e)
			}
		}
	}
}
