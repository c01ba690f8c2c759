package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/steemit/pulse/internal/cache/cachetest"
	"github.com/steemit/pulse/internal/checkin"
	"github.com/steemit/pulse/internal/heat"
	"github.com/steemit/pulse/internal/location"
	"github.com/steemit/pulse/internal/models"
	"github.com/steemit/pulse/internal/ranking"
	"github.com/steemit/pulse/internal/syncer"
)

type stubLocator struct {
	lastIP string
	err    error
}

func (s *stubLocator) Resolve(_ context.Context, _, ip string) (*models.Location, error) {
	s.lastIP = ip
	if s.err != nil {
		return nil, s.err
	}
	return &models.Location{City: "Paris", Country: "France", IP: ip}, nil
}

type stubSeeder struct {
	calls int
	force bool
}

func (s *stubSeeder) SeedContentFromStore(_ context.Context, force bool) (syncer.SeedReport, error) {
	s.calls++
	s.force = force
	return syncer.SeedReport{Content: 3}, nil
}

type stubHealth struct{ err error }

func (s stubHealth) Health(context.Context) error { return s.err }

type testServer struct {
	engine  *gin.Engine
	locator *stubLocator
	seeder  *stubSeeder
}

func newTestServer(t *testing.T, mutate func(*Deps)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	c, _ := cachetest.New(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	h := heat.NewEngine(c, heat.DefaultWeights(), heat.WithClock(clock))

	ts := &testServer{engine: gin.New(), locator: &stubLocator{}, seeder: &stubSeeder{}}
	deps := Deps{
		Engagement: h,
		Ranking:    ranking.NewService(c, h),
		CheckIns:   checkin.NewEngine(c, checkin.DefaultRules(), checkin.WithClock(clock), checkin.WithCalendar(time.UTC)),
		Locator:    ts.locator,
		Seeder:     ts.seeder,
		Cache:      c,
		DB:         stubHealth{},
		AdminToken: "secret",
	}
	if mutate != nil {
		mutate(&deps)
	}
	NewRouter(deps).SetupRoutes(ts.engine)
	return ts
}

func (ts *testServer) call(t *testing.T, method string, params interface{}, headers map[string]string) JSONRPCResponse {
	t.Helper()
	body, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("%s: HTTP %d", method, w.Code)
	}
	var resp JSONRPCResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s: decode response: %v", method, err)
	}
	return resp
}

func resultMap(t *testing.T, resp JSONRPCResponse) map[string]interface{} {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	m, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result type %T", resp.Result)
	}
	return m
}

func TestEngagementMethods(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, kind := range []string{"view", "like", "share"} {
		resp := ts.call(t, "engage.record_interaction", map[string]string{"content_id": "post-1", "kind": kind}, nil)
		resultMap(t, resp)
	}
	ts.call(t, "engage.record_interaction", map[string]string{"content_id": "post-2", "kind": "view"}, nil)

	hot := resultMap(t, ts.call(t, "engage.get_hot", map[string]int{"limit": 1}, nil))
	items := hot["items"].([]interface{})
	if len(items) != 1 || items[0].(map[string]interface{})["content_id"] != "post-1" {
		t.Errorf("Unexpected hot list: %v", items)
	}

	stats := resultMap(t, ts.call(t, "engage.get_stats", map[string]string{"content_id": "post-1"}, nil))
	if stats["heat_score"].(float64) != 21 {
		t.Errorf("Expected heat score 21, got %v", stats["heat_score"])
	}

	resp := ts.call(t, "engage.get_stats", map[string]string{"content_id": "nope"}, nil)
	if resp.Error == nil || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("Expected not found, got %+v", resp.Error)
	}
}

func TestRecordInteractionValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name   string
		params interface{}
	}{
		{"unknown kind", map[string]string{"content_id": "p", "kind": "bookmark"}},
		{"missing id", map[string]string{"kind": "view"}},
		{"positional params", []string{"p", "view"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.call(t, "engage.record_interaction", tt.params, nil)
			if resp.Error == nil || resp.Error.Code != ErrInvalidParams {
				t.Errorf("Expected invalid params, got %+v", resp.Error)
			}
		})
	}
}

func TestCheckInMethods(t *testing.T) {
	ts := newTestServer(t, nil)
	user := map[string]string{UserHeader: "alice", "X-Forwarded-For": "8.8.8.8"}

	res := resultMap(t, ts.call(t, "checkin.check_in", nil, user))
	if res["success"] != true || res["points_awarded"].(float64) != 10 {
		t.Errorf("Unexpected check-in result: %v", res)
	}
	if loc, ok := res["location"].(map[string]interface{}); !ok || loc["city"] != "Paris" {
		t.Errorf("Expected resolved location, got %v", res["location"])
	}
	if ts.locator.lastIP != "8.8.8.8" {
		t.Errorf("Expected forwarded address to be used, got %q", ts.locator.lastIP)
	}

	res = resultMap(t, ts.call(t, "checkin.check_in", nil, user))
	if res["success"] != false || res["reason"] != "already-checked-in" {
		t.Errorf("Expected already-checked-in rejection, got %v", res)
	}

	status := resultMap(t, ts.call(t, "checkin.get_status", nil, user))
	if status["has_checked_in_today"] != true || status["points"].(float64) != 10 {
		t.Errorf("Unexpected status: %v", status)
	}

	resp := ts.call(t, "checkin.check_in", nil, nil)
	if resp.Error == nil || resp.Error.Code != ErrCodeUnauthorized {
		t.Errorf("Expected unauthorized without user header, got %+v", resp.Error)
	}
}

func TestCheckInWithoutLocation(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.locator.err = location.ErrLocationUnavailable

	res := resultMap(t, ts.call(t, "checkin.check_in", nil, map[string]string{UserHeader: "bob"}))
	if res["success"] != true {
		t.Errorf("Location failure must not fail the check-in: %v", res)
	}
	if _, ok := res["location"]; ok {
		t.Errorf("Expected location to be omitted, got %v", res["location"])
	}
}

func TestSeedContentRequiresAdmin(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.call(t, "admin.seed_content", nil, map[string]string{AdminHeader: "wrong"})
	if resp.Error == nil || resp.Error.Code != ErrCodeUnauthorized {
		t.Errorf("Expected unauthorized, got %+v", resp.Error)
	}
	if ts.seeder.calls != 0 {
		t.Error("Seeder must not run without the admin token")
	}

	res := resultMap(t, ts.call(t, "admin.seed_content", nil, map[string]string{AdminHeader: "secret"}))
	if res["content"].(float64) != 3 || res["users"].(float64) != 0 {
		t.Errorf("Unexpected seed report: %v", res)
	}
	if ts.seeder.force {
		t.Error("Expected force to default to false")
	}

	resultMap(t, ts.call(t, "admin.seed_content", map[string]bool{"force": true}, map[string]string{AdminHeader: "secret"}))
	if ts.seeder.calls != 2 || !ts.seeder.force {
		t.Errorf("Expected a forced reseed, calls=%d force=%v", ts.seeder.calls, ts.seeder.force)
	}
}

func TestProtocolErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.call(t, "engage.nope", nil, nil)
	if resp.Error == nil || resp.Error.Code != ErrMethodNotFound {
		t.Errorf("Expected method not found, got %+v", resp.Error)
	}

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	var parsed JSONRPCResponse
	_ = json.Unmarshal(w.Body.Bytes(), &parsed)
	if parsed.Error == nil || parsed.Error.Code != ErrParseError {
		t.Errorf("Expected parse error, got %s", w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		db     error
		want   int
		status string
	}{
		{"healthy", nil, http.StatusOK, "OK"},
		{"database down", errors.New("refused"), http.StatusOK, "DEGRADED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, func(d *Deps) { d.DB = stubHealth{err: tt.db} })
			w := httptest.NewRecorder()
			ts.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			if w.Code != tt.want {
				t.Errorf("HTTP %d, want %d", w.Code, tt.want)
			}
			var body map[string]interface{}
			_ = json.Unmarshal(w.Body.Bytes(), &body)
			if body["status"] != tt.status {
				t.Errorf("status = %v, want %s", body["status"], tt.status)
			}
		})
	}

	ts := newTestServer(t, func(d *Deps) { d.Cache = stubHealth{err: errors.New("down")} })
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when the counter store is down, got %d", w.Code)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{heat.ErrUnknownKind, ErrInvalidParams},
		{checkin.ErrNotFound, ErrCodeNotFound},
		{checkin.ErrContention, ErrCodeContention},
		{NewError(ErrCodeUnauthorized, "x"), ErrCodeUnauthorized},
		{errors.New("boom"), ErrInternalError},
	}
	for _, tt := range tests {
		if code, _ := classify(tt.err); code != tt.code {
			t.Errorf("classify(%v) = %d, want %d", tt.err, code, tt.code)
		}
	}
}
