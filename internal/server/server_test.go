package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/threadpilot/internal/agent"
	"github.com/TobiSchelling/threadpilot/internal/config"
	"github.com/TobiSchelling/threadpilot/internal/database"
	"github.com/TobiSchelling/threadpilot/internal/model"
	"github.com/TobiSchelling/threadpilot/internal/session"
)

func scanReply() map[string]any {
	return map[string]any{
		"pipeline_status": "completed",
		"timestamp":       "2026-10-16T09:00:00Z",
		"thread_drafts": []any{
			map[string]any{"id": "a", "title": "Go news", "classification": "news", "body": "**bold** hook\n---\nsecond", "relevance_score": 90.0},
			map[string]any{"id": "b", "title": "Paper", "classification": "research", "body": "paper", "relevance_score": 70.0, "requires_review": true},
		},
	}
}

// testCaller answers scans with scanReply and publishes with publishReply.
func testCaller(publishReply any) agent.Caller {
	return agent.CallerFunc(func(_ context.Context, message, agentID string) (*agent.Result, error) {
		if agentID == "scan-pipeline" {
			return &agent.Result{Success: true, Response: scanReply()}, nil
		}
		return &agent.Result{Success: true, Response: publishReply}, nil
	})
}

var published = map[string]any{"publish_status": "success", "post_url": "https://t.me/c/1"}

func newTestServer(t *testing.T, caller agent.Caller, history History) (*Server, *session.Session) {
	t.Helper()
	cfg := config.Default()
	cfg.Settings.AutoApproveThreshold = 80
	sess := session.New(caller, cfg)
	srv, err := New(context.Background(), sess, history)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv, sess
}

func scanned(t *testing.T, sess *session.Session) {
	t.Helper()
	if err := sess.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
}

func do(srv *Server, method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestIndexRoute(t *testing.T) {
	srv, _ := newTestServer(t, testCaller(published), nil)

	rec := do(srv, "GET", "/", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No drafts to show") {
		t.Error("expected empty state in response body")
	}

	if rec := do(srv, "GET", "/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", rec.Code)
	}
}

func TestScanRoute(t *testing.T) {
	srv, sess := newTestServer(t, testCaller(published), nil)

	rec := do(srv, "POST", "/scan", url.Values{})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	waitFor(t, func() bool { return sess.Snapshot().State == model.ScanCompleted })

	body := do(srv, "GET", "/", nil).Body.String()
	for _, want := range []string{"Go news", "<strong>bold</strong> hook", "needs review", "2026-10-16T09:00:00Z"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in page", want)
		}
	}
}

func TestScanRouteRejectedWhileScanning(t *testing.T) {
	release := make(chan struct{})
	caller := agent.CallerFunc(func(ctx context.Context, _, _ string) (*agent.Result, error) {
		<-release
		return &agent.Result{Success: true, Response: scanReply()}, nil
	})
	srv, sess := newTestServer(t, caller, nil)
	defer close(release)

	do(srv, "POST", "/scan", url.Values{})
	waitFor(t, sess.Scanning)

	rec := do(srv, "POST", "/scan", url.Values{})
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "error=") {
		t.Errorf("expected error redirect, got %q", loc)
	}
	if !strings.Contains(do(srv, "GET", "/", nil).Body.String(), `http-equiv="refresh"`) {
		t.Error("expected auto refresh while scanning")
	}
}

func TestDraftActions(t *testing.T) {
	srv, sess := newTestServer(t, testCaller(published), nil)
	scanned(t, sess)

	if rec := do(srv, "POST", "/drafts/b/approve", url.Values{}); rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if !sess.IsApproved("b") {
		t.Error("expected b approved")
	}
	do(srv, "POST", "/drafts/a/revoke", url.Values{})
	if sess.IsApproved("a") {
		t.Error("expected a revoked")
	}
	do(srv, "POST", "/drafts/a/select", url.Values{})
	if got := sess.Selected(); len(got) != 1 || got[0] != "a" {
		t.Errorf("expected a selected, got %v", got)
	}
	do(srv, "POST", "/approve-selected", url.Values{})
	if !sess.IsApproved("a") {
		t.Error("expected selected draft approved")
	}
	do(srv, "POST", "/clear-selection", url.Values{})
	if len(sess.Selected()) != 0 {
		t.Error("expected selection cleared")
	}
	do(srv, "POST", "/select-visible", url.Values{})
	if len(sess.Selected()) != 2 {
		t.Error("expected all visible selected")
	}

	if rec := do(srv, "POST", "/drafts/zzz/approve", url.Values{}); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown draft, got %d", rec.Code)
	}
	if rec := do(srv, "POST", "/drafts/a/explode", url.Values{}); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown action, got %d", rec.Code)
	}
	if rec := do(srv, "GET", "/drafts/a/approve", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", rec.Code)
	}
}

func TestPublishRoute(t *testing.T) {
	srv, sess := newTestServer(t, testCaller(published), nil)
	scanned(t, sess)

	rec := do(srv, "POST", "/drafts/a/publish", url.Values{})
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("expected clean redirect, got %q", loc)
	}
	if r, _ := sess.Record("a"); r.Status != model.PublishSuccess {
		t.Errorf("expected success record, got %+v", r)
	}
	if !strings.Contains(do(srv, "GET", "/", nil).Body.String(), "https://t.me/c/1") {
		t.Error("expected post link on page")
	}
}

func TestPublishRouteFailure(t *testing.T) {
	srv, sess := newTestServer(t, testCaller("could not reach the network"), nil)
	scanned(t, sess)

	rec := do(srv, "POST", "/drafts/a/publish", url.Values{})
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "error=") {
		t.Errorf("expected error redirect, got %q", loc)
	}
	if r, _ := sess.Record("a"); r.Status != model.PublishFailed {
		t.Errorf("expected failed record, got %+v", r)
	}
}

func TestPublishAllRoute(t *testing.T) {
	srv, sess := newTestServer(t, testCaller(published), nil)
	scanned(t, sess)
	if err := sess.Approve("b"); err != nil {
		t.Fatal(err)
	}

	if rec := do(srv, "POST", "/publish-all", url.Values{}); rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	waitFor(t, func() bool {
		a, _ := sess.Record("a")
		b, _ := sess.Record("b")
		return a.Status == model.PublishSuccess && b.Status == model.PublishSuccess
	})
}

func TestFilterRoute(t *testing.T) {
	srv, sess := newTestServer(t, testCaller(published), nil)
	scanned(t, sess)

	do(srv, "POST", "/filter", url.Values{"classification": {"research"}, "review": {"needs_review"}})
	snap := sess.Snapshot()
	if snap.ClassificationFilter != "research" || snap.ReviewFilter != session.ReviewNeedsReview {
		t.Errorf("unexpected filters %q %q", snap.ClassificationFilter, snap.ReviewFilter)
	}
	body := do(srv, "GET", "/", nil).Body.String()
	if strings.Contains(body, "Go news") {
		t.Error("expected filtered draft hidden")
	}

	rec := do(srv, "POST", "/filter", url.Values{"review": {"sometimes"}})
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "error=") {
		t.Errorf("expected error redirect, got %q", loc)
	}
}

func TestStateAPI(t *testing.T) {
	srv, sess := newTestServer(t, testCaller(published), nil)
	scanned(t, sess)
	sess.SetClassificationFilter("news")

	rec := do(srv, "GET", "/api/state", nil)
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
	var state struct {
		State   string   `json:"state"`
		Visible []string `json:"visible"`
		Stats   struct {
			Total    int `json:"total"`
			Approved int `json:"approved"`
		} `json:"stats"`
		Approved []string `json:"approved"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.State != "completed" || len(state.Visible) != 1 || state.Visible[0] != "a" {
		t.Errorf("unexpected state %+v", state)
	}
	if state.Stats.Total != 2 || len(state.Approved) != 1 {
		t.Errorf("unexpected counts %+v", state)
	}
}

type fakeHistory []database.ScanSummary

func (h fakeHistory) ListScans(int) ([]database.ScanSummary, error) { return h, nil }

func TestHistoryRoute(t *testing.T) {
	srv, _ := newTestServer(t, testCaller(published), fakeHistory{{ID: "scan-1", Status: "completed", ScannedAt: "2026-10-15T08:00:00Z", Drafts: 3}})
	body := do(srv, "GET", "/history", nil).Body.String()
	if !strings.Contains(body, "scan-1") || !strings.Contains(body, "2026-10-15T08:00:00Z") {
		t.Error("expected scan row in history")
	}

	bare, _ := newTestServer(t, testCaller(published), nil)
	if !strings.Contains(do(bare, "GET", "/history", nil).Body.String(), "not available") {
		t.Error("expected disabled history notice")
	}
}

func TestStaticRoute(t *testing.T) {
	srv, _ := newTestServer(t, testCaller(published), nil)
	rec := do(srv, "GET", "/static/style.css", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRenderMarkdown(t *testing.T) {
	got := string(renderMarkdown("use `go test`"))
	if !strings.Contains(got, "<code>go test</code>") {
		t.Errorf("unexpected markdown output %q", got)
	}
}
