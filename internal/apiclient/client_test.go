package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	auth   string
	body   string
}

// fakeAPI serves canned JSON and records what it saw.
type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	payload  any
}

func (f *fakeAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			body:   string(body),
		})
		status, payload := f.status, f.payload
		f.mu.Unlock()

		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if payload != nil {
			json.NewEncoder(w).Encode(payload)
		}
	}
}

func (f *fakeAPI) last(t *testing.T) recordedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("no requests captured")
	}
	return f.requests[len(f.requests)-1]
}

func TestListStreams_FiltersByStatus(t *testing.T) {
	api := &fakeAPI{payload: []types.Stream{
		{StreamID: "lobby", SourceURL: "rtsp://cam/lobby", Status: types.StreamActive},
		{StreamID: "dock", SourceURL: "rtsp://cam/dock", Status: types.StreamActive},
	}}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	c := New(srv.URL+"/api/v1/", "secret-token")
	streams, err := c.ListStreams(context.Background(), types.StreamActive)
	if err != nil {
		t.Fatalf("ListStreams: %v", err)
	}
	if len(streams) != 2 || streams[0].StreamID != "lobby" {
		t.Errorf("streams: got %v", streams)
	}

	req := api.last(t)
	if req.method != http.MethodGet || req.path != "/api/v1/streams" {
		t.Errorf("request: got %s %s", req.method, req.path)
	}
	if req.query != "status=active" {
		t.Errorf("query: got %q", req.query)
	}
	if req.auth != "Bearer secret-token" {
		t.Errorf("auth: got %q", req.auth)
	}
}

func TestListStreams_NoStatusOmitsQuery(t *testing.T) {
	api := &fakeAPI{payload: []types.Stream{}}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	if _, err := New(srv.URL, "").ListStreams(context.Background(), ""); err != nil {
		t.Fatalf("ListStreams: %v", err)
	}
	req := api.last(t)
	if req.query != "" {
		t.Errorf("query: want empty, got %q", req.query)
	}
	if req.auth != "" {
		t.Errorf("auth: want no header without token, got %q", req.auth)
	}
}

func TestListRules_DecodesRules(t *testing.T) {
	api := &fakeAPI{payload: []types.KeywordRule{
		{RuleID: "r-fire", Keyword: "fire", MatchType: types.MatchExact, Severity: types.SeverityCritical, Enabled: true},
		{RuleID: "r-bomb", Keyword: "bomb threat", MatchType: types.MatchFuzzy, FuzzyThreshold: 0.85, Severity: types.SeverityCritical, Enabled: false},
	}}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	rules, err := New(srv.URL, "tok").ListRules(context.Background())
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("want 2 rules, got %d", len(rules))
	}
	if rules[1].FuzzyThreshold != 0.85 || rules[1].Enabled {
		t.Errorf("r-bomb round-trip: got %+v", rules[1])
	}

	req := api.last(t)
	if req.path != "/rules" {
		t.Errorf("path: got %q", req.path)
	}
}

func TestUpdateStreamStatus_SendsTransition(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	c := New(srv.URL, "tok")
	if err := c.UpdateStreamStatus(context.Background(), "lobby", types.StreamError, "sess-1"); err != nil {
		t.Fatalf("UpdateStreamStatus: %v", err)
	}

	req := api.last(t)
	if req.method != http.MethodPut || req.path != "/streams/lobby/status" {
		t.Errorf("request: got %s %s", req.method, req.path)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(req.body), &body); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if body["status"] != "error" || body["current_session_id"] != "sess-1" {
		t.Errorf("body: got %v", body)
	}
}

func TestClient_ErrorStatusIncludesBody(t *testing.T) {
	api := &fakeAPI{status: http.StatusForbidden, payload: map[string]string{"error": "bad token"}}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	_, err := New(srv.URL, "wrong").ListRules(context.Background())
	if err == nil {
		t.Fatal("expected error on 403")
	}
}

func TestClient_UnreachableServer(t *testing.T) {
	c := New("http://127.0.0.1:1", "tok")
	if _, err := c.ListStreams(context.Background(), types.StreamActive); err == nil {
		t.Fatal("expected connection error")
	}
}
