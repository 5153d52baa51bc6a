package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/d2sherpa/sherpa/pkg/activity"
	"github.com/d2sherpa/sherpa/pkg/bungie"
	"github.com/d2sherpa/sherpa/pkg/cache"
	"github.com/d2sherpa/sherpa/pkg/poller"
)

type fakeSearcher struct {
	results []bungie.PlayerSearchResult
	err     error

	lastName string
	lastCode int
}

func (s *fakeSearcher) SearchPlayer(_ context.Context, name string, code int) ([]bungie.PlayerSearchResult, error) {
	s.lastName, s.lastCode = name, code
	return s.results, s.err
}

type fakeSelector struct {
	selected *bungie.Profile
}

func (s *fakeSelector) Select(p *bungie.Profile) { s.selected = p }
func (s *fakeSelector) Selected() *bungie.Profile {
	if s.selected == nil {
		return nil
	}
	cp := *s.selected
	return &cp
}

type nopStore struct{}

func (nopStore) Load(context.Context) (*cache.Manager, error) { return cache.NewManager(), nil }
func (nopStore) Save(context.Context, *cache.Manager) error   { return nil }

func newTestServer(t *testing.T) (*HTTPServer, *fakeSearcher, *fakeSelector, *cache.Manager) {
	t.Helper()

	searcher := &fakeSearcher{}
	selector := &fakeSelector{}
	manager := cache.NewManager()
	broadcaster := poller.NewBroadcaster()

	s := NewHTTPServer(0, Deps{
		Poller:      poller.New(nil, broadcaster, poller.Options{}),
		Broadcaster: broadcaster,
		Searcher:    searcher,
		Profiles:    selector,
		Cache:       manager,
		CacheStore:  nopStore{},
	})
	return s, searcher, selector, manager
}

func doRequest(t *testing.T, s *HTTPServer, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestHandleSnapshotIdle(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/snapshot", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}
	var status poller.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if status.LastUpdate != nil || status.Error != "" {
		t.Errorf("idle snapshot = %+v, expected empty", status)
	}
}

func TestProfileLifecycle(t *testing.T) {
	s, _, selector, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/profile", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET with no selection = %d, expected 404", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPut, "/v1/profile",
		`{"membershipType":3,"membershipId":"4611686018467260757","displayName":"Guardian#1234"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("PUT = %d, expected 204", rec.Code)
	}
	if selector.selected == nil || selector.selected.ID() != "3_4611686018467260757" {
		t.Fatalf("selected = %+v", selector.selected)
	}

	rec = doRequest(t, s, http.MethodGet, "/v1/profile", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET = %d, expected 200", rec.Code)
	}
	var p bungie.Profile
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if p.DisplayName != "Guardian#1234" {
		t.Errorf("profile = %+v", p)
	}

	rec = doRequest(t, s, http.MethodDelete, "/v1/profile", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("DELETE = %d, expected 204", rec.Code)
	}
	if selector.selected != nil {
		t.Error("DELETE left a profile selected")
	}
}

func TestSetProfileRejectsBadInput(t *testing.T) {
	s, _, selector, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{not json`},
		{"missing membership type", `{"membershipId":"123"}`},
		{"missing membership id", `{"membershipType":3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPut, "/v1/profile", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, expected 400", rec.Code)
			}
			if selector.selected != nil {
				t.Error("invalid input selected a profile")
			}
		})
	}
}

func TestHandleSearchPlayers(t *testing.T) {
	s, searcher, _, _ := newTestServer(t)
	searcher.results = []bungie.PlayerSearchResult{{
		MembershipType:  3,
		MembershipID:    "4611686018467260757",
		DisplayName:     "Guardian",
		DisplayNameCode: 1234,
	}}

	rec := doRequest(t, s, http.MethodGet, "/v1/players/search?name=Guardian&code=1234", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", rec.Code)
	}
	if searcher.lastName != "Guardian" || searcher.lastCode != 1234 {
		t.Errorf("searcher received %q/%d", searcher.lastName, searcher.lastCode)
	}
	var results []bungie.PlayerSearchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if len(results) != 1 || results[0].DisplayName != "Guardian" {
		t.Errorf("results = %+v", results)
	}
}

func TestHandleSearchPlayersValidation(t *testing.T) {
	s, searcher, _, _ := newTestServer(t)

	for _, target := range []string{
		"/v1/players/search",
		"/v1/players/search?name=Guardian",
		"/v1/players/search?name=Guardian&code=abc",
	} {
		rec := doRequest(t, s, http.MethodGet, target, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, expected 400", target, rec.Code)
		}
	}

	searcher.err = errors.New("upstream down")
	rec := doRequest(t, s, http.MethodGet, "/v1/players/search?name=Guardian&code=1234", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("searcher failure = %d, expected 502", rec.Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	s, _, _, manager := newTestServer(t)
	manager.Update("3_4611686018467260757", []activity.Completed{
		{InstanceID: "1", Period: time.Now().UTC()},
	})

	rec := doRequest(t, s, http.MethodGet, "/v1/cache/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats = %d, expected 200", rec.Code)
	}
	var stats map[string]struct {
		Activities int `json:"Activities"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid stats body: %v", err)
	}
	if stats["3_4611686018467260757"].Activities != 1 {
		t.Errorf("stats = %v", stats)
	}

	rec = doRequest(t, s, http.MethodDelete, "/v1/cache", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear = %d, expected 204", rec.Code)
	}
	if len(manager.Stats()) != 0 {
		t.Error("cache survived the clear endpoint")
	}
}

func TestWebSocketFeed(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	server := httptest.NewServer(s.routes())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// A fresh observer gets the current snapshot immediately.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first poller.Status
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("failed to read the initial snapshot: %v", err)
	}

	// Published statuses stream through.
	s.deps.Broadcaster.Publish(poller.Status{Error: "no profile set"})
	var next poller.Status
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("failed to read a published status: %v", err)
	}
	if next.Error != "no profile set" {
		t.Errorf("received %+v", next)
	}
}
