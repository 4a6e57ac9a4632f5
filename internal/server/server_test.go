package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"updock/internal/config"
	"updock/internal/db"
	"updock/internal/domain"
	"updock/internal/engine"
	"updock/internal/migrate"
	"updock/internal/upstream"
)

type fakeProvider struct {
	info  domain.EndpointInfo
	snaps []domain.ContainerSnapshot
}

func (f fakeProvider) Containers(ctx context.Context) ([]domain.ContainerSnapshot, error) {
	return f.snaps, nil
}

func (f fakeProvider) Endpoint() domain.EndpointInfo { return f.info }

type fakeVersions map[string]string

func (f fakeVersions) Latest(ctx context.Context, imageRepo string) (domain.VersionRecord, error) {
	tag, ok := f[imageRepo]
	if !ok {
		return domain.VersionRecord{}, errors.New("unknown repo")
	}
	return domain.VersionRecord{Latest: &tag}, nil
}

type fakeAction struct{ fail bool }

func (f fakeAction) Upgrade(ctx context.Context, c domain.ContainerSnapshot, targetTag string) error {
	if f.fail {
		return errors.New("pull refused")
	}
	return nil
}

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	conn.SetMaxOpenConns(1)
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ports := engine.Collaborators{
		Providers: []upstream.InventoryProvider{fakeProvider{
			info: domain.EndpointInfo{ID: "local", Name: "local"},
			snaps: []domain.ContainerSnapshot{{
				ID:           "c-plex",
				Name:         "my-plex",
				ImageRepo:    "linuxserver/plex",
				ImageTag:     "1.0",
				EndpointID:   "local",
				EndpointName: "local",
			}},
		}},
		Versions: fakeVersions{"linuxserver/plex": "1.1"},
		Actions:  map[string]upstream.UpgradeAction{"local": fakeAction{}},
	}
	e := engine.New(conn, config.Default(), ports)
	e.Now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }

	handler, err := New(Config{Engine: e, Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestIntentCRUDOverHTTP(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/intents", map[string]any{
		"container_name": "my-plex",
		"description":    "keep plex fresh",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created domain.Intent
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal intent: %v", err)
	}
	if created.Criteria.Kind != domain.CriteriaContainerName || created.Enabled {
		t.Fatalf("unexpected intent %+v", created)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/intents", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", res.StatusCode)
	}
	var listed struct {
		Intents []domain.Intent `json:"intents"`
	}
	_ = json.Unmarshal(data, &listed)
	if len(listed.Intents) != 1 {
		t.Fatalf("listed %d intents, want 1", len(listed.Intents))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/intents/"+created.ID+"/enable", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("enable status %d: %s", res.StatusCode, string(data))
	}
	var enabled domain.Intent
	_ = json.Unmarshal(data, &enabled)
	if !enabled.Enabled {
		t.Fatal("enable should return the updated intent")
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/intents/"+created.ID, nil, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d, want 204", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/intents/"+created.ID, nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status %d, want 404", res.StatusCode)
	}
}

func TestCreateIntentCriteriaValidation(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	// two variants populated
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/intents", map[string]any{
		"container_name": "my-plex",
		"image_repo":     "nginx",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("two variants: status %d, want 400: %s", res.StatusCode, string(data))
	}

	// zero variants
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/intents", map[string]any{
		"description": "no rule",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero variants: status %d, want 400", res.StatusCode)
	}

	// stack without service
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/intents", map[string]any{
		"stack_name": "media",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("partial stack-service: status %d, want 400", res.StatusCode)
	}
}

func TestTestMatchEndpointHasNoSideEffects(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/intents", map[string]any{
		"container_name": "my-plex",
	}, nil)
	var created domain.Intent
	_ = json.Unmarshal(data, &created)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/intents/"+created.ID+"/test-match", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("test-match status %d: %s", res.StatusCode, string(data))
	}
	var mr domain.MatchResult
	if err := json.Unmarshal(data, &mr); err != nil {
		t.Fatalf("unmarshal match result: %v", err)
	}
	if mr.MatchedCount != 1 || mr.WithUpdatesCount != 1 {
		t.Fatalf("match result %+v, want 1/1", mr)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/upgrade-history", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d", res.StatusCode)
	}
	var hist struct {
		History []domain.UpgradeRecord `json:"history"`
	}
	_ = json.Unmarshal(data, &hist)
	if len(hist.History) != 0 {
		t.Fatalf("dry run wrote %d ledger rows", len(hist.History))
	}
}

func TestRunPassAndHistoryOverHTTP(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/intents", map[string]any{
		"container_name": "my-plex",
		"enabled":        true,
	}, nil)
	var created domain.Intent
	_ = json.Unmarshal(data, &created)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/run", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("run status %d: %s", res.StatusCode, string(data))
	}
	var pass engine.PassResult
	if err := json.Unmarshal(data, &pass); err != nil {
		t.Fatalf("unmarshal pass result: %v", err)
	}
	if len(pass.Records) != 1 || pass.Records[0].Status != domain.UpgradeSuccess {
		t.Fatalf("pass result %+v", pass)
	}
	recordID := pass.Records[0].ID

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/upgrade-history?containerName=my-plex&status=success", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("filtered history status %d: %s", res.StatusCode, string(data))
	}
	var hist struct {
		History []domain.UpgradeRecord `json:"history"`
	}
	_ = json.Unmarshal(data, &hist)
	if len(hist.History) != 1 || hist.History[0].ID != recordID {
		t.Fatalf("filtered history %+v", hist.History)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/upgrade-history/"+recordID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get record status %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/upgrade-history/nope", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing record status %d, want 404", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/upgrade-history/stats", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats status %d", res.StatusCode)
	}
	var report struct {
		Stats struct {
			Total          int `json:"total"`
			SuccessRatePct int `json:"success_rate_pct"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if report.Stats.Total != 1 || report.Stats.SuccessRatePct != 100 {
		t.Fatalf("stats %+v", report.Stats)
	}
}

func TestAuthGuardsAPIButNotHealth(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: "test-secret"})
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/intents", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request status %d, want 401", res.StatusCode)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/intents", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d, want 401", res.StatusCode)
	}
}
