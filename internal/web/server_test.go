package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Cdaprod/cda.data-lake/internal/catalog"
	"github.com/Cdaprod/cda.data-lake/internal/objstore"
	"github.com/Cdaprod/cda.data-lake/internal/query"
	"github.com/Cdaprod/cda.data-lake/internal/repo"
	"github.com/Cdaprod/cda.data-lake/internal/schedule"
	"github.com/Cdaprod/cda.data-lake/internal/store"
	"github.com/google/go-cmp/cmp"
)

func newTestServer(t *testing.T, opts ServerOptions, backends Backends) (*Server, *repo.Repository) {
	t.Helper()
	r := repo.NewRepository()
	s := NewServer(opts, r, backends)
	s.now = func() time.Time {
		return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	}
	return s, r
}

// do sends a request to h and returns the recorded response.
func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rr.Body.String(), err)
	}
	return v
}

func wantStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d (body: %s)", rr.Code, want, rr.Body.String())
	}
}

// ---- Tests ------------------------------------------------------------------

func TestHealth_OK(t *testing.T) {
	s, _ := newTestServer(t, ServerOptions{}, Backends{})
	rr := do(t, s.Handler(), http.MethodGet, "/health", "")
	wantStatus(t, rr, http.StatusOK)
	if got := rr.Body.String(); got != "OK\n" {
		t.Fatalf("body = %q, want %q", got, "OK\n")
	}
}

func TestRoot_Redirect(t *testing.T) {
	s, _ := newTestServer(t, ServerOptions{}, Backends{})
	rr := do(t, s.Handler(), http.MethodGet, "/", "")
	wantStatus(t, rr, http.StatusTemporaryRedirect)
	if loc := rr.Header().Get("Location"); loc != "/api" {
		t.Fatalf("Location = %q, want %q", loc, "/api")
	}
	wantStatus(t, do(t, s.Handler(), http.MethodGet, "/nope", ""), http.StatusNotFound)
}

func TestMetastoresAndAssets(t *testing.T) {
	s, _ := newTestServer(t, ServerOptions{}, Backends{})
	h := s.Handler()

	rr := do(t, h, http.MethodPost, "/api/metastores", `{"metastore_id": "raw"}`)
	wantStatus(t, rr, http.StatusCreated)
	if loc := rr.Header().Get("Location"); loc != "/api/entities/raw" {
		t.Errorf("Location = %q, want /api/entities/raw", loc)
	}

	rr = do(t, h, http.MethodPost, "/api/metastores/raw/assets",
		`{"asset_id": "events", "asset_type": "table", "location": "s3://lake/events", "description": "Raw **click** events"}`)
	wantStatus(t, rr, http.StatusCreated)
	rr = do(t, h, http.MethodPost, "/api/metastores/raw/assets",
		`{"asset_id": "sessions", "asset_type": "table", "location": "s3://lake/sessions", "lineage": ["events"]}`)
	wantStatus(t, rr, http.StatusCreated)

	rr = do(t, h, http.MethodGet, "/api/metastores/raw/assets/events", "")
	wantStatus(t, rr, http.StatusOK)
	asset := decode[map[string]any](t, rr)
	if html, _ := asset["description_html"].(string); !strings.Contains(html, "<strong>click</strong>") {
		t.Errorf("description_html = %q, want rendered markdown", html)
	}

	rr = do(t, h, http.MethodGet, "/api/assets/sessions/lineage", "")
	wantStatus(t, rr, http.StatusOK)
	want := lineageView{AssetID: "sessions", Lineage: []string{"events"}}
	if diff := cmp.Diff(want, decode[lineageView](t, rr)); diff != "" {
		t.Errorf("lineage mismatch (-want +got):\n%s", diff)
	}

	rr = do(t, h, http.MethodGet, "/api/metastores/raw/assets", "")
	wantStatus(t, rr, http.StatusOK)
	if got := decode[[]map[string]any](t, rr); len(got) != 2 {
		t.Errorf("got %d assets, want 2", len(got))
	}

	rr = do(t, h, http.MethodPut, "/api/metastores/raw/assets/events",
		`{"asset_type": "view", "location": "s3://lake/events-v2"}`)
	wantStatus(t, rr, http.StatusOK)
	if got := decode[map[string]any](t, rr); got["asset_type"] != "view" {
		t.Errorf("asset_type = %v after update, want view", got["asset_type"])
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"duplicate metastore", http.MethodPost, "/api/metastores", `{"metastore_id": "raw"}`, http.StatusConflict},
		{"asset ID taken by metastore", http.MethodPost, "/api/metastores/raw/assets", `{"asset_id": "raw", "asset_type": "table", "location": "s3://lake/x"}`, http.StatusConflict},
		{"unknown metastore", http.MethodPost, "/api/metastores/nope/assets", `{"asset_id": "x", "asset_type": "table", "location": "s3://lake/x"}`, http.StatusNotFound},
		{"unknown lineage", http.MethodPost, "/api/metastores/raw/assets", `{"asset_id": "x", "asset_type": "table", "location": "s3://lake/x", "lineage": ["ghost"]}`, http.StatusUnprocessableEntity},
		{"unknown field", http.MethodPost, "/api/metastores/raw/assets", `{"asset_id": "x", "color": "red"}`, http.StatusBadRequest},
		{"path mismatch", http.MethodPut, "/api/metastores/raw/assets/events", `{"asset_id": "other", "asset_type": "table", "location": "s3://lake/x"}`, http.StatusBadRequest},
		{"remove predecessor", http.MethodDelete, "/api/metastores/raw/assets/events", "", http.StatusConflict},
		{"remove non-empty metastore", http.MethodDelete, "/api/metastores/raw", "", http.StatusConflict},
		{"missing asset", http.MethodGet, "/api/metastores/raw/assets/ghost", "", http.StatusNotFound},
		{"missing entity", http.MethodGet, "/api/entities/ghost", "", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wantStatus(t, do(t, h, tc.method, tc.path, tc.body), tc.want)
		})
	}

	wantStatus(t, do(t, h, http.MethodDelete, "/api/metastores/raw/assets/sessions", ""), http.StatusNoContent)
	wantStatus(t, do(t, h, http.MethodDelete, "/api/metastores/raw/assets/events", ""), http.StatusNoContent)
	wantStatus(t, do(t, h, http.MethodDelete, "/api/metastores/raw", ""), http.StatusNoContent)
	wantStatus(t, do(t, h, http.MethodGet, "/api/metastores/raw", ""), http.StatusNotFound)
}

func TestProcesses(t *testing.T) {
	var triggered []string
	r := repo.NewRepository()
	sched := schedule.New(r, func(processID string, stages [][]string) {
		triggered = append(triggered, processID)
	})
	s := NewServer(ServerOptions{}, r, Backends{Scheduler: sched})
	s.now = func() time.Time {
		return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	}
	h := s.Handler()

	rr := do(t, h, http.MethodPost, "/api/processes", `{
		"process_id": "nightly",
		"transformations": [
			{"transformation_id": "extract"},
			{"transformation_id": "clean", "dependencies": ["extract"]},
			{"transformation_id": "enrich", "dependencies": ["extract"]},
			{"transformation_id": "join", "dependencies": ["clean", "enrich"]}
		],
		"job_control": {"schedule": "0 2 * * *"}
	}`)
	wantStatus(t, rr, http.StatusCreated)
	if diff := cmp.Diff([]string{"nightly"}, sched.Scheduled()); diff != "" {
		t.Errorf("Scheduled() mismatch (-want +got):\n%s", diff)
	}

	rr = do(t, h, http.MethodGet, "/api/processes/nightly", "")
	wantStatus(t, rr, http.StatusOK)
	var pv struct {
		ID      string     `json:"process_id"`
		NextRun time.Time  `json:"next_run"`
		Stages  [][]string `json:"stages"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &pv); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if want := time.Date(2024, 5, 2, 2, 0, 0, 0, time.UTC); !pv.NextRun.Equal(want) {
		t.Errorf("next_run = %v, want %v", pv.NextRun, want)
	}
	wantStages := [][]string{{"extract"}, {"clean", "enrich"}, {"join"}}
	if diff := cmp.Diff(wantStages, pv.Stages); diff != "" {
		t.Errorf("stages mismatch (-want +got):\n%s", diff)
	}

	// Without an ID, one is assigned.
	rr = do(t, h, http.MethodPost, "/api/processes", `{"transformations": [{"transformation_id": "t"}]}`)
	wantStatus(t, rr, http.StatusCreated)
	if id := decode[map[string]string](t, rr)["id"]; id == "" {
		t.Error("no process ID assigned")
	}

	cyclic := `{"process_id": "loop", "transformations": [
		{"transformation_id": "a", "dependencies": ["b"]},
		{"transformation_id": "b", "dependencies": ["a"]}]}`
	rr = do(t, h, http.MethodPost, "/api/processes", cyclic)
	wantStatus(t, rr, http.StatusUnprocessableEntity)
	if msg := decode[errorResponse](t, rr).Error; !strings.Contains(msg, "a -> b -> a") {
		t.Errorf("error = %q, want cycle path", msg)
	}
	wantStatus(t, do(t, h, http.MethodPost, "/api/processes",
		`{"process_id": "bad", "job_control": {"schedule": "every day"}}`), http.StatusUnprocessableEntity)

	wantStatus(t, do(t, h, http.MethodPost, "/api/processes/nightly/trigger", ""), http.StatusAccepted)
	wantStatus(t, do(t, h, http.MethodPost, "/api/processes/ghost/trigger", ""), http.StatusNotFound)
	if diff := cmp.Diff([]string{"nightly"}, triggered); diff != "" {
		t.Errorf("triggered mismatch (-want +got):\n%s", diff)
	}

	rr = do(t, h, http.MethodGet, "/api/processes", "")
	wantStatus(t, rr, http.StatusOK)
	if got := decode[[]map[string]any](t, rr); len(got) != 2 {
		t.Errorf("got %d processes, want 2", len(got))
	}

	wantStatus(t, do(t, h, http.MethodDelete, "/api/processes/nightly", ""), http.StatusNoContent)
	if got := sched.Scheduled(); len(got) != 0 {
		t.Errorf("Scheduled() = %v after removal, want none", got)
	}
}

func TestProcessView_Unregistered(t *testing.T) {
	// Views are built from the process value, e.g. one just removed.
	s, _ := newTestServer(t, ServerOptions{}, Backends{})
	v, err := s.newProcessView(&catalog.Process{
		ID: "gone",
		Transformations: []catalog.Transformation{
			{ID: "extract"},
			{ID: "load", Dependencies: []string{"extract"}},
		},
	})
	if err != nil {
		t.Fatalf("newProcessView() error = %v", err)
	}
	if diff := cmp.Diff([][]string{{"extract"}, {"load"}}, v.Stages); diff != "" {
		t.Errorf("Stages mismatch (-want +got):\n%s", diff)
	}
}

func TestConnections_Redacted(t *testing.T) {
	s, r := newTestServer(t, ServerOptions{}, Backends{})
	h := s.Handler()

	rr := do(t, h, http.MethodPost, "/api/connections",
		`{"service_name": "warehouse", "service_type": "database", "username": "etl", "password": "hunter2"}`)
	wantStatus(t, rr, http.StatusCreated)

	for _, path := range []string{"/api/connections/warehouse", "/api/entities/warehouse", "/api/connections", "/api/snapshot"} {
		rr := do(t, h, http.MethodGet, path, "")
		wantStatus(t, rr, http.StatusOK)
		if strings.Contains(rr.Body.String(), "hunter2") {
			t.Errorf("GET %s leaks the password: %s", path, rr.Body.String())
		}
	}
	c, err := r.GetConnection("warehouse")
	if err != nil {
		t.Fatalf("GetConnection() error = %v", err)
	}
	if c.Password.Reveal() != "hunter2" {
		t.Errorf("stored password = %q, want unmasked", c.Password.Reveal())
	}
	wantStatus(t, do(t, h, http.MethodPost, "/api/connections",
		`{"service_name": "warehouse", "service_type": "api"}`), http.StatusConflict)
	wantStatus(t, do(t, h, http.MethodDelete, "/api/connections/warehouse", ""), http.StatusNoContent)
}

func TestEntity(t *testing.T) {
	s, r := newTestServer(t, ServerOptions{}, Backends{})
	if err := r.CreateMetastore(&catalog.Metastore{ID: "raw"}); err != nil {
		t.Fatal(err)
	}
	if err := r.PutAsset("raw", &catalog.Asset{ID: "events", Type: "table", Location: "s3://lake/events"}); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		id   string
		kind catalog.Kind
	}{
		{"raw", catalog.KindMetastore},
		{"events", catalog.KindAsset},
	}
	for _, tc := range tests {
		rr := do(t, s.Handler(), http.MethodGet, "/api/entities/"+tc.id, "")
		wantStatus(t, rr, http.StatusOK)
		var got struct {
			Kind catalog.Kind `json:"kind"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if got.Kind != tc.kind {
			t.Errorf("kind of %s = %q, want %q", tc.id, got.Kind, tc.kind)
		}
	}
}

func TestEntities_Query(t *testing.T) {
	s, r := newTestServer(t, ServerOptions{}, Backends{})
	if err := r.CreateMetastore(&catalog.Metastore{ID: "raw"}); err != nil {
		t.Fatal(err)
	}
	for _, a := range []*catalog.Asset{
		{ID: "events", Type: "table", Location: "s3://lake/events"},
		{ID: "report", Type: "view", Location: "s3://lake/report", Lineage: []string{"events"}},
	} {
		if err := r.PutAsset("raw", a); err != nil {
			t.Fatal(err)
		}
	}
	h := s.Handler()

	rr := do(t, h, http.MethodGet, "/api/entities?q="+url.QueryEscape("kind=asset lineage:events"), "")
	wantStatus(t, rr, http.StatusOK)
	got := decode[[]entityView](t, rr)
	if len(got) != 1 || got[0].Kind != catalog.KindAsset {
		t.Errorf("got %+v, want the report asset", got)
	}
	rr = do(t, h, http.MethodGet, "/api/entities", "")
	wantStatus(t, rr, http.StatusOK)
	if got := decode[[]entityView](t, rr); len(got) != 3 {
		t.Errorf("got %d entities, want 3", len(got))
	}
	wantStatus(t, do(t, h, http.MethodGet, "/api/entities?q="+url.QueryEscape("(kind=asset"), ""), http.StatusUnprocessableEntity)
}

func TestSearchAndContent(t *testing.T) {
	index := objstore.NewMemoryIndex()
	objects := objstore.NewMemoryStore()
	s, r := newTestServer(t, ServerOptions{}, Backends{Index: index, Objects: objects})
	h := s.Handler()

	if err := r.CreateMetastore(&catalog.Metastore{ID: "docs"}); err != nil {
		t.Fatal(err)
	}
	for _, a := range []*catalog.Asset{
		{ID: "manual", Type: "document", Location: "s3://lake/docs/manual"},
		{ID: "faq", Type: "document", Location: "s3://lake/docs/faq"},
	} {
		if err := r.PutAsset("docs", a); err != nil {
			t.Fatal(err)
		}
	}
	index.Upsert("manual", []float32{1, 0})
	index.Upsert("faq", []float32{0, 1})
	index.Upsert("deleted", []float32{1, 0.1})
	if _, err := objects.Put(t.Context(), "s3://lake/docs/faq", []byte("Q&A")); err != nil {
		t.Fatal(err)
	}

	rr := do(t, h, http.MethodPost, "/api/search", `{"vector": [1, 0], "k": 2}`)
	wantStatus(t, rr, http.StatusOK)
	var res struct {
		Results []struct {
			Kind   catalog.Kind `json:"kind"`
			Entity struct {
				ID string `json:"asset_id"`
			} `json:"entity"`
		} `json:"results"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	// "deleted" is in the index but not in the catalog.
	if len(res.Results) != 1 || res.Results[0].Entity.ID != "manual" {
		t.Errorf("search results = %+v, want [manual]", res.Results)
	}
	wantStatus(t, do(t, h, http.MethodPost, "/api/search", `{"vector": []}`), http.StatusBadRequest)

	rr = do(t, h, http.MethodGet, "/api/assets/faq/content", "")
	wantStatus(t, rr, http.StatusOK)
	if rr.Body.String() != "Q&A" {
		t.Errorf("content = %q, want %q", rr.Body.String(), "Q&A")
	}
	wantStatus(t, do(t, h, http.MethodGet, "/api/assets/manual/content", ""), http.StatusNotFound)
	wantStatus(t, do(t, h, http.MethodGet, "/api/assets/docs/content", ""), http.StatusNotFound)
}

func TestEmbeddings(t *testing.T) {
	st := store.NewDiskStore(t.TempDir())
	index := objstore.NewMemoryIndex()
	s, _ := newTestServer(t, ServerOptions{SnapshotPath: "catalog.json", EmbeddingsPath: "embeddings.json"},
		Backends{Snapshots: st, Index: index})
	h := s.Handler()

	wantStatus(t, do(t, h, http.MethodPost, "/api/metastores", `{"metastore_id": "docs"}`), http.StatusCreated)
	wantStatus(t, do(t, h, http.MethodPost, "/api/metastores/docs/assets",
		`{"asset_id": "manual", "asset_type": "document", "location": "s3://lake/docs/manual"}`), http.StatusCreated)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown asset", "/api/assets/nope/embedding", `{"vector": [1, 0]}`, http.StatusNotFound},
		{"not an asset", "/api/assets/docs/embedding", `{"vector": [1, 0]}`, http.StatusNotFound},
		{"empty vector", "/api/assets/manual/embedding", `{"vector": []}`, http.StatusBadRequest},
		{"bad JSON", "/api/assets/manual/embedding", `{"vector": `, http.StatusBadRequest},
		{"ok", "/api/assets/manual/embedding", `{"vector": [1, 0]}`, http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wantStatus(t, do(t, h, http.MethodPut, tc.path, tc.body), tc.want)
		})
	}

	rr := do(t, h, http.MethodPost, "/api/search", `{"vector": [1, 0.2]}`)
	wantStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"asset_id": "manual"`) {
		t.Errorf("search response %s does not contain asset manual", rr.Body.String())
	}

	data, err := st.ReadFile("embeddings.json")
	if err != nil {
		t.Fatalf("embeddings not persisted: %v", err)
	}
	reloaded := objstore.NewMemoryIndex()
	if err := json.Unmarshal(data, reloaded); err != nil {
		t.Fatalf("invalid embeddings file: %v", err)
	}
	if reloaded.Len() != 1 {
		t.Errorf("reloaded index has %d vectors, want 1", reloaded.Len())
	}

	wantStatus(t, do(t, h, http.MethodDelete, "/api/metastores/docs/assets/manual", ""), http.StatusNoContent)
	if index.Len() != 0 {
		t.Errorf("index has %d vectors after asset removal, want 0", index.Len())
	}
}

func TestEmbeddings_NoIndex(t *testing.T) {
	s, r := newTestServer(t, ServerOptions{}, Backends{})
	if err := r.CreateMetastore(&catalog.Metastore{ID: "docs"}); err != nil {
		t.Fatal(err)
	}
	h := s.Handler()
	wantStatus(t, do(t, h, http.MethodPut, "/api/assets/manual/embedding", `{"vector": [1]}`), http.StatusNotImplemented)
	wantStatus(t, do(t, h, http.MethodPost, "/api/search", `{"vector": [1]}`), http.StatusNotImplemented)
}

func TestIndex_Links(t *testing.T) {
	s, _ := newTestServer(t, ServerOptions{}, Backends{})
	rr := do(t, s.Handler(), http.MethodGet, "/api", "")
	wantStatus(t, rr, http.StatusOK)
	got := decode[struct {
		Links           map[string]string `json:"links"`
		QueryAttributes []string          `json:"query_attributes"`
	}](t, rr)
	if got.Links["entities"] != "/api/entities?q=" || got.Links["embedding"] != "/api/assets/{id}/embedding" {
		t.Errorf("links = %v", got.Links)
	}
	if diff := cmp.Diff(query.Attributes(), got.QueryAttributes); diff != "" {
		t.Errorf("query_attributes mismatch (-want +got):\n%s", diff)
	}
}

func TestReadOnly(t *testing.T) {
	s, _ := newTestServer(t, ServerOptions{ReadOnly: true}, Backends{})
	h := s.Handler()
	wantStatus(t, do(t, h, http.MethodPost, "/api/metastores", `{"metastore_id": "raw"}`), http.StatusMethodNotAllowed)
	wantStatus(t, do(t, h, http.MethodGet, "/api/metastores", ""), http.StatusOK)
	rr := do(t, h, http.MethodGet, "/api", "")
	wantStatus(t, rr, http.StatusOK)
	if got := decode[map[string]any](t, rr); got["read_only"] != true {
		t.Errorf("read_only = %v, want true", got["read_only"])
	}
}

func TestSnapshotPersistence(t *testing.T) {
	st := store.NewDiskStore(t.TempDir())
	s, _ := newTestServer(t, ServerOptions{SnapshotPath: "catalog.json"}, Backends{Snapshots: st})
	h := s.Handler()

	wantStatus(t, do(t, h, http.MethodPost, "/api/metastores", `{"metastore_id": "raw"}`), http.StatusCreated)
	wantStatus(t, do(t, h, http.MethodPost, "/api/metastores/raw/assets",
		`{"asset_id": "events", "asset_type": "table", "location": "s3://lake/events"}`), http.StatusCreated)

	loaded, err := repo.Load(st, repo.Config{}, "catalog.json")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := loaded.GetAsset("raw", "events"); err != nil {
		t.Errorf("GetAsset() on reloaded catalog: %v", err)
	}
}
