// Package web serves the catalog over a JSON HTTP API.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/Cdaprod/cda.data-lake/internal/catalog"
	"github.com/Cdaprod/cda.data-lake/internal/config"
	"github.com/Cdaprod/cda.data-lake/internal/objstore"
	"github.com/Cdaprod/cda.data-lake/internal/query"
	"github.com/Cdaprod/cda.data-lake/internal/repo"
	"github.com/Cdaprod/cda.data-lake/internal/schedule"
	"github.com/Cdaprod/cda.data-lake/internal/store"
)

const maxRequestBytes = 8 << 20

type ServerOptions struct {
	Addr string // E.g., "localhost:8080"
	// Path of the catalog snapshot, relative to Backends.Snapshots.
	SnapshotPath string
	// Path the vector index is saved to, relative to Backends.Snapshots.
	// Only indexes that implement json.Marshaler are saved.
	EmbeddingsPath string
	// If true, all mutating routes are disabled.
	ReadOnly bool
	HelpLink *config.HelpLink
}

// Backends are the optional collaborators of the server.
// Nil fields disable the corresponding features.
type Backends struct {
	// Receives a catalog snapshot after every successful mutation.
	Snapshots store.Store
	// Serves asset content.
	Objects objstore.ObjectStore
	// Holds asset embeddings and answers similarity searches.
	Index objstore.VectorIndex
	// Is reloaded when processes change and runs triggered processes.
	Scheduler *schedule.Scheduler
}

type Server struct {
	opts     ServerOptions
	repo     *repo.Repository
	backends Backends
	now      func() time.Time
	// Serializes snapshot writes.
	saveMu sync.Mutex
}

func NewServer(opts ServerOptions, r *repo.Repository, backends Backends) *Server {
	return &Server{
		opts:     opts,
		repo:     r,
		backends: backends,
		now:      time.Now,
	}
}

// statusOf maps catalog errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, repo.ErrUnknownMetastore), errors.Is(err, objstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repo.ErrDuplicateIdentifier), errors.Is(err, repo.ErrDependentAssetsExist), errors.Is(err, repo.ErrMetastoreNotEmpty):
		return http.StatusConflict
	case errors.Is(err, repo.ErrInvalid),
		errors.Is(err, repo.ErrUnknownLineageReference),
		errors.Is(err, repo.ErrCyclicLineage),
		errors.Is(err, repo.ErrSelfDependency),
		errors.Is(err, repo.ErrUnknownTransformationDependency),
		errors.Is(err, repo.ErrCyclicTransformationDependency):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("Failed to write JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Printf("Internal error: %v", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// readJSON decodes the request body into v. Unknown fields are rejected.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

// persist writes a snapshot after a mutation.
// A failed write is logged; the in-memory catalog stays authoritative.
func (s *Server) persist() {
	if s.backends.Snapshots == nil || s.opts.SnapshotPath == "" {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if err := s.repo.Save(s.backends.Snapshots, s.opts.SnapshotPath); err != nil {
		log.Printf("Failed to persist catalog: %v", err)
	}
}

// persistIndex writes the vector index after it changed.
func (s *Server) persistIndex() {
	if s.backends.Snapshots == nil || s.opts.EmbeddingsPath == "" {
		return
	}
	m, ok := s.backends.Index.(json.Marshaler)
	if !ok {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	data, err := m.MarshalJSON()
	if err == nil {
		err = s.backends.Snapshots.WriteFile(s.opts.EmbeddingsPath, data)
	}
	if err != nil {
		log.Printf("Failed to persist embeddings: %v", err)
	}
}

func (s *Server) processesChanged() {
	s.persist()
	if s.backends.Scheduler != nil {
		s.backends.Scheduler.Reload()
	}
}

// Index and entities

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	doc := s.repo.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"metastores":  len(doc.Metastores),
		"processes":   len(doc.Processes),
		"connections": len(doc.Connections),
		"entities":    s.repo.Size(),
		"read_only":   s.opts.ReadOnly,
		"help":        s.opts.HelpLink,
		"links": map[string]string{
			"snapshot":    "/api/snapshot",
			"entities":    "/api/entities?q=",
			"entity":      "/api/entities/{id}",
			"search":      "/api/search",
			"metastores":  "/api/metastores",
			"processes":   "/api/processes",
			"connections": "/api/connections",
			"lineage":     "/api/assets/{id}/lineage",
			"content":     "/api/assets/{id}/content",
			"embedding":   "/api/assets/{id}/embedding",
			"health":      "/health",
		},
		"query_attributes": query.Attributes(),
	})
}

func (s *Server) serveEntity(w http.ResponseWriter, r *http.Request, id string) {
	e, err := s.repo.FindByID(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	v, err := s.newEntityView(e)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

// serveEntities lists the entities matching the query parameter q.
func (s *Server) serveEntities(w http.ResponseWriter, r *http.Request) {
	es, err := s.repo.Find(r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	result := make([]*entityView, 0, len(es))
	for _, e := range es {
		v, err := s.newEntityView(e)
		if err != nil {
			s.writeError(w, err)
			return
		}
		result = append(result, v)
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	doc := s.repo.Snapshot()
	for i, c := range doc.Connections {
		doc.Connections[i] = c.Redacted()
	}
	s.writeJSON(w, http.StatusOK, doc)
}

type searchRequest struct {
	Vector []float32 `json:"vector"`
	K      int       `json:"k"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	if s.backends.Index == nil {
		s.writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "no vector index configured"})
		return
	}
	var req searchRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if len(req.Vector) == 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "vector is empty"})
		return
	}
	if req.K <= 0 {
		req.K = 10
	}
	ids, err := s.backends.Index.Search(r.Context(), req.Vector, req.K)
	if err != nil {
		s.writeError(w, err)
		return
	}
	results := make([]*entityView, 0, len(ids))
	for _, id := range ids {
		e, err := s.repo.FindByID(id)
		if err != nil {
			// Index entries may outlive their entities.
			continue
		}
		v, err := s.newEntityView(e)
		if err != nil {
			s.writeError(w, err)
			return
		}
		results = append(results, v)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Metastores and assets

func (s *Server) serveMetastores(w http.ResponseWriter, r *http.Request) {
	ms := s.repo.ListMetastores()
	result := make([]map[string]any, 0, len(ms))
	for _, m := range ms {
		result = append(result, s.newMetastoreView(m))
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) serveMetastore(w http.ResponseWriter, r *http.Request, id string) {
	m, err := s.repo.GetMetastore(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.newMetastoreView(m))
}

func (s *Server) createMetastore(w http.ResponseWriter, r *http.Request) {
	var m catalog.Metastore
	if !s.readJSON(w, r, &m) {
		return
	}
	if err := s.repo.CreateMetastore(&m); err != nil {
		s.writeError(w, err)
		return
	}
	s.persist()
	s.serveCreated(w, m.ID)
}

func (s *Server) removeMetastore(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.repo.RemoveMetastore(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.persist()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) serveAssets(w http.ResponseWriter, r *http.Request, metastoreID string) {
	assets, err := s.repo.ListAssets(metastoreID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	result := make([]*assetView, 0, len(assets))
	for _, a := range assets {
		result = append(result, s.newAssetView(a))
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request, metastoreID, assetID string) {
	a, err := s.repo.GetAsset(metastoreID, assetID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.newAssetView(a))
}

func (s *Server) putAsset(w http.ResponseWriter, r *http.Request, metastoreID string) {
	var a catalog.Asset
	if !s.readJSON(w, r, &a) {
		return
	}
	if err := s.repo.PutAsset(metastoreID, &a); err != nil {
		s.writeError(w, err)
		return
	}
	s.persist()
	s.serveCreated(w, a.ID)
}

func (s *Server) updateAsset(w http.ResponseWriter, r *http.Request, metastoreID, assetID string) {
	var a catalog.Asset
	if !s.readJSON(w, r, &a) {
		return
	}
	if a.ID == "" {
		a.ID = assetID
	}
	if a.ID != assetID {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: fmt.Sprintf("asset_id %q does not match path %q", a.ID, assetID),
		})
		return
	}
	if err := s.repo.UpdateAsset(metastoreID, &a); err != nil {
		s.writeError(w, err)
		return
	}
	s.persist()
	s.serveAsset(w, r, metastoreID, assetID)
}

func (s *Server) removeAsset(w http.ResponseWriter, r *http.Request, metastoreID, assetID string) {
	if err := s.repo.RemoveAsset(metastoreID, assetID); err != nil {
		s.writeError(w, err)
		return
	}
	s.persist()
	if s.backends.Index != nil {
		s.backends.Index.Delete(assetID)
		s.persistIndex()
	}
	w.WriteHeader(http.StatusNoContent)
}

type embeddingRequest struct {
	Vector []float32 `json:"vector"`
}

// putEmbedding stores the embedding of an existing asset in the vector index.
func (s *Server) putEmbedding(w http.ResponseWriter, r *http.Request, assetID string) {
	if s.backends.Index == nil {
		s.writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "no vector index configured"})
		return
	}
	var req embeddingRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if len(req.Vector) == 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "vector is empty"})
		return
	}
	if kind, ok := s.repo.KindOf(assetID); !ok || kind != catalog.KindAsset {
		s.writeError(w, fmt.Errorf("asset %q: %w", assetID, repo.ErrNotFound))
		return
	}
	if err := s.backends.Index.Upsert(assetID, req.Vector); err != nil {
		s.writeError(w, err)
		return
	}
	s.persistIndex()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) serveLineage(w http.ResponseWriter, r *http.Request, assetID string) {
	lineage, err := s.repo.Lineage(assetID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	dependents, err := s.repo.Dependents(assetID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lineageView{AssetID: assetID, Lineage: lineage, Dependents: dependents})
}

func (s *Server) serveAssetContent(w http.ResponseWriter, r *http.Request, assetID string) {
	if s.backends.Objects == nil {
		s.writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "no object store configured"})
		return
	}
	e, err := s.repo.FindByID(assetID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	a, ok := e.(*catalog.Asset)
	if !ok {
		s.writeError(w, fmt.Errorf("%s %q is not an asset: %w", e.GetKind(), assetID, repo.ErrNotFound))
		return
	}
	data, err := s.backends.Objects.Get(r.Context(), a.Location)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

// Processes

func (s *Server) serveProcesses(w http.ResponseWriter, r *http.Request) {
	ps := s.repo.ListProcesses()
	result := make([]*processView, 0, len(ps))
	for _, p := range ps {
		v, err := s.newProcessView(p)
		if err != nil {
			s.writeError(w, err)
			return
		}
		result = append(result, v)
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) serveProcess(w http.ResponseWriter, r *http.Request, id string) {
	p, err := s.repo.GetProcess(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	v, err := s.newProcessView(p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) registerProcess(w http.ResponseWriter, r *http.Request) {
	var p catalog.Process
	if !s.readJSON(w, r, &p) {
		return
	}
	id, err := s.repo.RegisterProcess(&p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.processesChanged()
	s.serveCreated(w, id)
}

func (s *Server) removeProcess(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.repo.RemoveProcess(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.processesChanged()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) triggerProcess(w http.ResponseWriter, r *http.Request, id string) {
	if s.backends.Scheduler == nil {
		s.writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "no scheduler configured"})
		return
	}
	if err := s.backends.Scheduler.Trigger(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Connections

func (s *Server) serveConnections(w http.ResponseWriter, r *http.Request) {
	cs := s.repo.ListConnections()
	for i, c := range cs {
		cs[i] = c.Redacted()
	}
	s.writeJSON(w, http.StatusOK, cs)
}

func (s *Server) serveConnection(w http.ResponseWriter, r *http.Request, id string) {
	c, err := s.repo.GetConnection(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c.Redacted())
}

func (s *Server) registerConnection(w http.ResponseWriter, r *http.Request) {
	var c catalog.ClientConnection
	if !s.readJSON(w, r, &c) {
		return
	}
	if err := s.repo.RegisterConnection(&c); err != nil {
		s.writeError(w, err)
		return
	}
	s.persist()
	s.serveCreated(w, c.ID)
}

func (s *Server) removeConnection(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.repo.RemoveConnection(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.persist()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) serveCreated(w http.ResponseWriter, id string) {
	w.Header().Set("Location", "/api/entities/"+id)
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api", s.serveIndex)
	mux.HandleFunc("GET /api/snapshot", s.serveSnapshot)
	mux.HandleFunc("GET /api/entities", s.serveEntities)
	mux.HandleFunc("GET /api/entities/{id...}", func(w http.ResponseWriter, r *http.Request) {
		s.serveEntity(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("POST /api/search", s.search)

	mux.HandleFunc("GET /api/metastores", s.serveMetastores)
	mux.HandleFunc("GET /api/metastores/{metastoreID}", func(w http.ResponseWriter, r *http.Request) {
		s.serveMetastore(w, r, r.PathValue("metastoreID"))
	})
	mux.HandleFunc("GET /api/metastores/{metastoreID}/assets", func(w http.ResponseWriter, r *http.Request) {
		s.serveAssets(w, r, r.PathValue("metastoreID"))
	})
	mux.HandleFunc("GET /api/metastores/{metastoreID}/assets/{assetID}", func(w http.ResponseWriter, r *http.Request) {
		s.serveAsset(w, r, r.PathValue("metastoreID"), r.PathValue("assetID"))
	})
	mux.HandleFunc("GET /api/assets/{assetID}/lineage", func(w http.ResponseWriter, r *http.Request) {
		s.serveLineage(w, r, r.PathValue("assetID"))
	})
	mux.HandleFunc("GET /api/assets/{assetID}/content", func(w http.ResponseWriter, r *http.Request) {
		s.serveAssetContent(w, r, r.PathValue("assetID"))
	})
	mux.HandleFunc("GET /api/processes", s.serveProcesses)
	mux.HandleFunc("GET /api/processes/{processID}", func(w http.ResponseWriter, r *http.Request) {
		s.serveProcess(w, r, r.PathValue("processID"))
	})
	mux.HandleFunc("GET /api/connections", s.serveConnections)
	mux.HandleFunc("GET /api/connections/{connectionID}", func(w http.ResponseWriter, r *http.Request) {
		s.serveConnection(w, r, r.PathValue("connectionID"))
	})

	if !s.opts.ReadOnly {
		mux.HandleFunc("POST /api/metastores", s.createMetastore)
		mux.HandleFunc("DELETE /api/metastores/{metastoreID}", func(w http.ResponseWriter, r *http.Request) {
			s.removeMetastore(w, r, r.PathValue("metastoreID"))
		})
		mux.HandleFunc("POST /api/metastores/{metastoreID}/assets", func(w http.ResponseWriter, r *http.Request) {
			s.putAsset(w, r, r.PathValue("metastoreID"))
		})
		mux.HandleFunc("PUT /api/metastores/{metastoreID}/assets/{assetID}", func(w http.ResponseWriter, r *http.Request) {
			s.updateAsset(w, r, r.PathValue("metastoreID"), r.PathValue("assetID"))
		})
		mux.HandleFunc("DELETE /api/metastores/{metastoreID}/assets/{assetID}", func(w http.ResponseWriter, r *http.Request) {
			s.removeAsset(w, r, r.PathValue("metastoreID"), r.PathValue("assetID"))
		})
		mux.HandleFunc("PUT /api/assets/{assetID}/embedding", func(w http.ResponseWriter, r *http.Request) {
			s.putEmbedding(w, r, r.PathValue("assetID"))
		})
		mux.HandleFunc("POST /api/processes", s.registerProcess)
		mux.HandleFunc("DELETE /api/processes/{processID}", func(w http.ResponseWriter, r *http.Request) {
			s.removeProcess(w, r, r.PathValue("processID"))
		})
		mux.HandleFunc("POST /api/processes/{processID}/trigger", func(w http.ResponseWriter, r *http.Request) {
			s.triggerProcess(w, r, r.PathValue("processID"))
		})
		mux.HandleFunc("POST /api/connections", s.registerConnection)
		mux.HandleFunc("DELETE /api/connections/{connectionID}", func(w http.ResponseWriter, r *http.Request) {
			s.removeConnection(w, r, r.PathValue("connectionID"))
		})
	}

	// Health check. Useful for cloud deployments.
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})
	// Default route (all other paths)
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/api", http.StatusTemporaryRedirect)
			return
		}
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "no such route: " + r.URL.Path})
	})
	return mux
}

// Serve starts the HTTP server on s.opts.Addr using the wrapped handler.
func (s *Server) Serve() error {
	handler := s.Handler()
	log.Printf("Go server listening on http://%s", s.opts.Addr)
	return http.ListenAndServe(s.opts.Addr, handler)
}

func (s *Server) Handler() http.Handler {
	return withRequestLogging(s.routes())
}
