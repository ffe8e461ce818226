// Package qdranttest runs an in-process Qdrant REST server covering the
// collection and point endpoints the qdrant client uses.
package qdranttest

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"gonum.org/v1/gonum/floats"
)

// Request is one call the server received.
type Request struct {
	Method string
	Path   string
	APIKey string
	Body   map[string]any
}

type point struct {
	vector  []float64
	payload map[string]any
}

type collection struct {
	size     int
	distance string
	points   map[string]point
}

// Server keeps collections in memory. Point calls on a missing collection
// answer 404 like the real server.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	collections map[string]*collection
	requests    []Request
}

// NewServer starts a server that is closed when t finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{collections: map[string]*collection{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/{name}", s.getCollection)
	mux.HandleFunc("PUT /collections/{name}", s.createCollection)
	mux.HandleFunc("DELETE /collections/{name}", s.deleteCollection)
	mux.HandleFunc("PUT /collections/{name}/points", s.upsertPoints)
	mux.HandleFunc("POST /collections/{name}/points/search", s.searchPoints)
	mux.HandleFunc("POST /collections/{name}/points/delete", s.deletePoints)
	s.Server = httptest.NewServer(s.record(mux))
	t.Cleanup(s.Close)
	return s
}

// Requests returns the calls received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// CreateCollection adds an empty collection.
func (s *Server) CreateCollection(name string, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[name] = &collection{size: size, distance: "Cosine", points: map[string]point{}}
}

// Points returns the number of points in a collection, or -1 when it does
// not exist.
func (s *Server) Points(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return -1
	}
	return len(c.points)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := Request{Method: r.Method, Path: r.URL.Path, APIKey: r.Header.Get("api-key")}
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &req.Body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		r.Body = io.NopCloser(bytes.NewReader(data))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*collection, bool) {
	c, ok := s.collections[r.PathValue("name")]
	if !ok {
		http.Error(w, `{"status":{"error":"Not found: Collection doesn't exist"}}`, http.StatusNotFound)
	}
	return c, ok
}

func (s *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeResult(w, map[string]any{
		"points_count": len(c.points),
		"config":       map[string]any{"params": map[string]any{"vectors": map[string]any{"size": c.size, "distance": c.distance}}},
	})
}

func (s *Server) createCollection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Vectors struct {
			Size     int    `json:"size"`
			Distance string `json:"distance"`
		} `json:"vectors"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Vectors.Size <= 0 {
		http.Error(w, "bad vectors config", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	name := r.PathValue("name")
	if _, ok := s.collections[name]; ok {
		http.Error(w, "collection already exists", http.StatusConflict)
		return
	}
	s.collections[name] = &collection{size: body.Vectors.Size, distance: body.Vectors.Distance, points: map[string]point{}}
	writeResult(w, true)
}

func (s *Server) deleteCollection(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(w, r); !ok {
		return
	}
	delete(s.collections, r.PathValue("name"))
	writeResult(w, true)
}

func (s *Server) upsertPoints(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Points []struct {
			ID      string         `json:"id"`
			Vector  []float64      `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	for _, p := range body.Points {
		if len(p.Vector) != c.size {
			http.Error(w, "wrong vector dimension", http.StatusBadRequest)
			return
		}
	}
	for _, p := range body.Points {
		c.points[p.ID] = point{vector: p.Vector, payload: p.Payload}
	}
	writeResult(w, map[string]any{"status": "completed"})
}

func (s *Server) searchPoints(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Vector []float64 `json:"vector"`
		Limit  int       `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if len(body.Vector) != c.size {
		http.Error(w, "wrong vector dimension", http.StatusBadRequest)
		return
	}
	type hit struct {
		ID      string         `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	}
	hits := make([]hit, 0, len(c.points))
	for id, p := range c.points {
		hits = append(hits, hit{ID: id, Score: floats.Dot(p.vector, body.Vector), Payload: p.payload})
	}
	slices.SortFunc(hits, func(a, b hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	writeResult(w, hits[:min(body.Limit, len(hits))])
}

func (s *Server) deletePoints(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Points []string       `json:"points"`
		Filter map[string]any `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	switch {
	case body.Points != nil:
		for _, id := range body.Points {
			delete(c.points, id)
		}
	case body.Filter != nil && len(body.Filter) == 0:
		clear(c.points)
	default:
		http.Error(w, "only id lists and the empty filter are supported", http.StatusBadRequest)
		return
	}
	writeResult(w, map[string]any{"status": "completed"})
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
}
