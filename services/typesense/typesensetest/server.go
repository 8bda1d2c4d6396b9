// Package typesensetest provides an in-memory fake of the Typesense REST API for tests.
package typesensetest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sahilchouksey/search-gateway/services/typesense"
)

// ImportCall records one bulk import received by the fake
type ImportCall struct {
	Collection string
	Action     string
	Documents  int
}

// Server is a fake engine. Exported fields may be set before the first request.
type Server struct {
	*httptest.Server

	// CreateDelay widens the window between the existence check and the insert of a create call
	CreateDelay time.Duration
	// ImportStatus makes every import fail with this HTTP status when non-zero
	ImportStatus int
	// RejectDocument makes import reject documents whose id equals it
	RejectDocument string
	// ForeignHits are appended to every search response as if the engine ignored the filter
	ForeignHits []typesense.Document

	mu           sync.Mutex
	collections  map[string]*collection
	createCalls  int
	createdOK    int
	importCalls  []ImportCall
	searchParams []url.Values
}

type collection struct {
	schema typesense.CollectionSchema
	docs   map[string]typesense.Document
}

// NewServer starts a fake engine; it is closed by t.Cleanup-style callers via Close
func NewServer() *Server {
	s := &Server{collections: map[string]*collection{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Client returns a gateway client pointed at the fake
func (s *Server) Client() *typesense.Client {
	return typesense.NewClient(typesense.Config{BaseURL: s.URL, APIKey: "test", MaxRPS: 1000})
}

// CreateCalls counts create collection requests, including conflicting ones
func (s *Server) CreateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls
}

// CreatedCollections counts create requests that actually created a collection
func (s *Server) CreatedCollections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdOK
}

// CollectionNames returns the existing collection names, sorted
func (s *Server) CollectionNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Documents returns a copy of the documents stored in a collection
func (s *Server) Documents(name string) []typesense.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[name]
	if !ok {
		return nil
	}
	docs := make([]typesense.Document, 0, len(col.docs))
	for _, doc := range col.docs {
		docs = append(docs, doc)
	}
	return docs
}

// Imports returns the import calls received so far
func (s *Server) Imports() []ImportCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ImportCall(nil), s.importCalls...)
}

// LastSearch returns the query parameters of the most recent search
func (s *Server) LastSearch() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.searchParams) == 0 {
		return nil
	}
	return s.searchParams[len(s.searchParams)-1]
}

// Seed stores documents directly, creating the collection when needed
func (s *Server) Seed(name string, docs ...typesense.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[name]
	if !ok {
		col = &collection{schema: typesense.CollectionSchema{Name: name}, docs: map[string]typesense.Document{}}
		s.collections[name] = col
	}
	for _, doc := range docs {
		col.docs[fmt.Sprint(doc["id"])] = doc
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-TYPESENSE-API-KEY") == "" {
		writeError(w, http.StatusUnauthorized, "Forbidden - a valid `x-typesense-api-key` header must be sent.")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "health":
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case len(parts) == 1 && parts[0] == "collections" && r.Method == http.MethodGet:
		s.listCollections(w)
	case len(parts) == 1 && parts[0] == "collections" && r.Method == http.MethodPost:
		s.createCollection(w, r)
	case len(parts) == 2 && parts[0] == "collections" && r.Method == http.MethodGet:
		s.retrieveCollection(w, parts[1])
	case len(parts) == 2 && parts[0] == "collections" && r.Method == http.MethodDelete:
		s.deleteCollection(w, parts[1])
	case len(parts) == 4 && parts[2] == "documents" && parts[3] == "import":
		s.importDocuments(w, r, parts[1])
	case len(parts) == 4 && parts[2] == "documents" && parts[3] == "search":
		s.search(w, r, parts[1])
	case len(parts) == 4 && parts[2] == "documents" && r.Method == http.MethodDelete:
		s.deleteDocument(w, parts[1], parts[3])
	case len(parts) == 4 && parts[2] == "documents" && r.Method == http.MethodGet:
		s.retrieveDocument(w, parts[1], parts[3])
	default:
		writeError(w, http.StatusNotFound, "Not Found")
	}
}

func (s *Server) listCollections(w http.ResponseWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]typesense.Collection, 0, len(s.collections))
	for name, col := range s.collections {
		out = append(out, typesense.Collection{Name: name, NumDocuments: int64(len(col.docs)), Fields: col.schema.Fields})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createCollection(w http.ResponseWriter, r *http.Request) {
	var schema typesense.CollectionSchema
	if err := json.NewDecoder(r.Body).Decode(&schema); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.createCalls++
	s.mu.Unlock()

	if s.CreateDelay > 0 {
		time.Sleep(s.CreateDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.collections[schema.Name]; exists {
		writeError(w, http.StatusConflict, fmt.Sprintf("A collection with name `%s` already exists.", schema.Name))
		return
	}
	s.collections[schema.Name] = &collection{schema: schema, docs: map[string]typesense.Document{}}
	s.createdOK++
	writeJSON(w, http.StatusCreated, typesense.Collection{Name: schema.Name, Fields: schema.Fields, DefaultSortingField: schema.DefaultSortingField})
}

func (s *Server) retrieveCollection(w http.ResponseWriter, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[name]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, typesense.Collection{
		Name:                name,
		NumDocuments:        int64(len(col.docs)),
		Fields:              col.schema.Fields,
		DefaultSortingField: col.schema.DefaultSortingField,
	})
}

func (s *Server) deleteCollection(w http.ResponseWriter, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[name]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	delete(s.collections, name)
	writeJSON(w, http.StatusOK, typesense.Collection{Name: name, NumDocuments: int64(len(col.docs))})
}

func (s *Server) importDocuments(w http.ResponseWriter, r *http.Request, name string) {
	if s.ImportStatus != 0 {
		writeError(w, s.ImportStatus, "import failed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[name]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	action := r.URL.Query().Get("action")
	var out bytes.Buffer
	count := 0
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		count++
		var doc typesense.Document
		if err := json.Unmarshal(line, &doc); err != nil {
			fmt.Fprintf(&out, "{\"success\":false,\"error\":%q,\"document\":%q}\n", "Bad JSON.", string(line))
			continue
		}
		id := fmt.Sprint(doc["id"])
		if id == s.RejectDocument {
			fmt.Fprintf(&out, "{\"success\":false,\"error\":%q,\"document\":%q}\n", "Field `content` must be a string.", string(line))
			continue
		}
		if _, exists := col.docs[id]; exists && action == "create" {
			fmt.Fprintf(&out, "{\"success\":false,\"error\":%q,\"document\":%q}\n", "A document with id "+id+" already exists.", string(line))
			continue
		}
		col.docs[id] = doc
		out.WriteString("{\"success\":true}\n")
	}
	s.importCalls = append(s.importCalls, ImportCall{Collection: name, Action: action, Documents: count})

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Bytes())
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchParams = append(s.searchParams, r.URL.Query())

	col, ok := s.collections[name]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	hits := make([]typesense.Hit, 0, len(col.docs)+len(s.ForeignHits))
	ids := make([]string, 0, len(col.docs))
	for id := range col.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		hits = append(hits, typesense.Hit{Document: col.docs[id]})
	}
	for _, doc := range s.ForeignHits {
		hits = append(hits, typesense.Hit{Document: doc})
	}

	if field := r.URL.Query().Get("group_by"); field != "" {
		writeJSON(w, http.StatusOK, groupHits(field, hits, len(col.docs)))
		return
	}

	writeJSON(w, http.StatusOK, typesense.SearchResult{
		Found: len(hits),
		OutOf: len(col.docs),
		Page:  1,
		Hits:  hits,
	})
}

// groupHits groups hits by the value of field, in order of first appearance
func groupHits(field string, hits []typesense.Hit, outOf int) typesense.SearchResult {
	var order []string
	groups := map[string]*typesense.GroupedHit{}
	for _, hit := range hits {
		key := fmt.Sprint(hit.Document[field])
		group, ok := groups[key]
		if !ok {
			group = &typesense.GroupedHit{GroupKey: []interface{}{key}}
			groups[key] = group
			order = append(order, key)
		}
		group.Hits = append(group.Hits, hit)
		group.Found++
	}

	result := typesense.SearchResult{
		Found:       len(order),
		FoundDocs:   len(hits),
		OutOf:       outOf,
		Page:        1,
		Hits:        []typesense.Hit{},
		GroupedHits: make([]typesense.GroupedHit, 0, len(order)),
	}
	for _, key := range order {
		result.GroupedHits = append(result.GroupedHits, *groups[key])
	}
	return result
}

func (s *Server) retrieveDocument(w http.ResponseWriter, name, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[name]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	doc, ok := col.docs[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Could not find a document with id: "+id)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) deleteDocument(w http.ResponseWriter, name, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[name]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	doc, ok := col.docs[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Could not find a document with id: "+id)
		return
	}
	delete(col.docs, id)
	writeJSON(w, http.StatusOK, doc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
