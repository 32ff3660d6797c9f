// Package solrtest provides an in-memory stand-in for a Solr collection, good enough
// to exercise update, select, get, ping and collection admin calls in tests.
package solrtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type Server struct {
	*httptest.Server
	Core string

	mu          sync.Mutex
	docs        map[string]map[string]any
	collections map[string]bool
	selects     []url.Values
	updates     int
	commits     int
	schemaCalls int
	failUpdates bool
	failSelects bool
}

// New starts a fake Solr with an existing, empty collection named core.
func New(core string) *Server {
	s := &Server{
		Core:        core,
		docs:        make(map[string]map[string]any),
		collections: map[string]bool{core: true},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *Server) FailUpdates(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpdates = fail
}

func (s *Server) FailSelects(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSelects = fail
}

// DropCollection makes the collection disappear from the collections API.
func (s *Server) DropCollection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, s.Core)
}

func (s *Server) HasCollection() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collections[s.Core]
}

// Put stores a document directly.
func (s *Server) Put(doc map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[fmt.Sprint(doc["id"])] = doc
}

func (s *Server) Doc(id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	return doc, ok
}

// IDs returns the ids of all stored documents in numeric order.
func (s *Server) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedIDs()
}

func (s *Server) Selects() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values{}, s.selects...)
}

func (s *Server) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

func (s *Server) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Server) SchemaCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schemaCalls
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.URL.Path == "/solr/admin/collections" {
		s.handleCollections(w, r)
		return
	}
	rest, ok := strings.CutPrefix(r.URL.Path, "/solr/"+s.Core+"/")
	if !ok {
		writeError(w, http.StatusNotFound, "unknown path "+r.URL.Path)
		return
	}
	switch {
	case rest == "admin/ping":
		writeJSON(w, map[string]any{"status": "OK"})
	case rest == "select":
		s.handleSelect(w, r)
	case rest == "get":
		doc, ok := s.docs[r.URL.Query().Get("id")]
		if !ok {
			writeJSON(w, map[string]any{"doc": nil})
			return
		}
		writeJSON(w, map[string]any{"doc": doc})
	case rest == "schema":
		s.schemaCalls++
		writeJSON(w, okHeader())
	case strings.HasPrefix(rest, "update"):
		s.handleUpdate(w, r)
	default:
		writeError(w, http.StatusNotFound, "unknown handler "+rest)
	}
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch strings.ToUpper(q.Get("action")) {
	case "LIST":
		var names []string
		for name := range s.collections {
			names = append(names, name)
		}
		writeJSON(w, map[string]any{"collections": names})
	case "CREATE":
		s.collections[q.Get("name")] = true
		writeJSON(w, okHeader())
	case "DELETE":
		delete(s.collections, q.Get("name"))
		if q.Get("name") == s.Core {
			s.docs = make(map[string]map[string]any)
		}
		writeJSON(w, okHeader())
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.failUpdates {
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	s.updates++
	if r.URL.Query().Get("commit") == "true" {
		s.commits++
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(strings.TrimSpace(string(data))) > 0 {
		var body any
		if err := json.Unmarshal(data, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.apply(body)
	}
	writeJSON(w, okHeader())
}

func (s *Server) apply(body any) {
	switch cmd := body.(type) {
	case []any:
		for _, doc := range cmd {
			s.add(doc)
		}
	case map[string]any:
		for name, arg := range cmd {
			switch name {
			case "add":
				if m, ok := arg.(map[string]any); ok {
					s.add(m["doc"])
				}
			case "delete":
				s.delete(arg)
			case "commit":
				s.commits++
			}
		}
	}
}

func (s *Server) add(doc any) {
	if m, ok := doc.(map[string]any); ok {
		s.docs[fmt.Sprint(m["id"])] = m
	}
}

func (s *Server) delete(arg any) {
	switch d := arg.(type) {
	case []any:
		for _, id := range d {
			delete(s.docs, fmt.Sprint(id))
		}
	case string:
		delete(s.docs, d)
	case map[string]any:
		if id, ok := d["id"]; ok {
			delete(s.docs, fmt.Sprint(id))
		}
		if q, ok := d["query"].(string); ok {
			for id, doc := range s.docs {
				if matchClause(doc, q) {
					delete(s.docs, id)
				}
			}
		}
	}
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	s.selects = append(s.selects, params)
	if s.failSelects {
		writeError(w, http.StatusInternalServerError, "select failed")
		return
	}
	q := params.Get("q")
	var fields []string
	for _, f := range strings.Fields(params.Get("qf")) {
		fields = append(fields, strings.SplitN(f, "^", 2)[0])
	}
	var matched []map[string]any
	for _, id := range s.sortedIDs() {
		doc := s.docs[id]
		switch {
		case q == "" && params.Get("q.alt") == "":
			continue
		case q == "" || q == "*:*":
		case strings.Contains(q, ":"):
			if !matchClause(doc, q) {
				continue
			}
		default:
			if !matchTerm(doc, fields, q) {
				continue
			}
		}
		if !matchFilters(doc, params["fq"]) {
			continue
		}
		matched = append(matched, doc)
	}
	start, _ := strconv.Atoi(params.Get("start"))
	rows := 10
	if v := params.Get("rows"); v != "" {
		rows, _ = strconv.Atoi(v)
	}
	page := []map[string]any{}
	for i := start; i < len(matched) && i < start+rows; i++ {
		page = append(page, matched[i])
	}
	writeJSON(w, map[string]any{
		"responseHeader": map[string]any{"status": 0, "QTime": 0},
		"response":       map[string]any{"numFound": len(matched), "start": start, "docs": page},
	})
}

func (s *Server) sortedIDs() []string {
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}

// matchClause understands "*:*", "field:*", "field:value" and "field:(a OR b)".
func matchClause(doc map[string]any, q string) bool {
	if q == "*:*" {
		return true
	}
	field, value, ok := strings.Cut(q, ":")
	if !ok {
		return false
	}
	v, present := doc[field]
	if value == "*" {
		return present
	}
	if !present {
		return false
	}
	value = strings.TrimSuffix(strings.TrimPrefix(value, "("), ")")
	for _, alt := range strings.Split(value, " OR ") {
		if fmt.Sprint(v) == strings.Trim(strings.TrimSpace(alt), `"`) {
			return true
		}
	}
	return false
}

func matchFilters(doc map[string]any, fqs []string) bool {
	for _, fq := range fqs {
		if !matchClause(doc, fq) {
			return false
		}
	}
	return true
}

func matchTerm(doc map[string]any, fields []string, term string) bool {
	term = strings.ToLower(term)
	for _, f := range fields {
		if v, ok := doc[f].(string); ok && strings.Contains(strings.ToLower(v), term) {
			return true
		}
	}
	return false
}

func okHeader() map[string]any {
	return map[string]any{"responseHeader": map[string]any{"status": 0, "QTime": 0}}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"responseHeader": map[string]any{"status": status},
		"error":          map[string]any{"msg": msg, "code": status},
	})
}
