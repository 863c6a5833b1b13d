// Package strapitest is an in-memory Strapi v4 REST backend for tests. It
// understands the subset of the api the strapi client speaks: deep population,
// equality filters, unpaginated listing, create, update, delete and uploads.
package strapitest

import (
	"coursemigrate/internal/strapi"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

const timestamp = "2024-05-01T12:00:00.000Z"

type row struct {
	id    int64
	attrs map[string]any
}

type failure struct {
	method     string
	collection string
	status     int
}

// Server is a fake backend, the zero value is not usable, see New.
type Server struct {
	*httptest.Server

	registry *strapi.Registry
	byColl   map[string]*strapi.Entity

	mutex    sync.Mutex
	nextID   int64
	rows     map[string][]*row
	media    []*row
	created  map[string]int
	requests int
	failures []failure
}

func New(registry *strapi.Registry) *Server {
	s := &Server{
		registry: registry,
		byColl:   map[string]*strapi.Entity{},
		rows:     map[string][]*row{},
		created:  map[string]int{},
	}
	for _, e := range registry.Entities() {
		s.byColl[e.Collection] = e
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/upload", s.upload)
	mux.HandleFunc("GET /api/{collection}", s.list)
	mux.HandleFunc("POST /api/{collection}", s.create)
	mux.HandleFunc("GET /api/{collection}/{id}", s.get)
	mux.HandleFunc("PUT /api/{collection}/{id}", s.update)
	mux.HandleFunc("DELETE /api/{collection}/{id}", s.delete)
	s.Server = httptest.NewServer(mux)
	return s
}

// Seed inserts a record directly, bypassing creation counts.
func (s *Server) Seed(collection string, attrs map[string]any) int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.insert(collection, normalize(attrs))
}

// Created returns how many records were created through the api.
func (s *Server) Created(collection string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.created[collection]
}

// Count returns how many records a collection holds.
func (s *Server) Count(collection string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.rows[collection])
}

// Uploads returns how many files were uploaded.
func (s *Server) Uploads() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.media)
}

// Attrs returns a copy of the stored attributes of a record.
func (s *Server) Attrs(collection string, id int64) map[string]any {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	r := s.find(collection, id)
	if r == nil {
		return nil
	}
	out := make(map[string]any, len(r.attrs))
	for k, v := range r.attrs {
		out[k] = v
	}
	return out
}

// Fail makes the next request with this method against collection answer
// with status. Use "upload" as collection for uploads.
func (s *Server) Fail(method, collection string, status int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.failures = append(s.failures, failure{method: method, collection: collection, status: status})
}

func (s *Server) injected(w http.ResponseWriter, method, collection string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.requests++
	for i, f := range s.failures {
		if f.method == method && f.collection == collection {
			s.failures = append(s.failures[:i], s.failures[i+1:]...)
			writeError(w, f.status, "injected failure")
			return true
		}
	}
	return false
}

func (s *Server) insert(collection string, attrs map[string]any) int64 {
	s.nextID++
	if _, ok := attrs["createdAt"]; !ok {
		attrs["createdAt"] = timestamp
	}
	attrs["updatedAt"] = timestamp
	s.rows[collection] = append(s.rows[collection], &row{id: s.nextID, attrs: attrs})
	return s.nextID
}

func (s *Server) find(collection string, id int64) *row {
	for _, r := range s.rows[collection] {
		if r.id == id {
			return r
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"data": nil,
		"error": map[string]any{
			"status":  status,
			"name":    http.StatusText(status),
			"message": msg,
		},
	})
}

// normalize turns json floats that hold integers back into int64 so stored
// ids compare cleanly.
func normalize(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch v := v.(type) {
	case float64:
		if v == float64(int64(v)) {
			return int64(v)
		}
	case int:
		return int64(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		return normalize(v)
	}
	return v
}

func isMedia(d strapi.Descriptor) (bool, bool) {
	switch d := d.(type) {
	case strapi.Optional:
		return isMedia(d.Inner)
	case strapi.CustomCoercible:
		switch d.Codec.Name() {
		case "media":
			return true, false
		case "media_list":
			return true, true
		}
	}
	return false, false
}

func isList(d strapi.Descriptor) bool {
	switch d := d.(type) {
	case strapi.Optional:
		return isList(d.Inner)
	case strapi.ReferenceList:
		return true
	}
	return false
}

func (s *Server) related(target string, id int64) map[string]any {
	e, ok := s.registry.Lookup(target)
	if !ok {
		return nil
	}
	r := s.find(e.Collection, id)
	if r == nil {
		return nil
	}
	return map[string]any{"id": r.id, "attributes": r.attrs}
}

func idOf(v any) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case map[string]any:
		return idOf(v["id"])
	}
	return 0, false
}

func mediaObject(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	attrs := make(map[string]any, len(m))
	for k, val := range m {
		if k != "id" {
			attrs[k] = val
		}
	}
	return map[string]any{"id": m["id"], "attributes": attrs}
}

// render expands relations one level deep the way populate=deep does.
func (s *Server) render(e *strapi.Entity, r *row) map[string]any {
	attrs := make(map[string]any, len(r.attrs))
	for k, v := range r.attrs {
		attrs[k] = v
	}
	for _, f := range e.Fields {
		v, present := r.attrs[f.Name]
		if media, list := isMedia(f.Type); media {
			if !present || v == nil {
				attrs[f.Name] = map[string]any{"data": nil}
				continue
			}
			if list {
				items, _ := v.([]any)
				out := make([]any, 0, len(items))
				for _, item := range items {
					out = append(out, mediaObject(item))
				}
				attrs[f.Name] = map[string]any{"data": out}
				continue
			}
			attrs[f.Name] = map[string]any{"data": mediaObject(v)}
			continue
		}

		target, relation := strapi.RelationTarget(f.Type)
		if !relation {
			continue
		}
		if isList(f.Type) {
			items, _ := v.([]any)
			out := make([]any, 0, len(items))
			for _, item := range items {
				if id, ok := idOf(item); ok {
					if obj := s.related(target, id); obj != nil {
						out = append(out, obj)
					}
				}
			}
			attrs[f.Name] = map[string]any{"data": out}
			continue
		}
		id, ok := idOf(v)
		if !ok {
			attrs[f.Name] = map[string]any{"data": nil}
			continue
		}
		obj := s.related(target, id)
		if obj == nil {
			attrs[f.Name] = map[string]any{"data": nil}
			continue
		}
		attrs[f.Name] = map[string]any{"data": obj}
	}
	return map[string]any{"id": r.id, "attributes": attrs}
}

var filterKey = regexp.MustCompile(`^filters\[([^\]]+)\](?:\[([^\]]+)\])?\[(\$eq|\$null)\]$`)

type predicate struct {
	field string
	attr  string
	op    string
	value string
}

func (s *Server) matches(e *strapi.Entity, r *row, p predicate) bool {
	v, present := r.attrs[p.field]
	if p.op == "$null" {
		isNull := !present || v == nil
		return isNull == (p.value == "true")
	}
	if !present || v == nil {
		return false
	}

	if p.attr == "" {
		return fmt.Sprint(v) == p.value
	}

	candidates := []any{v}
	if list, ok := v.([]any); ok {
		candidates = list
	}
	field, _ := e.Field(p.field)
	target, relation := strapi.RelationTarget(field.Type)
	for _, c := range candidates {
		var obj map[string]any
		if relation {
			id, ok := idOf(c)
			if !ok {
				continue
			}
			if p.attr == "id" {
				if strconv.FormatInt(id, 10) == p.value {
					return true
				}
				continue
			}
			related := s.related(target, id)
			if related == nil {
				continue
			}
			obj, _ = related["attributes"].(map[string]any)
		} else {
			obj, _ = c.(map[string]any)
		}
		if obj != nil && fmt.Sprint(obj[p.attr]) == p.value {
			return true
		}
	}
	return false
}

func (s *Server) entity(w http.ResponseWriter, req *http.Request) (*strapi.Entity, bool) {
	e, ok := s.byColl[req.PathValue("collection")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown collection")
	}
	return e, ok
}

func (s *Server) list(w http.ResponseWriter, req *http.Request) {
	e, ok := s.entity(w, req)
	if !ok || s.injected(w, http.MethodGet, e.Collection) {
		return
	}

	var predicates []predicate
	for key, values := range req.URL.Query() {
		groups := filterKey.FindStringSubmatch(key)
		if groups == nil {
			continue
		}
		predicates = append(predicates, predicate{
			field: groups[1],
			attr:  groups[2],
			op:    groups[3],
			value: values[0],
		})
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	data := []any{}
	for _, r := range s.rows[e.Collection] {
		keep := true
		for _, p := range predicates {
			if !s.matches(e, r, p) {
				keep = false
				break
			}
		}
		if keep {
			data = append(data, s.render(e, r))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": data,
		"meta": map[string]any{"pagination": map[string]any{"total": len(data)}},
	})
}

func (s *Server) rowFor(w http.ResponseWriter, req *http.Request, e *strapi.Entity) *row {
	id, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad id")
		return nil
	}
	r := s.find(e.Collection, id)
	if r == nil {
		writeError(w, http.StatusNotFound, "Not Found")
	}
	return r
}

func (s *Server) get(w http.ResponseWriter, req *http.Request) {
	e, ok := s.entity(w, req)
	if !ok || s.injected(w, http.MethodGet, e.Collection) {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	r := s.rowFor(w, req, e)
	if r == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.render(e, r), "meta": map[string]any{}})
}

func readData(req *http.Request) (map[string]any, error) {
	var body struct {
		Data map[string]any `json:"data"`
	}
	err := json.NewDecoder(req.Body).Decode(&body)
	if err != nil {
		return nil, err
	}
	if body.Data == nil {
		return nil, fmt.Errorf("missing data")
	}
	if _, ok := body.Data["id"]; ok {
		return nil, fmt.Errorf("id is not writable")
	}
	return normalize(body.Data), nil
}

func (s *Server) create(w http.ResponseWriter, req *http.Request) {
	e, ok := s.entity(w, req)
	if !ok || s.injected(w, http.MethodPost, e.Collection) {
		return
	}
	attrs, err := readData(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	id := s.insert(e.Collection, attrs)
	s.created[e.Collection]++
	writeJSON(w, http.StatusOK, map[string]any{"data": s.render(e, s.find(e.Collection, id)), "meta": map[string]any{}})
}

func (s *Server) update(w http.ResponseWriter, req *http.Request) {
	e, ok := s.entity(w, req)
	if !ok || s.injected(w, http.MethodPut, e.Collection) {
		return
	}
	attrs, err := readData(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	r := s.rowFor(w, req, e)
	if r == nil {
		return
	}
	for k, v := range attrs {
		r.attrs[k] = v
	}
	r.attrs["updatedAt"] = timestamp
	writeJSON(w, http.StatusOK, map[string]any{"data": s.render(e, r), "meta": map[string]any{}})
}

func (s *Server) delete(w http.ResponseWriter, req *http.Request) {
	e, ok := s.entity(w, req)
	if !ok || s.injected(w, http.MethodDelete, e.Collection) {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	r := s.rowFor(w, req, e)
	if r == nil {
		return
	}
	rendered := s.render(e, r)
	rows := s.rows[e.Collection]
	for i, candidate := range rows {
		if candidate == r {
			s.rows[e.Collection] = append(rows[:i], rows[i+1:]...)
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rendered, "meta": map[string]any{}})
}

func (s *Server) upload(w http.ResponseWriter, req *http.Request) {
	if s.injected(w, http.MethodPost, "upload") {
		return
	}
	file, header, err := req.FormFile("files")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()

	digest := sha1.New()
	size, err := io.Copy(digest, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	hash := hex.EncodeToString(digest.Sum(nil))[:16]
	ext := filepath.Ext(header.Filename)
	mime := header.Header.Get("content-type")
	if mime == "" {
		mime = "application/octet-stream"
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.nextID++
	asset := map[string]any{
		"id":                s.nextID,
		"name":              header.Filename,
		"alternativeText":   nil,
		"caption":           nil,
		"width":             nil,
		"height":            nil,
		"formats":           nil,
		"hash":              fmt.Sprintf("%s_%s", strings.TrimSuffix(header.Filename, ext), hash),
		"ext":               ext,
		"mime":              mime,
		"size":              float64(size) / 1000,
		"url":               fmt.Sprintf("/uploads/%s%s", hash, ext),
		"previewUrl":        nil,
		"provider":          "local",
		"provider_metadata": nil,
		"createdAt":         timestamp,
		"updatedAt":         timestamp,
	}
	s.media = append(s.media, &row{id: s.nextID, attrs: asset})
	writeJSON(w, http.StatusOK, []any{asset})
}
