package routes

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Route maps a method and path pattern to a handler name.
type Route struct {
	Method  string
	Path    string
	Handler string
}

// Conflict records a route that a later source took over. Path is the
// pattern that won.
type Conflict struct {
	Method   string
	Path     string
	Replaced string
	By       string
}

// Match is a successful lookup.
type Match struct {
	Handler string
	Pattern string
	Params  map[string]string
}

type routeKey struct {
	method string
	path   string
}

var paramSegment = regexp.MustCompile(`\{[^}]*\}`)

// shapeOf drops parameter names, so /users/{id} and /users/{userId} share a
// key the way they share a node in the router.
func shapeOf(method, path string) routeKey {
	return routeKey{method: method, path: paramSegment.ReplaceAllString(path, "{}")}
}

// Table is an immutable routing table. Lookups are safe from any goroutine.
type Table struct {
	mux       *chi.Mux
	list      []Route
	byPattern map[routeKey]string
	unrouted  []string
	conflicts []Conflict
}

// Build assembles a table from handler sources. A source without a path is
// recorded as unrouted. When two sources claim the same method and path
// shape the later one wins and the clash is listed in Conflicts.
func Build(sources []HandlerSource, log *zap.Logger) (*Table, error) {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Table{
		mux:       chi.NewRouter(),
		byPattern: make(map[routeKey]string),
	}
	index := make(map[routeKey]int)
	for _, src := range sources {
		if !src.Routed() {
			t.unrouted = append(t.unrouted, src.Name)
			continue
		}
		method := src.Method
		if method == "" {
			method = http.MethodGet
		}
		r := Route{Method: method, Path: src.Path, Handler: src.Name}
		shape := shapeOf(method, src.Path)
		if i, ok := index[shape]; ok {
			prev := t.list[i]
			t.conflicts = append(t.conflicts, Conflict{Method: method, Path: src.Path, Replaced: prev.Handler, By: src.Name})
			log.Warn("duplicate route, last definition wins",
				zap.String("method", method), zap.String("path", src.Path),
				zap.String("replaced", prev.Handler), zap.String("replaced_path", prev.Path),
				zap.String("by", src.Name))
			t.list[i] = r
			continue
		}
		index[shape] = len(t.list)
		t.list = append(t.list, r)
	}

	for _, r := range t.list {
		if err := t.register(r); err != nil {
			return nil, err
		}
		t.byPattern[routeKey{method: r.Method, path: r.Path}] = r.Handler
	}
	return t, nil
}

// register adds a pattern to the matcher. chi panics on malformed patterns.
func (t *Table) register(r Route) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("invalid route %s %s: %v", r.Method, r.Path, p)
		}
	}()
	t.mux.Method(r.Method, r.Path, http.NotFoundHandler())
	return nil
}

// Lookup finds the handler for method and path. A path that exists only
// under another method is not found.
func (t *Table) Lookup(method, path string) (Match, bool) {
	rctx := chi.NewRouteContext()
	pattern := t.mux.Find(rctx, method, path)
	if pattern == "" {
		return Match{}, false
	}
	handler, ok := t.byPattern[routeKey{method: method, path: pattern}]
	if !ok {
		return Match{}, false
	}
	params := make(map[string]string, len(rctx.URLParams.Keys))
	for i, k := range rctx.URLParams.Keys {
		params[k] = rctx.URLParams.Values[i]
	}
	return Match{Handler: handler, Pattern: pattern, Params: params}, true
}

// Routes returns every route sorted by path, then method. No two entries
// share a method and path shape, so registration order does not matter.
func (t *Table) Routes() []Route {
	out := append([]Route(nil), t.list...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// Unrouted returns handlers loaded without a route, in source order.
func (t *Table) Unrouted() []string {
	return append([]string(nil), t.unrouted...)
}

// Conflicts returns the duplicate routes seen while building.
func (t *Table) Conflicts() []Conflict {
	return append([]Conflict(nil), t.conflicts...)
}
