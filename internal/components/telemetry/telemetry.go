package telemetry

import (
	"fmt"
)

// API is what every component logs and counts through. Tests swap in a
// Recorder to assert on reports.
type API interface {
	// ReportBroken reports a component that has broken in a way that should be addressed.
	//
	// The `id` is a fully qualified identifier that should indicate what **component** broke, not what
	// specific piece of the implementation of a component broke.
	//
	// ex. Suppose an HTTP request fails in the kartra crawler in a method called `Discover`.
	// The id should be `crawler.discover`, no more granular than that. If you need to
	// disambiguate, add a param or wrap the error with fmt.Errorf.
	//
	// Formatting rules:
	// 1) all lowercase
	// 2) use underscores for large components
	// 3) use dashes for methods part of a larger component
	ReportBroken(id string, params ...any)

	// ReportWarning reports a scenario that does not necessarily indicate brokenness, but may be subject to investigation
	//
	// For what value to provide as `id` refer to ReportBroken.
	ReportWarning(id string, params ...any)

	// ReportDebug reports some debug information that will be ignored in production
	ReportDebug(msg string, params ...any)

	// ReportCount reports the current count of a specific event at the current time, these counts should
	// not be summed but interpreted as points of data over time.
	//
	// For what value to provide as `id` refer to ReportBroken.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id with a namespace, `ns.id`. Scoping an
// already scoped API joins the namespaces instead of nesting wrappers.
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	if scoped, ok := inner.(ScopedAPI); ok {
		return ScopedAPI{
			namespace: namespace + "." + scoped.namespace,
			inner:     scoped.inner,
		}
	}
	return ScopedAPI{namespace: namespace, inner: inner}
}

// Namespace returns the joined namespace of the scope.
func (s ScopedAPI) Namespace() string {
	return s.namespace
}

func (s ScopedAPI) id(id string) string {
	return s.namespace + "." + id
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.id(id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.id(id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(fmt.Sprintf("%s: %s", s.namespace, msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.id(id), count)
}
