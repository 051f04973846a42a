// Package workflow is the client side of onboarding: the per-step
// controllers, the camera sub-flow, the session handoff channel and the
// derived progress indicator, driven over HTTP by Client.
package workflow

import "sync"

type Route string

const (
	RouteHome            Route = "/"
	RouteRegistration    Route = "/registration"
	RouteFaceScan        Route = "/face-scan"
	RouteUploadDocuments Route = "/upload-documents"
	RouteLinkAccount     Route = "/link-account"
	RouteSuccess         Route = "/registration-success"
)

// nextRoutes is where a successful submit on a route leads.
var nextRoutes = map[Route]Route{
	RouteRegistration:    RouteUploadDocuments,
	RouteFaceScan:        RouteRegistration,
	RouteUploadDocuments: RouteLinkAccount,
	RouteLinkAccount:     RouteSuccess,
	RouteSuccess:         RouteHome,
}

// backRoutes is where the manual back action leads.
var backRoutes = map[Route]Route{
	RouteRegistration:    RouteHome,
	RouteFaceScan:        RouteRegistration,
	RouteUploadDocuments: RouteRegistration,
	RouteLinkAccount:     RouteUploadDocuments,
	RouteSuccess:         RouteHome,
}

func NextRoute(r Route) Route { return nextRoutes[r] }

func BackRoute(r Route) Route { return backRoutes[r] }

type Navigator interface {
	Navigate(to Route)
}

// Session is one user's pass through the flow. It owns the handoff channel
// and the current route; pages receive it instead of reaching for globals.
type Session struct {
	Handoff *Handoff[FaceCapture]

	mu      sync.Mutex
	current Route
	history []Route
}

func NewSession(start Route) *Session {
	return &Session{
		Handoff: NewHandoff[FaceCapture](),
		current: start,
		history: []Route{start},
	}
}

func (s *Session) Navigate(to Route) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = to
	s.history = append(s.history, to)
}

func (s *Session) Current() Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// History returns every route visited, oldest first.
func (s *Session) History() []Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Route, len(s.history))
	copy(out, s.history)
	return out
}

// Progress returns the indicator for the current route.
func (s *Session) Progress() Progress {
	return ProgressFor(s.Current())
}
