package submission

import (
	"sort"
	"strings"

	"github.com/careconnect/evv/internal/integration"
	"github.com/careconnect/evv/internal/platform/apperr"
)

// DefaultRoutes maps state codes to destinations.
var DefaultRoutes = map[string]string{
	"MD": integration.DestinationMaryland,
	"DC": integration.DestinationSandata,
	"VA": integration.DestinationVirginia,
}

// Router resolves the destination for a jurisdiction. The same table backs
// create-time validation, so every accepted record can be routed.
type Router struct {
	routes map[string]string
}

// NewRouter builds a router from routes, or from DefaultRoutes when routes
// is nil.
func NewRouter(routes map[string]string) *Router {
	if routes == nil {
		routes = DefaultRoutes
	}
	r := &Router{routes: make(map[string]string, len(routes))}
	for code, dest := range routes {
		r.routes[normalizeCode(code)] = dest
	}
	return r
}

func (r *Router) DestinationFor(code string) (string, error) {
	dest, ok := r.routes[normalizeCode(code)]
	if !ok {
		return "", &apperr.UnsupportedJurisdictionError{Code: code}
	}
	return dest, nil
}

func (r *Router) Supports(code string) bool {
	_, ok := r.routes[normalizeCode(code)]
	return ok
}

// Jurisdictions lists the supported state codes in sorted order.
func (r *Router) Jurisdictions() []string {
	out := make([]string, 0, len(r.routes))
	for code := range r.routes {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Destinations lists the distinct destinations the router can produce.
func (r *Router) Destinations() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range r.routes {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
