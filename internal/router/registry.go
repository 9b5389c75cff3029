package router

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/pterm/pterm"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
)

type RouteInfo struct {
	Handler     http.HandlerFunc
	Description string
	Method      string
	Order       int
}

// RouteRegistry collects routes before wiring so startup can render the full
// table in registration order. Patterns are method-qualified, so the same
// path may carry different handlers per verb.
type RouteRegistry struct {
	routes   map[string]RouteInfo
	logger   logger.StyledLogger
	orderSeq int
}

func NewRouteRegistry(styledLogger logger.StyledLogger) *RouteRegistry {
	return &RouteRegistry{
		routes: make(map[string]RouteInfo),
		logger: styledLogger,
	}
}

func (r *RouteRegistry) Register(route string, handler http.HandlerFunc, description string) {
	r.RegisterWithMethod(route, handler, description, http.MethodGet)
}

func (r *RouteRegistry) RegisterWithMethod(route string, handler http.HandlerFunc, description, method string) {
	r.routes[method+" "+route] = RouteInfo{
		Handler:     handler,
		Description: description,
		Method:      method,
		Order:       r.orderSeq,
	}
	r.orderSeq++
}

func (r *RouteRegistry) WireUp(mux *http.ServeMux) {
	for pattern, info := range r.routes {
		mux.HandleFunc(pattern, info.Handler)
	}
	r.logRoutesTable()
}

func (r *RouteRegistry) logRoutesTable() {
	if len(r.routes) == 0 {
		return
	}

	patterns := make([]string, 0, len(r.routes))
	for pattern := range r.routes {
		patterns = append(patterns, pattern)
	}
	sort.Slice(patterns, func(i, j int) bool {
		return r.routes[patterns[i]].Order < r.routes[patterns[j]].Order
	})

	rows := [][]string{{"ROUTE", "METHOD", "DESCRIPTION"}}
	for _, pattern := range patterns {
		info := r.routes[pattern]
		rows = append(rows, []string{
			pattern[len(info.Method)+1:],
			info.Method,
			info.Description,
		})
	}

	r.logger.InfoWithCount("Registered HTTP routes", len(patterns))
	if table, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender(); err == nil {
		fmt.Print(table)
	}
}

func (r *RouteRegistry) GetRoutes() map[string]RouteInfo {
	return r.routes
}
