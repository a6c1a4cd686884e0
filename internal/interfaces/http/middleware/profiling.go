package middleware

import (
	"context"
	"strings"

	"github.com/freight/recognition/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
)

// ProfilingConfig holds configuration for the profiling middleware.
type ProfilingConfig struct {
	Enabled          bool
	SkipPathPrefixes []string
}

// DefaultProfilingConfig skips health checks and the API docs
func DefaultProfilingConfig() ProfilingConfig {
	return ProfilingConfig{
		Enabled:          true,
		SkipPathPrefixes: []string{"/health", "/swagger"},
	}
}

// ProfilingWithConfig tags CPU and allocation samples taken while serving a
// request with the route pattern, the method and the company. Place it after
// the JWT middleware.
func ProfilingWithConfig(cfg ProfilingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		for _, prefix := range cfg.SkipPathPrefixes {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				c.Next()
				return
			}
		}

		telemetry.WithProfilingLabels(c.Request.Context(), profilingLabels(c), func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}

func profilingLabels(c *gin.Context) map[string]string {
	labels := map[string]string{
		telemetry.ProfilingLabelMethod: c.Request.Method,
	}
	if route := c.FullPath(); route != "" {
		labels[telemetry.ProfilingLabelRoute] = route
		if op := operationOf(route); op != "" {
			labels[telemetry.ProfilingLabelOperation] = op
		}
	}
	if company := GetCompany(c); company != "" {
		labels[telemetry.ProfilingLabelCompany] = company
	}
	return labels
}

// operationOf names the resource a route serves:
// "/api/v1/recognition/jobs/:type/:id/wip" -> "recognition"
func operationOf(route string) string {
	for _, part := range strings.Split(route, "/") {
		if part == "" || part == "api" || strings.HasPrefix(part, ":") || strings.HasPrefix(part, "*") || isVersionSegment(part) {
			continue
		}
		return part
	}
	return ""
}

// isVersionSegment reports whether a path segment is an API version such as v1
func isVersionSegment(segment string) bool {
	if len(segment) < 2 || (segment[0] != 'v' && segment[0] != 'V') {
		return false
	}
	for _, r := range segment[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
