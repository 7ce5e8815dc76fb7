package route

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
)

// RouterLoader initializes routes on the gin engine.
type RouterLoader func(r *gin.Engine) error

// RouteType distinguishes API routes from operational ones.
type RouteType int

const (
	// RouteTypeMain registers the query surface routes.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement registers health, readiness and metrics routes.
	RouteTypeManagement
)

// Plugin represents a route plugin with an order for deterministic mount sequence.
type Plugin struct {
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var (
	mu      sync.Mutex
	plugins []Plugin
)

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	plugins = append(plugins, p)
}

// Loaders returns the loaders of the given type, sorted by order.
func Loaders(t RouteType) []RouterLoader {
	mu.Lock()
	sorted := make([]Plugin, len(plugins))
	copy(sorted, plugins)
	mu.Unlock()
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	var loaders []RouterLoader
	for _, p := range sorted {
		if p.Type == t {
			loaders = append(loaders, p.Loader)
		}
	}
	return loaders
}

// MountAll mounts management routes first, then API routes.
func MountAll(r *gin.Engine) error {
	for _, t := range []RouteType{RouteTypeManagement, RouteTypeMain} {
		for _, loader := range Loaders(t) {
			if err := loader(r); err != nil {
				return fmt.Errorf("mount routes: %w", err)
			}
		}
	}
	return nil
}
