package system

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/chat-mirror/internal/registry/route"
)

const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

var state atomic.Int32

// MarkReady signals that the engine is bound and the API is mounted.
func MarkReady() {
	state.Store(stateReady)
}

// MarkDraining flips readiness off while the final flush runs.
func MarkDraining() {
	state.Store(stateDraining)
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 0,
		Type:  registryroute.RouteTypeManagement,
		Loader: func(r *gin.Engine) error {
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})

			r.GET("/ready", func(c *gin.Context) {
				switch state.Load() {
				case stateReady:
					c.JSON(http.StatusOK, gin.H{"status": "ready"})
				case stateDraining:
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "draining"})
				default:
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
				}
			})

			r.GET("/metrics", gin.WrapH(promhttp.Handler()))

			return nil
		},
	})
}
