package routes

import (
	"github.com/Hmzcck/ECommerceEventTracker/controllers"
	"github.com/gin-gonic/gin"
)

// NewEngine returns a bare engine that only believes forwarding headers
// (X-Forwarded-For, X-Real-IP) from the given proxy addresses or CIDRs. With
// none, the client address is always the connection's remote address.
func NewEngine(trustedProxies []string) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		return nil, err
	}
	return r, nil
}

// RegisterEventRoutes sets up the ingestion routes.
func RegisterEventRoutes(r *gin.Engine, ec *controllers.EventController) {
	events := r.Group("/events")

	events.POST("/track", ec.Track)
	events.POST("/track-batch", ec.TrackBatch)

	// Refused by the service outside development
	events.POST("/generate-test-data", ec.GenerateTestData)
}
