package middleware

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware handles cross-origin requests from the tracking snippet
// and the dashboard frontend. The tracking pixel is embedded on arbitrary
// sites, so /track must answer any origin; credentials only matter for the
// dashboard, whose origin comes from FE_ORIGIN.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := "*"
		if feOrigin := os.Getenv("FE_ORIGIN"); feOrigin != "" {
			origin = feOrigin
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
