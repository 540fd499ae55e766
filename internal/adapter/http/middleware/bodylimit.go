package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DefaultMaxBodyBytes caps request bodies at 1 MB. Ledger payloads are a
// handful of ids and amounts; anything bigger is noise.
const DefaultMaxBodyBytes int64 = 1 << 20

// MaxBodySize wraps the request body in a MaxBytesReader so oversized
// payloads fail during binding with 413 instead of being buffered whole.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
