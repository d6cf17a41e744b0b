package httpgin

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// writeCachedJSON writes a JSON response with a weak ETag and a private
// Cache-Control of maxAge seconds. Lock state is per tenant, so responses
// must never land in shared caches. If If-None-Match matches, returns 304.
func writeCachedJSON(c *gin.Context, status int, v any, maxAge int) {
	b, err := json.Marshal(v)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	sum := sha256.Sum256(b)
	tag := `W/"` + hex.EncodeToString(sum[:]) + `"`

	c.Header("ETag", tag)
	c.Header("Cache-Control", fmt.Sprintf("private, max-age=%d", maxAge))

	if c.GetHeader("If-None-Match") == tag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(status, "application/json; charset=utf-8", b)
}
