package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	allowHeaders = []string{"Authorization", "Content-Type", "X-Requested-With", "X-Request-ID", "X-Activation-Code"}
	allowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	// Content-Disposition carries the file name of exports and downloads.
	exposeHeaders = []string{"X-Request-ID", "Content-Disposition"}
)

// Matcher reports whether a browser origin is on the allow list. It returns
// nil when every origin is allowed, either because the list is empty or
// because it contains "*". The live stream upgrader shares it with New.
func Matcher(allowedOrigins []string) func(origin string) bool {
	if len(allowedOrigins) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			return nil
		}
		set[origin] = struct{}{}
	}
	return func(origin string) bool {
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// New returns a CORS middleware for the mobile and admin web clients.
func New(allowedOrigins []string) gin.HandlerFunc {
	allowed := Matcher(allowedOrigins)
	headers := strings.Join(allowHeaders, ", ")
	methods := strings.Join(allowMethods, ", ")
	exposed := strings.Join(exposeHeaders, ", ")

	return func(c *gin.Context) {
		h := c.Writer.Header()
		switch origin := c.GetHeader("Origin"); {
		case origin != "" && (allowed == nil || allowed(origin)):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
		case origin == "" && allowed == nil:
			h.Set("Access-Control-Allow-Origin", "*")
		}
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Headers", headers)
		h.Set("Access-Control-Allow-Methods", methods)
		h.Set("Access-Control-Expose-Headers", exposed)
		h.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
