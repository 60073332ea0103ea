package middleware

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"
)

// CORSMiddleware allows the listed origins, or any origin when the list is
// empty. Content-Disposition is exposed so browsers can read the download
// filename.
func CORSMiddleware(allowedOrigins []string) ginext.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return func(c *ginext.Context) {
		header := c.Writer.Header()
		origin := c.GetHeader("Origin")

		switch {
		case len(allowed) == 0:
			header.Set("Access-Control-Allow-Origin", "*")
		case origin != "":
			if _, ok := allowed[origin]; !ok {
				if c.Request.Method == http.MethodOptions {
					c.AbortWithStatus(http.StatusForbidden)
					return
				}
				c.Next()
				return
			}
			header.Set("Access-Control-Allow-Origin", origin)
			header.Add("Vary", "Origin")
		}

		header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, "+RequestIDHeader)
		header.Set("Access-Control-Expose-Headers", "Content-Disposition, "+RequestIDHeader)
		header.Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
