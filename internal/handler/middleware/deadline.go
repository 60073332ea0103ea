package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/wb-go/wbf/zlog"
)

// StreamWithoutWriteDeadline lifts the server's WriteTimeout for requests to
// the given paths so long-lived event streams are not cut off. It wraps the
// engine itself: the deadline lives on the raw connection writer, which gin
// does not expose to handlers.
func StreamWithoutWriteDeadline(next http.Handler, paths ...string) http.Handler {
	streams := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		streams[p] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := streams[r.URL.Path]; ok {
			err := http.NewResponseController(w).SetWriteDeadline(time.Time{})
			if err != nil && !errors.Is(err, http.ErrNotSupported) {
				zlog.Logger.Warn().Err(err).Str("path", r.URL.Path).Msg("failed to clear write deadline for stream")
			}
		}
		next.ServeHTTP(w, r)
	})
}
