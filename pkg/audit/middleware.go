package audit

import (
	"context"
	"net/http"

	"github.com/shinamagazin/shina-audit/pkg/contextkeys"
	"github.com/shinamagazin/shina-audit/pkg/httputil"
)

// RequestContextMiddleware captures the client IP, user agent and request ID
// once per request so the hook and recorder never read the request itself
func RequestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := RequestMeta{
			IPAddress: httputil.ClientIP(r),
			UserAgent: r.UserAgent(),
			RequestID: contextkeys.GetRequestID(r.Context()),
		}
		next.ServeHTTP(w, r.WithContext(WithRequestMeta(r.Context(), meta)))
	})
}

// WithRequestMeta attaches request metadata for calls made outside an HTTP
// request, such as imports run from a worker
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return contextkeys.WithRequestMeta(ctx, meta)
}
