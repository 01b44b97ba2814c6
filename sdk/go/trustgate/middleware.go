package trustgate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// maxRequestBytes bounds the signed request read by Middleware.
const maxRequestBytes = 1 << 20

type requestKey struct{}

// RequestFrom returns the signed request Middleware admitted, if any.
func RequestFrom(ctx context.Context) (Request, bool) {
	req, ok := ctx.Value(requestKey{}).(Request)
	return req, ok
}

// Middleware returns an http.Handler that expects a JSON signed request as
// the body and decides it before passing to the next handler. The decoded
// request is available through RequestFrom and the body is left readable.
// Refused requests receive a 403 with a JSON body.
func (c *Client) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"allow": false, "reason": "unreadable body"})
			return
		}
		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"allow": false, "reason": "body is not a signed request"})
			return
		}

		d, err := c.Decide(r.Context(), req)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"allow": false, "reason": "internal error"})
			return
		}
		if !d.Allow {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"allow":         false,
				"reason":        d.Reason,
				"used_fallback": d.UsedFallback,
			})
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestKey{}, req)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
