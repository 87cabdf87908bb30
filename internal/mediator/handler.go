// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mediator

import (
	"io"
	"net/http"

	"github.com/ManuGH/voxsync/internal/log"
)

// forwarded request headers that influence caching or fallback.
var forwardHeaders = []string{"Accept", "Accept-Language", "Sec-Fetch-Mode", "Sec-Fetch-Dest", "User-Agent"}

// skipped response headers; the body is re-framed locally.
var hopHeaders = map[string]struct{}{
	"Connection":        {},
	"Content-Length":    {},
	"Transfer-Encoding": {},
	"Keep-Alive":        {},
}

// Handler serves the application shell through the mediator.
func (m *Mediator) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := m.origin.String() + r.URL.EscapedPath()
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		out, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		for _, h := range forwardHeaders {
			if v := r.Header.Get(h); v != "" {
				out.Header.Set(h, v)
			}
		}

		resp, err := m.RoundTrip(out)
		if err != nil {
			m.logger.Warn().Err(err).Str(log.FieldPath, r.URL.Path).Msg("shell request failed")
			http.Error(w, "origin unavailable", http.StatusBadGateway)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		for k, vs := range resp.Header {
			if _, skip := hopHeaders[http.CanonicalHeaderKey(k)]; skip {
				continue
			}
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.Header().Set("X-Shell-Version", m.Version())
		w.WriteHeader(resp.StatusCode)
		if r.Method != http.MethodHead {
			_, _ = io.Copy(w, resp.Body)
		}
	})
}
