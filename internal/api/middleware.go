// SPDX-License-Identifier: MIT

package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/ManuGH/voxsync/internal/auth"
	"github.com/ManuGH/voxsync/internal/log"
)

func parseTrustedProxies(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, part := range entries {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		if _, ipnet, err := net.ParseCIDR(p); err == nil {
			nets = append(nets, ipnet)
			continue
		}
		if ip := net.ParseIP(p); ip != nil {
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
		}
	}
	return nets
}

func (s *Server) remoteIsTrusted(remote string) bool {
	if len(s.trusted) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range s.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP determines the originating IP address. Forwarding headers are
// honored only when the direct peer is a trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	if s.remoteIsTrusted(r.RemoteAddr) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xr := r.Header.Get("X-Real-IP"); xr != "" {
			return xr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) rateLimitKey(r *http.Request) (string, error) {
	return s.clientIP(r), nil
}

// requireToken enforces the operator token when one is configured. Without
// a token the daemon is a single-user local service and stays open.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.token()
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		if auth.AuthorizeRequest(r, token) {
			next.ServeHTTP(w, r)
			return
		}

		event := "auth.invalid_token"
		if auth.ExtractToken(r) == "" {
			event = "auth.missing_token"
		}
		logger := log.WithComponentFromContext(r.Context(), "auth")
		logger.Warn().
			Str(log.FieldEvent, event).
			Str("remote_addr", s.clientIP(r)).
			Str(log.FieldPath, r.URL.Path).
			Msg("api token rejected")
		writeUnauthorized(w)
	})
}
