package signal

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// OriginChecker admits same-host origins and those listed in allowed (full
// origins or bare hosts). Requests without an Origin header are refused.
func OriginChecker(allowed []string) func(*http.Request) bool {
	hosts := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if u, err := url.Parse(a); err == nil && u.Host != "" {
			hosts[strings.ToLower(u.Host)] = struct{}{}
			continue
		}
		hosts[strings.ToLower(a)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			log.Warn().Str("module", "signal").Msg("ws rejected: missing origin")
			return false
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			log.Warn().Str("module", "signal").Str("origin", origin).Msg("ws rejected: invalid origin")
			return false
		}
		host := strings.ToLower(u.Host)
		if host == strings.ToLower(r.Host) {
			return true
		}
		if _, ok := hosts[host]; ok {
			return true
		}
		log.Warn().Str("module", "signal").Str("origin", origin).Str("host", r.Host).Msg("ws rejected: origin not allowed")
		return false
	}
}
