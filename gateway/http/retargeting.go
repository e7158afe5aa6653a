package http

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/c360/streamfan/consent"
)

// setRetargetingSegment stores the request's segment name in the bounded
// list kept in the retargeting cookie. Repeated hits with the same segment
// leave the cookie untouched; once the limit is exceeded the oldest segment
// falls out. Gated on identification consent like the visitor cookie.
func (g *Gateway) setRetargetingSegment(w http.ResponseWriter, r *http.Request, c consent.Consent) {
	if g.cfg.RetargetingParam == "" || g.cfg.RetargetingCookieName == "" {
		return
	}

	raw := r.URL.Query().Get(g.cfg.RetargetingParam)
	if raw == "" || !c.Identify() {
		return
	}
	segment := g.cleanSegmentName(raw)

	// A corrupt cookie decodes to nil and the list starts over.
	var segments []string
	if cookie, err := r.Cookie(g.cfg.RetargetingCookieName); err == nil {
		segments = decodeSegments(cookie.Value)
	}

	for _, s := range segments {
		if s == segment {
			return
		}
	}
	segments = append(segments, segment)

	limit := g.cfg.RetargetingSegmentLimit
	if limit <= 0 {
		limit = 10
	}
	for len(segments) > limit {
		segments = segments[1:]
	}

	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.RetargetingCookieName,
		Value:    encodeSegments(segments),
		Domain:   g.cfg.CookieDomain,
		Path:     "/",
		Expires:  time.Now().AddDate(1, 0, 0),
		SameSite: http.SameSiteLaxMode,
	})
}

// cleanSegmentName lowercases the segment and strips the configured
// prefixes.
func (g *Gateway) cleanSegmentName(segment string) string {
	segment = strings.ToLower(segment)
	for _, prefix := range g.cfg.RetargetingTrimPrefixes {
		segment = strings.TrimPrefix(segment, prefix)
	}
	return segment
}

// Segments travel as base64-wrapped JSON so the list survives cookie value
// restrictions.
func encodeSegments(segments []string) string {
	data, _ := json.Marshal(segments)
	return base64.URLEncoding.EncodeToString(data)
}

func decodeSegments(value string) []string {
	data, err := base64.URLEncoding.DecodeString(value)
	if err != nil {
		return nil
	}
	var segments []string
	if err := json.Unmarshal(data, &segments); err != nil {
		return nil
	}
	return segments
}
