package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/c360/streamfan/consent"
	"github.com/c360/streamfan/message"
	"github.com/c360/streamfan/pkg/ipmask"
)

// pixelGIF is a transparent 1x1 GIF served by the pixel endpoint.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// jsIdentifier restricts the caller-supplied variable and key names in
// the uuid endpoint's script output.
var jsIdentifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// handlePixel tracks the request and answers with a transparent GIF. The
// pixel is also the collection point for retargeting segments.
func (g *Gateway) handlePixel(w http.ResponseWriter, r *http.Request) {
	c := g.consentFrom(r)
	g.track(w, r, c)
	g.setRetargetingSegment(w, r, c)

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(pixelGIF)
}

// handleEvents tracks the request, including its JSON body, and
// answers with the visitor id.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	c := g.consentFrom(r)
	visitor := g.track(w, r, c)

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, visitor)
}

// handleUUID answers with a script snippet exposing the visitor id:
//
//	var sfObj = {"visitor": "c2762114-66f2-4513-b377-82a7f646057f"};
//
// The variable and key names come from the vn and kn parameters. The
// request is only tracked when the tr parameter is set.
func (g *Gateway) handleUUID(w http.ResponseWriter, r *http.Request) {
	c := g.consentFrom(r)

	var visitor string
	if r.URL.Query().Get("tr") != "" {
		visitor = g.track(w, r, c)
	} else {
		visitor = g.assignVisitor(w, r, c)
	}

	varName := r.URL.Query().Get("vn")
	if !jsIdentifier.MatchString(varName) {
		varName = "sfObj"
	}
	keyName := r.URL.Query().Get("kn")
	if !jsIdentifier.MatchString(keyName) {
		keyName = "visitor"
	}

	w.Header().Set("Content-Type", "application/javascript")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "var %s = {%q: %q};", varName, keyName, visitor)
}

// track builds the message for one request and dispatches it to the
// destinations selected by the routing parameter. Returns the visitor
// id for the response body.
func (g *Gateway) track(w http.ResponseWriter, r *http.Request, c consent.Consent) string {
	if !c.TrackAnonymous() {
		return ""
	}

	visitor := g.assignVisitor(w, r, c)
	msg := g.buildMessage(r, c, visitor)

	selector := r.URL.Query().Get(g.cfg.SelectorParam)
	g.dispatcher.Dispatch(msg, selector)
	return visitor
}

// assignVisitor resolves the visitor id for the request: the query
// parameter wins, then the existing cookie, and finally a fresh id is
// minted and set — consent permitting. Visitors that may not be
// identified get the opt-out sentinel.
func (g *Gateway) assignVisitor(w http.ResponseWriter, r *http.Request, c consent.Consent) string {
	if !c.Identify() {
		return consent.OptOutValue
	}

	if v := r.URL.Query().Get(g.cfg.CookieName); v != "" {
		return v
	}
	if cookie, err := r.Cookie(g.cfg.CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if !c.Cookies() {
		return consent.OptOutValue
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    id,
		Domain:   g.cfg.CookieDomain,
		Path:     "/",
		Expires:  time.Now().AddDate(1, 0, 0),
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// buildMessage assembles the event payload from the request, applying
// the consent gates to cookies and IP forms.
func (g *Gateway) buildMessage(r *http.Request, c consent.Consent, visitor string) message.Message {
	var cookieNames []string
	if c.Cookies() {
		for _, ck := range r.Cookies() {
			cookieNames = append(cookieNames, ck.Name)
		}
	}

	params := make(map[string]any, len(r.URL.Query()))
	for key, values := range r.URL.Query() {
		if len(values) == 1 {
			params[key] = values[0]
		} else {
			params[key] = values
		}
	}

	// The pre-migration visitor cookie is reported verbatim for identity
	// joins, only while identification is permitted.
	legacy := consent.OptOutValue
	if c.Identify() {
		legacy = ""
		if ck, err := r.Cookie(g.cfg.LegacyCookieName); err == nil {
			legacy = ck.Value
		}
	}

	collision, peppered, geo := g.clientIPForms(r, c)

	msg := message.Message{
		"user_uuid":       visitor,
		"cookies":         cookieNames,
		"legacy_cookie":   legacy,
		"query_parameter": params,
		"user_agent":      r.UserAgent(),
		"request_url":     requestURL(r),
		"referrer":        r.Referer(),
		"ip_hashed":       collision,
		"ip_unique_hash":  peppered,
		"ip_geo":          geo,
		"custom_data":     g.customData(r),
		"consent":         c.Summary(),
	}
	return msg
}

// clientIPForms applies the consent-gated obfuscation forms to the
// client address.
func (g *Gateway) clientIPForms(r *http.Request, c consent.Consent) (collision, peppered, geo string) {
	if !c.TrackIPHashed() {
		return consent.OptOutValue, consent.OptOutValue, consent.OptOutValue
	}

	collision, peppered, geo = ipmask.Obfuscate(clientIP(r), g.ipToken)
	if !c.TrackIPClear() {
		peppered = consent.OptOutValue
		geo = consent.OptOutValue
	}
	return collision, peppered, geo
}

// customData reads a JSON request body, falling back to the raw text
// when it does not parse. Returns nil for empty or oversized bodies.
func (g *Gateway) customData(r *http.Request) any {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	defer r.Body.Close()

	limit := g.cfg.MaxRequestSize
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil || int64(len(body)) > limit {
		g.logger.Warn("discarding request body", "bytes", len(body), "error", err)
		return nil
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return string(body)
	}
	return parsed
}

// requestURL reconstructs the request target without its query string.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}
