package adt

import (
	"net/http"
	"strings"
)

// cookieJar accumulates Set-Cookie response headers into a name->value map
// and renders them back into a single Cookie header. Insertion order is
// preserved so the rendered header is stable across requests; a repeated
// Set-Cookie for a known name overwrites the value in place (last write
// wins). The jar is not safe for concurrent use on its own; the session
// container serializes access.
type cookieJar struct {
	order  []string
	values map[string]string
}

func newCookieJar() *cookieJar {
	return &cookieJar{values: make(map[string]string)}
}

// ingest parses every Set-Cookie entry in the response headers and upserts
// it into the jar. Safe to call on error responses too: SAP often sends
// session-establishing cookies alongside a failure status.
func (j *cookieJar) ingest(headers http.Header) {
	for _, raw := range headers.Values("Set-Cookie") {
		// Only the name=value part before the first ';' matters; attributes
		// (Path, Secure, HttpOnly, ...) are dropped.
		pair := raw
		if i := strings.Index(pair, ";"); i >= 0 {
			pair = pair[:i]
		}
		eq := strings.Index(pair, "=")
		if eq < 0 {
			continue
		}
		name := strings.TrimSpace(pair[:eq])
		value := strings.TrimSpace(pair[eq+1:])
		if name == "" {
			continue
		}
		j.set(name, value)
	}
}

// set upserts a single cookie, keeping the original insertion position for
// known names.
func (j *cookieJar) set(name, value string) {
	if _, known := j.values[name]; !known {
		j.order = append(j.order, name)
	}
	j.values[name] = value
}

// render joins the jar into one Cookie header value, "" when empty.
func (j *cookieJar) render() string {
	if len(j.order) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(j.order))
	for _, name := range j.order {
		pairs = append(pairs, name+"="+j.values[name])
	}
	return strings.Join(pairs, "; ")
}

// restore replaces the jar contents from a previously rendered Cookie header
// value, preserving its pair order.
func (j *cookieJar) restore(rendered string) {
	j.clear()
	for _, pair := range strings.Split(rendered, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		eq := strings.Index(pair, "=")
		if eq < 0 {
			continue
		}
		name := strings.TrimSpace(pair[:eq])
		if name == "" {
			continue
		}
		j.set(name, strings.TrimSpace(pair[eq+1:]))
	}
}

// snapshot copies the jar into a plain map.
func (j *cookieJar) snapshot() map[string]string {
	m := make(map[string]string, len(j.values))
	for name, value := range j.values {
		m[name] = value
	}
	return m
}

// names returns the cookie names in insertion order.
func (j *cookieJar) names() []string {
	out := make([]string, len(j.order))
	copy(out, j.order)
	return out
}

func (j *cookieJar) clear() {
	j.order = nil
	j.values = make(map[string]string)
}

func (j *cookieJar) len() int {
	return len(j.order)
}
