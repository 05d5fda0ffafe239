// Package headers builds the security response headers attached to every
// non-API route and the middleware that applies them.
package headers

import (
	"net/http"
	"strings"
)

// Header is a single response header.
type Header struct {
	Name  string
	Value string
}

// Directive is one content-security-policy directive, e.g. script-src 'self'.
type Directive struct {
	Name    string
	Sources []string
}

func (d Directive) String() string {
	if len(d.Sources) == 0 {
		return d.Name
	}
	return d.Name + " " + strings.Join(d.Sources, " ")
}

// Rule attaches an ordered header list to the paths matched by Source.
type Rule struct {
	// Source is the route pattern the rule is registered for.
	Source string
	// Exclude lists path prefixes the rule never applies to.
	Exclude    []string
	Directives []Directive
	Headers    []Header
}

const sourceAllPaths = "/:path*"

// Build returns the header rule for all non-API routes. With strict set the
// rule carries a content-security-policy; the referrer policy and the two
// cross-origin isolation headers are always present. Build is pure: equal
// input yields equal output and the result shares no memory with other calls.
func Build(strict bool) Rule {
	var directives []Directive
	if strict {
		directives = strictDirectives()
	} else {
		directives = []Directive{}
	}

	hdrs := make([]Header, 0, 4)
	if len(directives) > 0 {
		hdrs = append(hdrs, Header{Name: "Content-Security-Policy", Value: joinDirectives(directives)})
	}
	hdrs = append(hdrs,
		Header{Name: "Referrer-Policy", Value: "strict-origin-when-cross-origin"},
		Header{Name: "Cross-Origin-Opener-Policy", Value: "same-origin"},
		Header{Name: "Cross-Origin-Embedder-Policy", Value: "require-corp"},
	)

	return Rule{
		Source:     sourceAllPaths,
		Exclude:    []string{"/api/"},
		Directives: directives,
		Headers:    hdrs,
	}
}

func strictDirectives() []Directive {
	return []Directive{
		{Name: "default-src", Sources: []string{"'self'"}},
		{Name: "script-src", Sources: []string{"'self'", "'unsafe-eval'", "'unsafe-inline'"}},
		{Name: "style-src", Sources: []string{"'self'", "'unsafe-inline'"}},
		{Name: "img-src", Sources: []string{"'self'", "blob:", "data:"}},
		{Name: "font-src", Sources: []string{"'self'"}},
		{Name: "connect-src", Sources: []string{"'self'"}},
		{Name: "object-src", Sources: []string{"'none'"}},
		{Name: "base-uri", Sources: []string{"'self'"}},
		{Name: "form-action", Sources: []string{"'self'"}},
		{Name: "frame-ancestors", Sources: []string{"'none'"}},
		{Name: "upgrade-insecure-requests"},
	}
}

func joinDirectives(directives []Directive) string {
	parts := make([]string, len(directives))
	for i, d := range directives {
		parts[i] = d.String()
	}
	return strings.Join(parts, "; ")
}

// Matches reports whether the rule applies to the request path.
func (r Rule) Matches(path string) bool {
	if r.Source != sourceAllPaths {
		return path == r.Source
	}
	for _, prefix := range r.Exclude {
		if path == strings.TrimSuffix(prefix, "/") || strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

// Middleware sets the rule's headers on every matching response.
func Middleware(rule Rule, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rule.Matches(r.URL.Path) {
			h := w.Header()
			for _, hdr := range rule.Headers {
				h.Set(hdr.Name, hdr.Value)
			}
		}
		next.ServeHTTP(w, r)
	})
}
