package log

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"
)

// sensitiveKeys contains attribute keys whose values are always masked.
// Keys are compared lowercased. The search and LLM credentials travel as
// "key" and "api_key", so both are listed.
var sensitiveKeys = map[string]bool{
	// HTTP headers
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"proxy-authorization": true,

	// API credentials
	"key":          true,
	"api_key":      true,
	"apikey":       true,
	"api-key":      true,
	"llm_api_key":  true,
	"fofa_key":     true,
	"access_token": true,
	"secret":       true,
	"token":        true,
	"password":     true,

	// Credentials
	"credential":  true,
	"credentials": true,
	"auth":        true,
}

// sensitiveQueryParams are URL query parameters masked inside URL-valued
// attributes. The FOFA API takes its key as a query parameter, so a logged
// request URL or transport error would otherwise carry it.
var sensitiveQueryParams = []string{"key", "api_key", "apikey", "token", "access_token"}

// sensitivePatterns contains regex patterns that indicate sensitive values.
// A value matching one of them is masked whatever its key.
var sensitivePatterns = []*regexp.Regexp{
	// JWT tokens
	regexp.MustCompile(`^eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*$`),

	// Bearer tokens
	regexp.MustCompile(`(?i)^bearer\s+.+`),

	// OpenAI-style secret keys (DeepSeek uses the same format)
	regexp.MustCompile(`^sk-[A-Za-z0-9_-]{16,}$`),
}

// MaskValue is the string used to replace sensitive values.
const MaskValue = "***REDACTED***"

// SecureHandler wraps an slog.Handler and masks credentials before the
// record reaches the underlying handler. It rewrites the message, every
// attribute and every attribute added through WithAttrs.
//
// Design decision: masking lives in a handler wrapper rather than at the
// call sites. Every package logs through slog.Default() or an injected
// *slog.Logger, so one wrapper installed by Setup covers the fetcher, the
// search client and the LLM client alike, for text and JSON output.
type SecureHandler struct {
	// handler is the underlying slog handler that receives sanitized records.
	handler slog.Handler
}

// NewSecureHandler creates a new SecureHandler wrapping the given handler.
// If handler is nil, slog.Default().Handler() is used.
func NewSecureHandler(handler slog.Handler) *SecureHandler {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &SecureHandler{handler: handler}
}

// Enabled reports whether the handler handles records at the given level.
// It delegates to the underlying handler.
func (h *SecureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle sanitizes the record's message and attributes and passes a new
// record to the underlying handler. The original record is left untouched.
func (h *SecureHandler) Handle(ctx context.Context, r slog.Record) error {
	sanitized := slog.NewRecord(r.Time, r.Level, h.sanitizeString(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		sanitized.AddAttrs(h.sanitizeAttr(a))
		return true
	})
	return h.handler.Handle(ctx, sanitized)
}

// WithAttrs returns a new handler with the given attributes sanitized and added.
func (h *SecureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	sanitizedAttrs := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		sanitizedAttrs[i] = h.sanitizeAttr(a)
	}
	return &SecureHandler{handler: h.handler.WithAttrs(sanitizedAttrs)}
}

// WithGroup returns a new handler with the given group name.
func (h *SecureHandler) WithGroup(name string) slog.Handler {
	return &SecureHandler{handler: h.handler.WithGroup(name)}
}

// sanitizeAttr sanitizes a single attribute, recursively handling groups.
// LogValuer values are resolved first so a lazily built value is checked too.
func (h *SecureHandler) sanitizeAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		sanitizedAttrs := make([]slog.Attr, len(attrs))
		for i, groupAttr := range attrs {
			sanitizedAttrs[i] = h.sanitizeAttr(groupAttr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(sanitizedAttrs...)}
	}

	keyLower := strings.ToLower(a.Key)
	if sensitiveKeys[keyLower] || containsSensitiveKeyword(keyLower) {
		return slog.String(a.Key, MaskValue)
	}

	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.sanitizeString(a.Value.String()))
	case slog.KindAny:
		// Errors from net/http embed the request URL, API key included.
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, h.sanitizeString(err.Error()))
		}
	}
	return a
}

// sanitizeString masks a whole value that looks like a secret, or only the
// credential query parameters of URLs embedded in it.
func (h *SecureHandler) sanitizeString(s string) string {
	if isSensitiveValue(s) {
		return MaskValue
	}
	if !strings.Contains(s, "=") {
		return s
	}
	return redactQueryParams(s)
}

// queryParamPattern matches name=value pairs in a URL query string.
var queryParamPattern = regexp.MustCompile(`([?&])([A-Za-z_]+)=([^&\s"]*)`)

// redactQueryParams masks the values of sensitive query parameters.
func redactQueryParams(s string) string {
	return queryParamPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := queryParamPattern.FindStringSubmatch(m)
		name := strings.ToLower(sub[2])
		for _, p := range sensitiveQueryParams {
			if name == p {
				return sub[1] + sub[2] + "=" + MaskValue
			}
		}
		return m
	})
}

// containsSensitiveKeyword checks if the key contains sensitive keywords.
// The bare "key" keyword is excluded because it matches harmless keys such
// as "host_key" or "keyword"; exact "key" is handled by sensitiveKeys.
func containsSensitiveKeyword(key string) bool {
	sensitiveKeywords := []string{
		"password", "passwd", "secret", "token", "auth", "credential", "api_key", "apikey",
	}

	for _, keyword := range sensitiveKeywords {
		if strings.Contains(key, keyword) {
			return true
		}
	}
	return false
}

// isSensitiveValue checks if a value matches sensitive patterns.
func isSensitiveValue(value string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

// NewSecureLogger creates a text slog.Logger with secure handling.
// verbose selects Debug, otherwise Warn.
func NewSecureLogger(w io.Writer, verbose bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelFor(verbose)}
	return slog.New(NewSecureHandler(slog.NewTextHandler(w, opts)))
}

// NewSecureJSONLogger creates a JSON slog.Logger with secure handling.
func NewSecureJSONLogger(w io.Writer, verbose bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelFor(verbose)}
	return slog.New(NewSecureHandler(slog.NewJSONHandler(w, opts)))
}

func levelFor(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}
