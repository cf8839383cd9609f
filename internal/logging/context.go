package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	// Principal context (tenant, scope, role)
	if p := PrincipalFromContext(ctx); p != nil {
		fields = append(fields,
			zap.String("tenant.id", p.TenantID),
			zap.String("tenant.scope", p.Scope),
		)
		if p.Role != "" {
			fields = append(fields, zap.String("tenant.role", p.Role))
		}
	}

	// Request ID
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	// Search ID
	if searchID := SearchIDFromContext(ctx); searchID != "" {
		fields = append(fields, zap.String("search.id", searchID))
	}

	return fields
}

// Context key types
type principalCtxKey struct{}
type requestCtxKey struct{}
type searchCtxKey struct{}

// Principal identifies the security context of a request.
type Principal struct {
	TenantID string
	Scope    string
	Role     string
	UserID   string
}

// Validation constants
const (
	maxPrincipalFieldLen = 64
	maxIDLen             = 128
)

// principalFieldPattern allows alphanumeric, hyphen, underscore.
var principalFieldPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validatePrincipalField validates a principal field (tenant, scope ID).
func validatePrincipalField(field, name string) error {
	if field == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(field) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(field) > maxPrincipalFieldLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxPrincipalFieldLen)
	}
	if !principalFieldPattern.MatchString(field) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// validateID validates a request or search ID.
func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !principalFieldPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// Validate checks the principal's fields. TenantID and Scope are required;
// Role and UserID are optional but must satisfy the same character and
// length constraints when present, since they flow into cache keys.
func (p *Principal) Validate() error {
	if err := validatePrincipalField(p.TenantID, "principal.TenantID"); err != nil {
		return err
	}
	if err := validatePrincipalField(p.Scope, "principal.Scope"); err != nil {
		return err
	}
	if p.Role != "" {
		if err := validatePrincipalField(p.Role, "principal.Role"); err != nil {
			return err
		}
	}
	if p.UserID != "" {
		if err := validatePrincipalField(p.UserID, "principal.UserID"); err != nil {
			return err
		}
	}
	return nil
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalCtxKey{}).(*Principal); ok {
		return p
	}
	return nil
}

// WithPrincipal adds the principal to context.
// Panics if principal is nil or has invalid tenant/scope values.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	if p == nil {
		panic("logging: principal cannot be nil")
	}
	if err := p.Validate(); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context.
// Panics if requestID is empty or contains invalid characters.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := validateID(requestID, "requestID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// SearchIDFromContext extracts search ID from context.
func SearchIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(searchCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithSearchID adds search ID to context.
// Panics if searchID is empty or contains invalid characters.
func WithSearchID(ctx context.Context, searchID string) context.Context {
	if err := validateID(searchID, "searchID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, searchCtxKey{}, searchID)
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
