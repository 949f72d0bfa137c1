package netagent

import (
	"context"
	"strings"
)

type scopeContextKey struct{}

// Scope is an execution-context-scoped set of allowed device addresses.
// It is a subtractive filter: a batch may only narrow, never widen, its
// caller-specified device list. Carrying it on the context keeps concurrent
// batches from leaking restrictions into each other.
type Scope struct {
	allowed map[string]struct{}
}

// NewScope normalizes addrs into a Scope. Blank and duplicate addresses are
// dropped. An empty address list yields a scope that allows nothing.
func NewScope(addrs []string) *Scope {
	allowed := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		trimmed := strings.TrimSpace(addr)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}
	return &Scope{allowed: allowed}
}

// Allows reports whether addr is inside the scope.
func (s *Scope) Allows(addr string) bool {
	if s == nil {
		return true
	}
	_, ok := s.allowed[strings.TrimSpace(addr)]
	return ok
}

// WithScope returns a context carrying a restriction to addrs.
func WithScope(ctx context.Context, addrs []string) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, NewScope(addrs))
}

// ScopeFrom extracts the active scope restriction, if any.
func ScopeFrom(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey{}).(*Scope)
	return scope, ok && scope != nil
}
