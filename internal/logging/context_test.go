package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipalRoundTrip(t *testing.T) {
	p := &Principal{TenantID: "acme", Scope: "fleet-1", Role: "tech", UserID: "u1"}
	ctx := WithPrincipal(t.Context(), p)
	assert.Equal(t, p, PrincipalFromContext(ctx))
	assert.Nil(t, PrincipalFromContext(t.Context()))
}

func TestPrincipal_Validate(t *testing.T) {
	tests := []struct {
		name      string
		principal Principal
		wantErr   bool
	}{
		{name: "valid", principal: Principal{TenantID: "acme", Scope: "fleet-1"}},
		{name: "missing tenant", principal: Principal{Scope: "fleet-1"}, wantErr: true},
		{name: "missing scope", principal: Principal{TenantID: "acme"}, wantErr: true},
		{name: "forbidden characters", principal: Principal{TenantID: "acme corp;", Scope: "fleet-1"}, wantErr: true},
		{name: "too long", principal: Principal{TenantID: string(make([]byte, 65)), Scope: "fleet-1"}, wantErr: true},
		{name: "optional role and user", principal: Principal{TenantID: "acme", Scope: "fleet-1", Role: "tech", UserID: "u1"}},
		{name: "role with separator", principal: Principal{TenantID: "acme", Scope: "fleet-1", Role: "tech|admin"}, wantErr: true},
		{name: "user with separator", principal: Principal{TenantID: "acme", Scope: "fleet-1", UserID: "u|1"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.principal.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWithPrincipal_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { WithPrincipal(t.Context(), nil) })
	assert.Panics(t, func() { WithPrincipal(t.Context(), &Principal{TenantID: "a b", Scope: "s"}) })
}

func TestRequestAndSearchIDs(t *testing.T) {
	ctx := WithRequestID(t.Context(), "req-1")
	ctx = WithSearchID(ctx, "search-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "search-1", SearchIDFromContext(ctx))

	assert.Panics(t, func() { WithRequestID(t.Context(), "") })
	assert.Panics(t, func() { WithSearchID(t.Context(), "bad id!") })
}

func TestContextFields(t *testing.T) {
	ctx := WithPrincipal(t.Context(), &Principal{TenantID: "acme", Scope: "fleet-1", Role: "tech"})
	ctx = WithSearchID(ctx, "s-1")

	fields := ContextFields(ctx)
	names := make(map[string]bool, len(fields))
	for _, f := range fields {
		names[f.Key] = true
	}
	require.True(t, names["tenant.id"])
	assert.True(t, names["tenant.scope"])
	assert.True(t, names["tenant.role"])
	assert.True(t, names["search.id"])
	assert.False(t, names["trace_id"], "no span in context")
}
