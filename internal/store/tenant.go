package store

import (
	"context"
	"fmt"
)

// Metadata keys used for payload isolation.
const (
	MetaTenantID = "tenant_id"
	MetaScopeID  = "scope_id"
)

// TenantInfo is the security context a store query runs under.
type TenantInfo struct {
	TenantID string
	ScopeID  string
}

// Validate checks the tenant info is usable for filtering.
func (t *TenantInfo) Validate() error {
	if t == nil || t.TenantID == "" {
		return ErrMissingTenant
	}
	if t.ScopeID == "" {
		return fmt.Errorf("%w: scope id required", ErrMissingTenant)
	}
	return nil
}

// Filter returns the metadata filter enforcing this tenant's visibility.
func (t *TenantInfo) Filter() map[string]any {
	return map[string]any{
		MetaTenantID: t.TenantID,
		MetaScopeID:  t.ScopeID,
	}
}

type tenantCtxKey struct{}

// ContextWithTenant attaches tenant scoping to the context. Every store
// query requires it; missing tenant context fails closed.
func ContextWithTenant(ctx context.Context, info *TenantInfo) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, info)
}

// TenantFromContext extracts and validates tenant scoping.
func TenantFromContext(ctx context.Context) (*TenantInfo, error) {
	info, ok := ctx.Value(tenantCtxKey{}).(*TenantInfo)
	if !ok || info == nil {
		return nil, ErrMissingTenant
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	return info, nil
}

// InjectMetadata stamps tenant metadata onto documents before storage.
// Existing tenant keys are overwritten: the caller's context is the only
// source of truth for ownership.
func InjectMetadata(ctx context.Context, docs []Document) error {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return err
	}
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = make(map[string]any, 2)
		}
		docs[i].Metadata[MetaTenantID] = tenant.TenantID
		docs[i].Metadata[MetaScopeID] = tenant.ScopeID
	}
	return nil
}

// VerifyOwnership checks a returned document against the querying tenant.
// A mismatch is an isolation violation and must abort the request.
func VerifyOwnership(ctx context.Context, doc Document) error {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return err
	}
	got, _ := doc.Metadata[MetaTenantID].(string)
	if got != tenant.TenantID {
		return fmt.Errorf("%w: document %s owned by %q, queried by %q",
			ErrIsolationViolation, doc.ID, got, tenant.TenantID)
	}
	return nil
}

// matchesTenant reports whether a document belongs to the tenant.
func matchesTenant(doc Document, tenant *TenantInfo) bool {
	gotTenant, _ := doc.Metadata[MetaTenantID].(string)
	gotScope, _ := doc.Metadata[MetaScopeID].(string)
	return gotTenant == tenant.TenantID && gotScope == tenant.ScopeID
}
