package registry

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certify/internal/certificate/models"
	"certify/pkg/domain"
	dErrors "certify/pkg/domain-errors"
	audit "certify/pkg/platform/audit"
)

// HasRole reports whether principal holds role.
func (r *Registry) HasRole(principal domain.Identity, role models.Role) bool {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.hasRoleLocked(principal, role)
}

// Members lists the principals holding role, sorted.
func (r *Registry) Members(role models.Role) []domain.Identity {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	var out []domain.Identity
	for principal, held := range r.roles {
		if _, ok := held[role]; ok {
			out = append(out, principal)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GrantRole gives principal role. Only a ROOT_ADMIN may call it. Granting a
// role the principal already holds is a no-op.
func (r *Registry) GrantRole(ctx context.Context, caller, principal domain.Identity, role models.Role) (err error) {
	ctx, span := r.tracer.Start(ctx, "registry.GrantRole", trace.WithAttributes(
		attribute.String("caller", caller.String()),
		attribute.String("role", role.String()),
	))
	defer endSpan(span, &err)

	principal, role, err = r.checkRoleChange(ctx, caller, principal, role, "grant")
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.stateMu.Lock()
	if r.hasRoleLocked(principal, role) {
		r.stateMu.Unlock()
		return nil
	}
	r.addRole(principal, role)
	r.stateMu.Unlock()

	r.metrics.IncrementRoleChange(role.String(), "grant")
	r.logAudit(ctx, string(audit.EventRoleGranted),
		"subject", principal.String(),
		"actor_id", caller.String(),
		"decision", role.String(),
	)
	return nil
}

// RevokeRole removes role from principal. Only a ROOT_ADMIN may call it.
// Removing the last ROOT_ADMIN fails with CodeInvariantViolation.
func (r *Registry) RevokeRole(ctx context.Context, caller, principal domain.Identity, role models.Role) (err error) {
	ctx, span := r.tracer.Start(ctx, "registry.RevokeRole", trace.WithAttributes(
		attribute.String("caller", caller.String()),
		attribute.String("role", role.String()),
	))
	defer endSpan(span, &err)

	principal, role, err = r.checkRoleChange(ctx, caller, principal, role, "revoke")
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.stateMu.Lock()
	if !r.hasRoleLocked(principal, role) {
		r.stateMu.Unlock()
		return nil
	}
	if role == models.RoleRootAdmin && r.countLocked(models.RoleRootAdmin) == 1 {
		r.stateMu.Unlock()
		r.logAudit(ctx, string(audit.EventRoleChangeDenied),
			"subject", principal.String(),
			"actor_id", caller.String(),
			"reason", "last root admin",
		)
		return dErrors.New(dErrors.CodeInvariantViolation, "cannot revoke the last root admin")
	}
	delete(r.roles[principal], role)
	if len(r.roles[principal]) == 0 {
		delete(r.roles, principal)
	}
	r.stateMu.Unlock()

	r.metrics.IncrementRoleChange(role.String(), "revoke")
	r.logAudit(ctx, string(audit.EventRoleRevoked),
		"subject", principal.String(),
		"actor_id", caller.String(),
		"decision", role.String(),
	)
	return nil
}

func (r *Registry) checkRoleChange(ctx context.Context, caller, principal domain.Identity, role models.Role, action string) (domain.Identity, models.Role, error) {
	if err := r.requireRole(caller, models.RoleRootAdmin); err != nil {
		r.logAudit(ctx, string(audit.EventRoleChangeDenied),
			"subject", principal.String(),
			"actor_id", caller.String(),
			"reason", action+" requires ROOT_ADMIN",
		)
		return "", "", err
	}
	p, err := domain.ParseIdentity(principal.String())
	if err != nil {
		return "", "", err
	}
	parsed, err := models.ParseRole(role.String())
	if err != nil {
		return "", "", err
	}
	return p, parsed, nil
}

func (r *Registry) requireRole(caller domain.Identity, role models.Role) error {
	if caller.IsNil() {
		return dErrors.New(dErrors.CodeForbidden, "caller identity is required")
	}
	if !r.HasRole(caller, role) {
		return dErrors.New(dErrors.CodeForbidden, "caller does not hold the "+role.String()+" role")
	}
	return nil
}

func (r *Registry) hasRoleLocked(principal domain.Identity, role models.Role) bool {
	held, ok := r.roles[normalizeIdentity(principal)]
	if !ok {
		return false
	}
	_, ok = held[role]
	return ok
}

func (r *Registry) countLocked(role models.Role) int {
	n := 0
	for _, held := range r.roles {
		if _, ok := held[role]; ok {
			n++
		}
	}
	return n
}

func (r *Registry) addRole(principal domain.Identity, role models.Role) {
	principal = normalizeIdentity(principal)
	held, ok := r.roles[principal]
	if !ok {
		held = make(map[models.Role]struct{})
		r.roles[principal] = held
	}
	held[role] = struct{}{}
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
