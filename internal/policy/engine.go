package policy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/loomworks/fabricgate/internal/models"
	"github.com/loomworks/fabricgate/pkg/metrics"
)

// AuditRecorder receives every decision for asynchronous persistence. Implementations
// must never block the evaluation path or surface errors into it.
type AuditRecorder interface {
	Record(evalCtx *Context, decision Decision, latency time.Duration)
}

// Engine is the policy decision point. It is stateless and reentrant: evaluation runs
// on the request's goroutine with no engine-level locking.
type Engine struct {
	cache *Cache
	audit AuditRecorder
	log   *zap.Logger
}

// NewEngine constructs the evaluation engine. The audit recorder may be nil, in which
// case decisions are not recorded (tests only).
func NewEngine(cache *Cache, audit AuditRecorder, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cache: cache, audit: audit, log: log}
}

// Evaluate decides whether the caller may perform the operation described by the
// context. It never returns an error and never panics: any fault while computing the
// decision resolves to DENY with reason "evaluation_error" (fail-closed). Every call
// produces exactly one audit record.
func (e *Engine) Evaluate(ctx context.Context, evalCtx *Context) (decision Decision) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic during policy evaluation",
				zap.Any("panic", r),
				zap.String("endpoint", evalCtx.Endpoint),
				zap.String("correlation_id", evalCtx.CorrelationID),
			)
			decision = e.deny(evalCtx, ReasonEvaluationError, "")
		}

		latency := time.Since(start)
		metrics.PolicyDecisions.WithLabelValues(string(decision.Effect), decision.Reason).Inc()
		metrics.EvaluationLatency.Observe(latency.Seconds())
		if e.audit != nil {
			e.audit.Record(evalCtx, decision, latency)
		}
	}()

	decision = e.evaluate(ctx, evalCtx)
	return decision
}

// evaluate applies the layered precedence. Each step short-circuits on match; the
// ordering is the core correctness property of the subsystem.
func (e *Engine) evaluate(ctx context.Context, evalCtx *Context) Decision {
	// The registry entry is fetched up front: it stamps the policy version on every
	// decision and may override the path-derived scope. Precedence is unchanged —
	// user permissions are still consulted first.
	entry, err := e.cache.RegistryEntry(ctx, evalCtx.Endpoint, evalCtx.Operation)
	if err != nil {
		e.log.Error("registry lookup failed",
			zap.String("endpoint", evalCtx.Endpoint),
			zap.Error(err),
		)
		return e.deny(evalCtx, ReasonEvaluationError, "")
	}

	version := ""
	requestedScope := evalCtx.Scope
	if entry != nil {
		version = entry.Version
		if entry.Scope.Valid() {
			requestedScope = entry.Scope
		}
	}

	perms, err := e.cache.UserPermissions(ctx, evalCtx.UserID, evalCtx.CompanyID)
	if err != nil {
		e.log.Error("permission lookup failed",
			zap.String("user_id", evalCtx.UserID),
			zap.Error(err),
		)
		return e.deny(evalCtx, ReasonEvaluationError, version)
	}

	// Validity is recomputed against the wall clock on every evaluation; a cached
	// row whose window has lapsed is ignored no matter what its status column says.
	now := time.Now().UTC()
	allowFound := false
	for i := range perms {
		perm := &perms[i]
		if !perm.IsActive(now) || !perm.Matches(evalCtx.Endpoint, evalCtx.Operation, requestedScope) {
			continue
		}
		// Step 1: an explicit DENY always wins, even over a matching ALLOW.
		if perm.PermissionType == models.PermissionDeny {
			return e.deny(evalCtx, ReasonUserExplicitDeny, version)
		}
		allowFound = true
	}

	// Step 2: explicit user ALLOW.
	if allowFound {
		return e.allow(evalCtx, ReasonUserExplicitAllow, version)
	}

	// Step 3: unknown endpoints are never implicitly allowed.
	if entry == nil {
		return e.deny(evalCtx, ReasonUnregisteredEndpoint, "")
	}

	// Step 4: privileged endpoints demand an explicit grant; roles are insufficient.
	if entry.RequiresGrant {
		return e.deny(evalCtx, ReasonRequiresGrantMissing, version)
	}

	// Step 5: tenant-kind restriction.
	if !entry.AllowsCompanyType(evalCtx.CompanyType) {
		return e.deny(evalCtx, ReasonCompanyTypeNotAllowed, version)
	}

	// Step 6: role defaults.
	if len(entry.DefaultRoles) > 0 {
		if entry.HasDefaultRole(evalCtx.Roles) {
			return e.allow(evalCtx, ReasonRoleDefaultAccess, version)
		}
		return e.deny(evalCtx, ReasonRoleNotPermitted, version)
	}

	// Step 7: active entry with no role restriction declared.
	return e.allow(evalCtx, ReasonPlatformDefaultAllow, version)
}

func (e *Engine) allow(evalCtx *Context, reason, version string) Decision {
	return Decision{
		Effect:        EffectAllow,
		Reason:        reason,
		PolicyVersion: version,
		CorrelationID: evalCtx.CorrelationID,
	}
}

func (e *Engine) deny(evalCtx *Context, reason, version string) Decision {
	return Decision{
		Effect:        EffectDeny,
		Reason:        reason,
		PolicyVersion: version,
		CorrelationID: evalCtx.CorrelationID,
	}
}
