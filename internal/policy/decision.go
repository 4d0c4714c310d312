package policy

// Effect is the outcome of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// Decision reasons name the rule that fired. They are surfaced in 403 bodies and
// recorded in the audit trail.
const (
	ReasonUserExplicitDeny      = "user_explicit_deny"
	ReasonUserExplicitAllow     = "user_explicit_allow"
	ReasonUnregisteredEndpoint  = "unregistered_endpoint_default_deny"
	ReasonRequiresGrantMissing  = "requires_grant_missing"
	ReasonCompanyTypeNotAllowed = "company_type_not_allowed"
	ReasonRoleDefaultAccess     = "role_default_access"
	ReasonRoleNotPermitted      = "role_not_permitted"
	ReasonPlatformDefaultAllow  = "platform_default_allow"
	ReasonEvaluationError       = "evaluation_error"
)

// Decision is the ephemeral result returned from the engine. It is never persisted
// directly; the audit service stores a summarized record.
type Decision struct {
	Effect        Effect `json:"decision"`
	Reason        string `json:"reason"`
	PolicyVersion string `json:"policy_version,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Allowed reports whether the decision permits the request.
func (d Decision) Allowed() bool {
	return d.Effect == EffectAllow
}
