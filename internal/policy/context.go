package policy

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/fabricgate/internal/models"
)

// Identity is the authenticated caller supplied by the upstream authentication layer.
type Identity struct {
	UserID      string
	CompanyID   string
	CompanyType models.CompanyType
	Roles       []string
}

// RequestMeta carries the request attributes the builder needs. RemoteIP and the
// correlation headers are optional.
type RequestMeta struct {
	Method        string
	Path          string
	CorrelationID string
	RequestID     string
	RemoteIP      string
}

// Context is the canonical evaluation request, constructed once per inbound request
// and discarded when the request completes. It is never persisted as-is.
type Context struct {
	UserID        string
	CompanyID     string
	CompanyType   models.CompanyType
	Endpoint      string
	HTTPMethod    string
	Operation     models.Operation
	Scope         models.Scope
	Roles         []string
	CorrelationID string
	RequestID     string
	RequestIP     string
	Timestamp     time.Time
}

// ErrMissingIdentity is returned when the builder is handed an unauthenticated request.
// Callers must treat this as "unauthenticated" and reject or skip upstream; a partial
// context is never fed into the engine.
var ErrMissingIdentity = errors.New("policy: identity is required to build an evaluation context")

const rolePrefix = "ROLE_"

// BuildContext normalizes an inbound request into an evaluation context.
// Pure function of its inputs aside from timestamp and generated IDs.
func BuildContext(meta RequestMeta, id Identity) (*Context, error) {
	if strings.TrimSpace(id.UserID) == "" || strings.TrimSpace(id.CompanyID) == "" {
		return nil, ErrMissingIdentity
	}

	endpoint := NormalizePath(meta.Path)
	method := strings.ToUpper(strings.TrimSpace(meta.Method))

	correlationID := strings.TrimSpace(meta.CorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	requestID := strings.TrimSpace(meta.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	return &Context{
		UserID:        strings.TrimSpace(id.UserID),
		CompanyID:     strings.TrimSpace(id.CompanyID),
		CompanyType:   id.CompanyType,
		Endpoint:      endpoint,
		HTTPMethod:    method,
		Operation:     deriveOperation(method),
		Scope:         deriveScope(endpoint),
		Roles:         normalizeRoles(id.Roles),
		CorrelationID: correlationID,
		RequestID:     requestID,
		RequestIP:     strings.TrimSpace(meta.RemoteIP),
		Timestamp:     time.Now().UTC(),
	}, nil
}

func deriveOperation(method string) models.Operation {
	switch method {
	case "GET", "HEAD":
		return models.OperationRead
	case "POST", "PUT", "PATCH":
		return models.OperationWrite
	case "DELETE":
		return models.OperationDelete
	default:
		// Unlisted methods are classified as writes so they never widen access.
		return models.OperationWrite
	}
}

func deriveScope(endpoint string) models.Scope {
	switch {
	case strings.Contains(endpoint, "/me") || strings.Contains(endpoint, "/profile"):
		return models.ScopeSelf
	case strings.Contains(endpoint, "/admin") || strings.Contains(endpoint, "/system"):
		return models.ScopeGlobal
	default:
		return models.ScopeCompany
	}
}

func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(role), rolePrefix))
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

// NormalizePath canonicalizes a request path so it can be matched against registry
// endpoint patterns and used as a cache key: the query string and trailing slash are
// dropped, duplicate slashes collapse, and numeric or UUID segments become "{id}".
func NormalizePath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimSpace(path)
	if path == "" || path == "/" {
		return "/"
	}

	segments := strings.Split(path, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if isIdentifierSegment(seg) {
			out = append(out, "{id}")
			continue
		}
		out = append(out, seg)
	}
	return "/" + strings.Join(out, "/")
}

func isIdentifierSegment(seg string) bool {
	if _, err := uuid.Parse(seg); err == nil {
		return true
	}
	for i := 0; i < len(seg); i++ {
		if seg[i] < '0' || seg[i] > '9' {
			return false
		}
	}
	return len(seg) > 0
}
