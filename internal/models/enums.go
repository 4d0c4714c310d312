package models

// Operation classifies an endpoint access by intent, derived from the HTTP method.
type Operation string

const (
	OperationRead   Operation = "READ"
	OperationWrite  Operation = "WRITE"
	OperationDelete Operation = "DELETE"
)

// Scope describes the breadth of data an operation touches. SELF < COMPANY < GLOBAL.
type Scope string

const (
	ScopeSelf    Scope = "SELF"
	ScopeCompany Scope = "COMPANY"
	ScopeGlobal  Scope = "GLOBAL"
)

var scopeRank = map[Scope]int{
	ScopeSelf:    1,
	ScopeCompany: 2,
	ScopeGlobal:  3,
}

// Covers reports whether s satisfies a request needing the given scope.
// A scope matches exact-or-wider; a narrower scope never satisfies a wider request.
// Unknown scopes rank zero and therefore cover nothing.
func (s Scope) Covers(requested Scope) bool {
	return scopeRank[s] >= scopeRank[requested] && scopeRank[s] > 0
}

// Valid reports whether the scope is one of the declared values.
func (s Scope) Valid() bool {
	_, ok := scopeRank[s]
	return ok
}

// CompanyType identifies the kind of tenant a user belongs to.
type CompanyType string

const (
	CompanyInternal      CompanyType = "INTERNAL"
	CompanyCustomer      CompanyType = "CUSTOMER"
	CompanySupplier      CompanyType = "SUPPLIER"
	CompanySubcontractor CompanyType = "SUBCONTRACTOR"
)

// Valid reports whether the company type is one of the declared values.
func (t CompanyType) Valid() bool {
	switch t {
	case CompanyInternal, CompanyCustomer, CompanySupplier, CompanySubcontractor:
		return true
	}
	return false
}

// PermissionType distinguishes explicit grants from explicit denials.
type PermissionType string

const (
	PermissionAllow PermissionType = "ALLOW"
	PermissionDeny  PermissionType = "DENY"
)

// PermissionStatus tracks the administrative state of a user permission.
type PermissionStatus string

const (
	PermissionActive  PermissionStatus = "ACTIVE"
	PermissionExpired PermissionStatus = "EXPIRED"
	PermissionRevoked PermissionStatus = "REVOKED"
)
