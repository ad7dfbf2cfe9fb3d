package auth

import "time"

// PermissionCode names one capability granted to a user's role
type PermissionCode string

const (
	PermissionSettingsView  PermissionCode = "SETTINGS_VIEW"
	PermissionReportsExport PermissionCode = "REPORTS_EXPORT"

	// PermissionAuditWrite lets other services submit change events
	PermissionAuditWrite PermissionCode = "AUDIT_WRITE"
)

// Principal is the authenticated caller of a request
type Principal struct {
	UserID      int64            `json:"userId"`
	Username    string           `json:"username"`
	Permissions []PermissionCode `json:"permissions"`
}

// ActorID returns the user recorded as the author of changes
func (p *Principal) ActorID() (int64, bool) {
	if p == nil || p.UserID == 0 {
		return 0, false
	}
	return p.UserID, true
}

// HasPermission reports whether the principal was granted code
func (p *Principal) HasPermission(code PermissionCode) bool {
	if p == nil {
		return false
	}
	for _, granted := range p.Permissions {
		if granted == code {
			return true
		}
	}
	return false
}

// APIToken is a stored bearer token. Only the SHA-256 hash is persisted.
type APIToken struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"userId"`
	TokenHash   string     `json:"-"`
	TokenPrefix string     `json:"tokenPrefix"`
	Name        string     `json:"name"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
}
