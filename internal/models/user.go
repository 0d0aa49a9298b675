package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleUser       UserRole = "USER"
)

// UserStatus is the account state stored with the credential.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusInactive  UserStatus = "INACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// Credential is the slice of a user row the auth flow needs. SecretHash never
// leaves the service layer.
type Credential struct {
	ID          string     `db:"id" json:"id"`
	Email       string     `db:"email" json:"email"`
	Username    string     `db:"username" json:"username"`
	SecretHash  string     `db:"password_hash" json:"-"`
	Status      UserStatus `db:"status" json:"status"`
	Role        UserRole   `db:"role" json:"role"`
	Permissions []string   `db:"-" json:"permissions"`
}

// Active reports whether the account may authenticate.
func (c *Credential) Active() bool {
	return c != nil && c.Status == UserStatusActive
}

// Subject builds the token subject for the credential.
func (c *Credential) Subject() TokenSubject {
	return TokenSubject{
		UserID:      c.ID,
		Email:       c.Email,
		Role:        c.Role,
		Permissions: c.Permissions,
	}
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
