package users

import "time"

// User is the external identity referenced by the RBAC engine. The
// engine only reads the fields relevant to authorization; account
// management lives with the identity provider.
type User struct {
	ID          int64
	Email       string
	IsActive    bool
	IsSuperuser bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
