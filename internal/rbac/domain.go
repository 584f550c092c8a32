package rbac

import "context"

// Permission represents an atomic capability.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PermissionResolver returns the permission names granted to a user.
type PermissionResolver interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// PermissionCatalog lists every permission known to the role tables.
type PermissionCatalog interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
}
