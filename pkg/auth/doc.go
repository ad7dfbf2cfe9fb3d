// Package auth resolves bearer tokens to principals and defines the
// permission codes checked at the HTTP boundary.
//
// Tokens have the form shina_<base64url(32 random bytes)> and are stored
// only as their SHA-256 hash:
//
//	validator := auth.NewDBTokenValidator(db)
//	principal, err := validator.ValidateToken(ctx, bearer)
//	if principal.HasPermission(auth.PermissionSettingsView) { ... }
//
// A *Principal placed in the request context is also the actor that the
// audit hook records as the author of entity changes.
package auth
