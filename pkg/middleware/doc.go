// Package middleware provides HTTP middleware for authentication,
// permission checks and rate limiting.
//
//	authn := middleware.NewAuthMiddleware(auth.NewDBTokenValidator(db), false, logger)
//	router.Use(authn.Handler)
//	router.Handle("/export", middleware.RequirePermission(auth.PermissionReportsExport)(h))
//
// Rate limits are counted in Redis per principal, falling back to the
// client IP for anonymous callers. Redis errors fail open.
package middleware
