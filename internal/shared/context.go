package shared

import "context"

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// Principal identifies the acting user and the tenant they operate in.
type Principal struct {
	UserID   int64
	TenantID int64
}

// PrincipalFromContext resolves the principal of the request session.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	sess := SessionFromContext(ctx)
	if sess == nil {
		return Principal{}, false
	}
	userID, ok := sess.UserID()
	if !ok {
		return Principal{}, false
	}
	tenantID, ok := sess.TenantID()
	if !ok {
		return Principal{}, false
	}
	return Principal{UserID: userID, TenantID: tenantID}, true
}
