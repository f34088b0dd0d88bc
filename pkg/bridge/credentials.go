package bridge

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/providers"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

// Credentials is the resolved upstream credential set for one request. The
// bridge reads through to the database on every request; the UI can push
// fresh credentials at any time and the very next turn uses them.
type Credentials struct {
	Token     string
	Cookies   string
	ExpiresAt *int64
}

// credentialStore is the slice of the store the resolver needs.
type credentialStore interface {
	GetCredentials(ctx context.Context) (*store.Credentials, error)
}

// resolveCredentials loads and validates the singleton credentials. Missing
// or expired credentials produce an AuthError carrying an actionable hint;
// the gateway relays the hint to the operator.
func resolveCredentials(ctx context.Context, st credentialStore, now time.Time) (*Credentials, error) {
	row, err := st.GetCredentials(ctx)
	if err == store.ErrNotFound {
		return nil, &providers.AuthError{
			Provider: "web-chat",
			Message:  "no web-chat credentials configured",
			Hint:     "log in to the web chat and push credentials via POST /api/qwen/credentials",
		}
	}
	if err != nil {
		return nil, err
	}

	creds := &Credentials{Token: row.Token, Cookies: row.Cookies, ExpiresAt: row.ExpiresAt}
	if creds.ExpiresAt == nil {
		// The UI did not supply an expiry; recover it from the JWT when the
		// token is one.
		if exp, ok := jwtExpiry(row.Token); ok {
			creds.ExpiresAt = &exp
		}
	}

	if row.Token == "" || row.Cookies == "" {
		return nil, &providers.AuthError{
			Provider: "web-chat",
			Message:  "stored web-chat credentials are incomplete",
			Hint:     "push both token and cookies via POST /api/qwen/credentials",
		}
	}
	if creds.ExpiresAt != nil && *creds.ExpiresAt <= now.Unix() {
		return nil, &providers.AuthError{
			Provider: "web-chat",
			Message:  "web-chat credentials have expired",
			Hint:     "log in to the web chat again and push fresh credentials",
			Expired:  true,
		}
	}
	return creds, nil
}

// jwtExpiry extracts the exp claim from a JWT without verifying the
// signature. The bridge never trusts the token beyond relaying it; the
// claim is only used to warn before the upstream starts rejecting it.
func jwtExpiry(token string) (int64, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return 0, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}
	return exp.Unix(), true
}

// TokenPreview returns a loggable prefix of the token. Full credential
// values never reach a log line.
func TokenPreview(token string) string {
	if len(token) <= 20 {
		return token
	}
	return token[:20] + "..."
}

// CookiePreview returns the name of the first cookie only.
func CookiePreview(cookies string) string {
	first, _, _ := strings.Cut(cookies, ";")
	name, _, found := strings.Cut(first, "=")
	if !found {
		return ""
	}
	return strings.TrimSpace(name)
}
