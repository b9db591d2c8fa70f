package auth_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-btcpay/internal/auth"
	"github.com/noah-isme/toko-btcpay/internal/common"
)

func newService(t *testing.T) *auth.Service {
	t.Helper()
	svc, err := auth.NewService(auth.Config{Secret: "test-secret", TTL: time.Hour, ClockSkew: time.Second})
	require.NoError(t, err)
	return svc
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := auth.NewService(auth.Config{Secret: "  "})
	require.Error(t, err)
}

func TestStartSessionRoundTrip(t *testing.T) {
	svc := newService(t)

	session, err := svc.StartSession()
	require.NoError(t, err)
	require.NotEmpty(t, session.SessionID)

	claims, err := svc.Parse(session.Token)
	require.NoError(t, err)
	require.Equal(t, session.SessionID, claims.SessionID)
	require.False(t, claims.HasRole(auth.RoleAdmin))
	require.WithinDuration(t, session.ExpiresAt, claims.ExpiresAt, time.Second)
}

func TestIssueAdminRole(t *testing.T) {
	svc := newService(t)

	session, err := svc.Issue("ops", auth.RoleAdmin)
	require.NoError(t, err)
	claims, err := svc.Parse(session.Token)
	require.NoError(t, err)
	require.True(t, claims.HasRole(auth.RoleAdmin))

	_, err = svc.Issue(" ")
	require.Error(t, err)

	_, err = svc.Issue("ops", "superuser")
	require.ErrorContains(t, err, "unknown role")
}

func TestParseRejectsExpiredToken(t *testing.T) {
	svc := newService(t)
	session, err := svc.StartSession()
	require.NoError(t, err)

	svc.WithNow(func() time.Time { return time.Now().Add(2 * time.Hour) })
	_, err = svc.Parse(session.Token)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus)
}

func TestParseRejectsForeignTokens(t *testing.T) {
	svc := newService(t)
	other, err := auth.NewService(auth.Config{Secret: "other-secret"})
	require.NoError(t, err)
	foreign, err := other.StartSession()
	require.NoError(t, err)

	tok, err := jwt.NewBuilder().Subject("sess").Issuer("toko-storefront").Audience([]string{"toko-shop-api"}).
		Expiration(time.Now().Add(time.Hour)).Build()
	require.NoError(t, err)
	hs512, err := jwt.Sign(tok, jwt.WithKey(jwa.HS512, []byte("test-secret")))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":         "",
		"garbage":       "not-a-token",
		"other secret":  foreign.Token,
		"wrong alg":     string(hs512),
		"tampered body": tamper(foreign.Token),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Parse(token)
			require.Error(t, err)
		})
	}
}

func tamper(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return token
	}
	return parts[0] + "." + parts[1] + "x." + parts[2]
}
