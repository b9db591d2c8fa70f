package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

func buildToken(t *testing.T, issuer, subject string, issued, expires time.Time) jwt.Token {
	t.Helper()
	token, err := jwt.NewBuilder().
		Issuer(issuer).
		Audience([]string{"aud"}).
		Subject(subject).
		IssuedAt(issued).
		NotBefore(issued).
		Expiration(expires).
		Build()
	require.NoError(t, err)
	return token
}

func TestTokenValidatorValidateSuccess(t *testing.T) {
	now := time.Now()
	token := buildToken(t, "issuer", "sess-1", now, now.Add(time.Minute))

	validator := TokenValidator{Issuer: "issuer", Audience: "aud", ClockSkew: time.Second, Algorithm: jwa.HS256}
	require.NoError(t, validator.Validate(token, jwa.HS256, now))
}

func TestTokenValidatorRejects(t *testing.T) {
	now := time.Now()
	validator := TokenValidator{Issuer: "issuer", Audience: "aud", Algorithm: jwa.HS256}

	cases := map[string]struct {
		token     jwt.Token
		algorithm jwa.SignatureAlgorithm
	}{
		"issuer mismatch": {buildToken(t, "other", "sess-1", now, now.Add(time.Minute)), jwa.HS256},
		"expired":         {buildToken(t, "issuer", "sess-1", now.Add(-2*time.Hour), now.Add(-time.Minute)), jwa.HS256},
		"no subject":      {buildToken(t, "issuer", "", now, now.Add(time.Minute)), jwa.HS256},
		"algorithm":       {buildToken(t, "issuer", "sess-1", now, now.Add(time.Minute)), jwa.HS512},
		"no algorithm":    {buildToken(t, "issuer", "sess-1", now, now.Add(time.Minute)), ""},
		"nil token":       {nil, jwa.HS256},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, validator.Validate(tc.token, tc.algorithm, now))
		})
	}
}

func TestTokenValidatorRequiresExpiry(t *testing.T) {
	now := time.Now()
	token, err := jwt.NewBuilder().Issuer("issuer").Audience([]string{"aud"}).Subject("sess-1").IssuedAt(now).Build()
	require.NoError(t, err)

	validator := TokenValidator{Issuer: "issuer", Audience: "aud", Algorithm: jwa.HS256}
	require.ErrorContains(t, validator.Validate(token, jwa.HS256, now), "expiry")
}

func TestTokenValidatorKnownRoles(t *testing.T) {
	now := time.Now()
	validator := TokenValidator{Issuer: "issuer", Audience: "aud", Algorithm: jwa.HS256, KnownRoles: []string{RoleAdmin}}

	admin := buildToken(t, "issuer", "sess-1", now, now.Add(time.Minute))
	require.NoError(t, admin.Set(rolesClaim, []string{RoleAdmin}))
	require.NoError(t, validator.Validate(admin, jwa.HS256, now))

	forged := buildToken(t, "issuer", "sess-1", now, now.Add(time.Minute))
	require.NoError(t, forged.Set(rolesClaim, []any{"superuser"}))
	require.ErrorContains(t, validator.Validate(forged, jwa.HS256, now), "unknown role")
}
