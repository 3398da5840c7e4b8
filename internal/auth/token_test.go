package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewIssuer("secret", time.Hour)
	require.NoError(t, err)

	token, err := issuer.Issue("u1", "Ana", RoleAdmin)
	require.NoError(t, err)

	p, err := issuer.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, Principal{Subject: "u1", Name: "Ana", Role: RoleAdmin}, p)
	require.Equal(t, "Ana", p.Actor())
}

func TestIssuer_Expired(t *testing.T) {
	issuer, err := NewIssuer("secret", time.Minute)
	require.NoError(t, err)

	issuedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return issuedAt }
	token, err := issuer.Issue("u1", "", RoleUser)
	require.NoError(t, err)

	issuer.now = func() time.Time { return issuedAt.Add(time.Hour) }
	_, err = issuer.Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_WrongSecret(t *testing.T) {
	a, err := NewIssuer("secret-a", 0)
	require.NoError(t, err)
	b, err := NewIssuer("secret-b", 0)
	require.NoError(t, err)

	token, err := a.Issue("u1", "", RoleStaff)
	require.NoError(t, err)

	_, err = b.Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_Garbage(t *testing.T) {
	issuer, err := NewIssuer("secret", 0)
	require.NoError(t, err)
	_, err = issuer.Verify(context.Background(), "not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewIssuer_RequiresSecret(t *testing.T) {
	_, err := NewIssuer(" ", 0)
	require.ErrorIs(t, err, ErrMissingSecret)
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("Equipe")
	require.NoError(t, err)
	require.Equal(t, RoleStaff, role)

	role, err = ParseRole("")
	require.NoError(t, err)
	require.Equal(t, RoleUser, role)

	_, err = ParseRole("root")
	require.ErrorIs(t, err, ErrInvalidRole)
}
