package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("s3cret", time.Hour)
	tok, exp, err := m.Sign(AdminSubject)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	claims, err := m.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, AdminSubject, claims.Subject)
	assert.Equal(t, AdminSubject, claims.Role)
}

func TestParseRejects(t *testing.T) {
	m := NewTokenManager("s3cret", time.Hour)
	tok, _, err := m.Sign(AdminSubject)
	require.NoError(t, err)

	_, err = NewTokenManager("other", time.Hour).Parse(tok)
	assert.Error(t, err, "wrong secret")

	later := NewTokenManager("s3cret", time.Hour)
	later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = later.Parse(tok)
	assert.Error(t, err, "expired")

	_, err = m.Parse("not-a-token")
	assert.Error(t, err)

	_, _, err = NewTokenManager("", time.Hour).Sign(AdminSubject)
	assert.Error(t, err)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong"))
	assert.False(t, CheckPassword("", ""))
}
