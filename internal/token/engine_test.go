package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/internal/config"
)

func testEngine(t *testing.T, accessExpiry, refreshExpiry time.Duration) *Engine {
	t.Helper()
	e, err := NewEngine(
		&config.TokenConfig{CipherKey: "access-cipher-key", SignKey: "access-sign-key", Expiry: accessExpiry},
		&config.TokenConfig{CipherKey: "refresh-cipher-key", SignKey: "refresh-sign-key", Expiry: refreshExpiry},
	)
	require.NoError(t, err)
	return e
}

func TestIssueVerifyRoundtrip(t *testing.T) {
	e := testEngine(t, 10*time.Minute, time.Hour)

	payload := map[string]interface{}{
		"accessToken":  "a1b2c3",
		"refreshToken": "c3b2a1",
	}

	raw, err := e.Issue(KindAccess, "user-123", payload)
	require.NoError(t, err)
	assert.NotContains(t, raw, "user-123", "subject must not be readable from the token")

	claims, err := e.Verify(KindAccess, raw)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, KindAccess, claims.Kind)
	assert.Equal(t, "a1b2c3", claims.Data["accessToken"])
	assert.Equal(t, "c3b2a1", claims.Data["refreshToken"])
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), claims.ExpiresAt, time.Minute)
}

func TestVerifyRefreshRoundtrip(t *testing.T) {
	e := testEngine(t, 10*time.Minute, time.Hour)

	raw, err := e.Issue(KindRefresh, "user-123", nil)
	require.NoError(t, err)

	claims, err := e.Verify(KindRefresh, raw)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, KindRefresh, claims.Kind)
}

func TestVerifyExpired(t *testing.T) {
	e := testEngine(t, -2*time.Hour, time.Hour)

	raw, err := e.Issue(KindAccess, "user-123", nil)
	require.NoError(t, err)

	_, err = e.Verify(KindAccess, raw)
	assert.ErrorIs(t, err, ErrExpiredToken, "a stale token must fail as expired, never as invalid")
}

func TestVerifyTampered(t *testing.T) {
	e := testEngine(t, 10*time.Minute, time.Hour)

	raw, err := e.Issue(KindAccess, "user-123", nil)
	require.NoError(t, err)

	// Flip a character in the ciphertext segment.
	tampered := []byte(raw)
	mid := len(tampered) / 2
	if tampered[mid] == 'a' {
		tampered[mid] = 'b'
	} else {
		tampered[mid] = 'a'
	}

	_, err = e.Verify(KindAccess, string(tampered))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyGarbage(t *testing.T) {
	e := testEngine(t, 10*time.Minute, time.Hour)

	_, err := e.Verify(KindAccess, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFamiliesAreIndependent(t *testing.T) {
	e := testEngine(t, 10*time.Minute, time.Hour)

	access, err := e.Issue(KindAccess, "user-123", nil)
	require.NoError(t, err)

	// With per-kind keys the other family cannot even decrypt the token.
	_, err = e.Verify(KindRefresh, access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyKindMismatch(t *testing.T) {
	// Same key material for both kinds: the embedded kind claim is the only
	// thing keeping an access token out of a refresh endpoint.
	shared := &config.TokenConfig{CipherKey: "shared-cipher-key", SignKey: "shared-sign-key", Expiry: time.Hour}
	e, err := NewEngine(shared, shared)
	require.NoError(t, err)

	access, err := e.Issue(KindAccess, "user-123", nil)
	require.NoError(t, err)
	refresh, err := e.Issue(KindRefresh, "user-123", nil)
	require.NoError(t, err)

	_, err = e.Verify(KindRefresh, access)
	assert.ErrorIs(t, err, ErrKindMismatch)
	_, err = e.Verify(KindAccess, refresh)
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestPair(t *testing.T) {
	e := testEngine(t, 10*time.Minute, time.Hour)

	pair, err := e.Pair("user-123")
	require.NoError(t, err)
	assert.Equal(t, int64(600), pair.ExpiresIn)
	assert.False(t, strings.EqualFold(pair.AccessToken, pair.RefreshToken))

	accessClaims, err := e.Verify(KindAccess, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-123", accessClaims.Subject)

	refreshClaims, err := e.Verify(KindRefresh, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "user-123", refreshClaims.Subject)
}

func TestShortConfiguredKeysAreUsable(t *testing.T) {
	// Operators configure keys as passphrases of arbitrary length; stretching
	// must make even very short ones satisfy HS256 and A256GCM.
	e, err := NewEngine(
		&config.TokenConfig{CipherKey: "c", SignKey: "s", Expiry: 10 * time.Minute},
		&config.TokenConfig{CipherKey: "c2", SignKey: "s2", Expiry: time.Hour},
	)
	require.NoError(t, err)

	raw, err := e.Issue(KindAccess, "user-123", nil)
	require.NoError(t, err)

	claims, err := e.Verify(KindAccess, raw)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)
}

func TestNewEngineRejectsMissingKeys(t *testing.T) {
	_, err := NewEngine(
		&config.TokenConfig{CipherKey: "", SignKey: "s", Expiry: time.Minute},
		&config.TokenConfig{CipherKey: "c", SignKey: "s", Expiry: time.Minute},
	)
	assert.Error(t, err)
}
