package signature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const target = "https://app.example.com/api/videos/callback"

func fixedSigner(key string, at time.Time) *Signer {
	s := NewSigner(key)
	s.Now = func() time.Time { return at }
	return s
}

func TestSignVerify(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"videoId":"x","success":true}`)

	tok, err := fixedSigner("current", now).Sign(target, body)
	require.NoError(t, err)

	v := NewVerifier("current", "next")
	v.Now = func() time.Time { return now.Add(time.Minute) }

	require.NoError(t, v.Verify(tok, target, body))
	require.NoError(t, v.Verify(tok, "", body), "empty url skips subject check")

	assert.ErrorIs(t, v.Verify(tok, target, []byte(`{"videoId":"x","success":false}`)), ErrInvalid)
	assert.ErrorIs(t, v.Verify(tok, "https://evil.example.com/cb", body), ErrInvalid)
	assert.ErrorIs(t, v.Verify("", target, body), ErrMissing)
	assert.ErrorIs(t, v.Verify("not.a.jwt", target, body), ErrInvalid)
}

func TestVerify_NextKeyAccepted(t *testing.T) {
	now := time.Now()
	body := []byte("payload")
	tok, err := fixedSigner("rotated-in", now).Sign(target, body)
	require.NoError(t, err)

	assert.NoError(t, NewVerifier("current", "rotated-in").Verify(tok, target, body))
	assert.ErrorIs(t, NewVerifier("current", "").Verify(tok, target, body), ErrInvalid)
}

func TestVerify_Expired(t *testing.T) {
	issued := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	body := []byte("payload")
	tok, err := fixedSigner("k", issued).Sign(target, body)
	require.NoError(t, err)

	v := NewVerifier("k", "")
	v.Now = func() time.Time { return issued.Add(time.Hour) }
	assert.ErrorIs(t, v.Verify(tok, target, body), ErrInvalid)
}

func TestNotConfigured(t *testing.T) {
	assert.Nil(t, NewSigner(" "))
	_, err := (*Signer)(nil).Sign(target, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	v := NewVerifier("", "")
	assert.False(t, v.Configured())
	assert.ErrorIs(t, v.Verify("tok", target, nil), ErrNotConfigured)
}
