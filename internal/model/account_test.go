package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestToken_SanitizedProjectID_DiscardsSyntheticIDs(t *testing.T) {
	require.Equal(t, "", Token{ProjectID: "cloud-code-482913"}.SanitizedProjectID())
	require.Equal(t, "", Token{ProjectID: "Cloud-Code-1"}.SanitizedProjectID())
	require.Equal(t, "my-real-project", Token{ProjectID: "my-real-project"}.SanitizedProjectID())
	require.Equal(t, "", Token{}.SanitizedProjectID())
}

func TestToken_ExpiresWithin(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	require.True(t, Token{ExpiryTimestamp: now.Add(100 * time.Second).Unix()}.ExpiresWithin(300*time.Second, now))
	require.False(t, Token{ExpiryTimestamp: now.Add(400 * time.Second).Unix()}.ExpiresWithin(300*time.Second, now))
	require.False(t, Token{}.ExpiresWithin(300*time.Second, now))
}

func TestAccount_GetGeminiBaseURL_DefaultsToAIStudio(t *testing.T) {
	a := &Account{}
	require.Equal(t, "https://generativelanguage.googleapis.com/v1beta", a.GetGeminiBaseURL())

	a.BaseURL = "https://example.internal/gemini"
	require.Equal(t, "https://example.internal/gemini", a.GetGeminiBaseURL())
}

func TestAccount_IsVertexAI(t *testing.T) {
	a := &Account{}
	require.False(t, a.IsVertexAI())
	a.VertexRegion = "us-central1"
	require.True(t, a.IsVertexAI())
}

func TestAccount_EncodeDecodeTokenRoundTrip(t *testing.T) {
	a := &Account{}
	token := Token{AccessToken: "at", RefreshToken: "rt", ExpiryTimestamp: 1234, ProjectID: "p1"}
	require.NoError(t, a.EncodeToken(token))

	decoded, err := a.DecodeToken()
	require.NoError(t, err)
	require.Equal(t, token, decoded)
}
