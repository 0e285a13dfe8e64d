package gemini

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildVertexAIURL_RegionalAndGlobal(t *testing.T) {
	url := BuildVertexAIURL("us-central1", "proj-1", "gemini-2.5-pro", false)
	require.Equal(t, "https://us-central1-aiplatform.googleapis.com/v1/projects/proj-1/locations/us-central1/publishers/google/models/gemini-2.5-pro:generateContent", url)

	streamURL := BuildVertexAIURL("us-central1", "proj-1", "gemini-2.5-pro", true)
	require.Contains(t, streamURL, ":streamGenerateContent")

	globalURL := BuildVertexAIURL("global", "proj-1", "gemini-2.5-pro", false)
	require.Equal(t, "https://aiplatform.googleapis.com/v1/projects/proj-1/locations/global/publishers/google/models/gemini-2.5-pro:generateContent", globalURL)
}

func TestPublicEndpointFor_AIStudioVsVertex(t *testing.T) {
	aiStudio := PublicEndpointFor("https://generativelanguage.googleapis.com/v1beta", false, "", "", "gemini-2.5-flash", false)
	require.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent", aiStudio)

	vertex := PublicEndpointFor("unused", true, "europe-west1", "proj-2", "gemini-2.5-flash", false)
	require.Contains(t, vertex, "europe-west1-aiplatform.googleapis.com")
	require.Contains(t, vertex, "proj-2")
}

func TestIsImageGenerationModel(t *testing.T) {
	require.True(t, IsImageGenerationModel("gemini-3-pro-image"))
	require.True(t, IsImageGenerationModel("gemini-3-pro-image-2k-16x9"))
	require.True(t, IsImageGenerationModel("models/gemini-3-pro-image-4k"))
	require.False(t, IsImageGenerationModel("gemini-2.5-pro"))
}

func TestExtractImageSize(t *testing.T) {
	require.Equal(t, ImageSize{}, ExtractImageSize("gemini-3-pro-image"))
	require.Equal(t, ImageSize{Resolution: "2k", Aspect: "16x9"}, ExtractImageSize("gemini-3-pro-image-2k-16x9"))
	require.Equal(t, ImageSize{Aspect: "1x1"}, ExtractImageSize("gemini-3-pro-image-1x1"))
	require.Equal(t, ImageSize{}, ExtractImageSize("gemini-2.5-pro"))
}

func TestDynamicImageModelIDs_CoversFullCrossProduct(t *testing.T) {
	ids := DynamicImageModelIDs()
	require.Len(t, ids, 3*7)
	require.Contains(t, ids, "gemini-3-pro-image")
	require.Contains(t, ids, "gemini-3-pro-image-4k-21x9")
}

func TestResolveModelRoute_ClaudeFamilyGroupBeatsStaticAlias(t *testing.T) {
	// Family-group routing (priority 2) matches any "claude" id containing
	// "4.5"/"4-5" before the static alias table (priority 3) is consulted,
	// so claude-sonnet-4-5's dedicated static entry is shadowed; any other
	// claude id takes the claude-default route over its static entry.
	require.Equal(t, "gemini-2.5-pro", ResolveModelRoute("claude-opus-4-6-thinking", nil, nil))
	require.Equal(t, "gemini-3-pro-high", ResolveModelRoute("claude-sonnet-4-5-thinking", nil, nil))
}

func TestResolveModelRoute_CustomExactBeatsFamilyGroup(t *testing.T) {
	custom := map[string]string{"claude-sonnet-4-5": "gemini-custom-route"}
	require.Equal(t, "gemini-custom-route", ResolveModelRoute("claude-sonnet-4-5", custom, nil))
}
