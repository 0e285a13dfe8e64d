package gemini

import (
	"regexp"
	"runtime"
	"strings"
)

// DefaultInternalBaseURLs is the default internal-endpoint failover order
// (spec.md §4.2), overridable via PROXY_INTERNAL_BASE_URLS /
// ANTIGRAVITY_INTERNAL_BASE_URLS.
var DefaultInternalBaseURLs = []string{
	"https://cloudcode-pa.googleapis.com/v1internal",
	"https://daily-cloudcode-pa.googleapis.com/v1internal",
}

// DefaultUserAgent is the default UpstreamClient User-Agent (spec.md §4.2),
// overridable via PROXY_REQUEST_USER_AGENT.
const DefaultUserAgent = "antigravity/1.11.9 windows/amd64"

// BuildVertexAIURL builds the regional Vertex AI generateContent (or
// streamGenerateContent) URL for a project, used by the public/passthrough
// path that bypasses the internal Cloud Code endpoint entirely.
func BuildVertexAIURL(region, projectID, model string, stream bool) string {
	action := "generateContent"
	if stream {
		action = "streamGenerateContent"
	}
	host := region + "-aiplatform.googleapis.com"
	if region == "global" {
		host = "aiplatform.googleapis.com"
	}
	return "https://" + host + "/v1/projects/" + projectID + "/locations/" + region +
		"/publishers/google/models/" + model + ":" + action
}

// PublicEndpointFor resolves the non-internal generateContent URL to call
// for an account, given its Vertex/AI-Studio configuration.
func PublicEndpointFor(baseURL string, isVertexAI bool, vertexRegion, vertexProjectID, model string, stream bool) string {
	if isVertexAI {
		return BuildVertexAIURL(vertexRegion, vertexProjectID, model, stream)
	}
	action := "generateContent"
	if stream {
		action = "streamGenerateContent"
	}
	return strings.TrimRight(baseURL, "/") + "/models/" + model + ":" + action
}

// AnthropicBetaHeader is attached whenever the resolved model is a Claude
// family model (spec.md §4.6 "Model-specific headers").
const AnthropicBetaHeader = "claude-code-20250219,interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14"

// IdentityHeaders returns the fixed Cloud Code client-identity headers the
// internal endpoint expects alongside Authorization/Content-Type, grounded
// on the sibling Antigravity proxy's ClientMetadata encoding
// (SPEC_FULL.md §3.1).
func IdentityHeaders() map[string]string {
	return map[string]string{
		"X-Goog-Api-Client": "google-cloud-sdk vscode_cloudshelleditor/0.1",
		"Client-Metadata":   clientMetadataJSON(),
	}
}

func clientMetadataJSON() string {
	platform := "2" // linux
	switch runtime.GOOS {
	case "darwin":
		platform = "3"
	case "windows":
		platform = "1"
	}
	return `{"ideType":6,"platform":` + platform + `,"pluginType":2}`
}

// resolveModelRoute priority, per spec.md §4.3:
//  1. Custom exact mapping
//  2. Family-group mapping
//  3. Static alias table
//  4. Identity

// customExactFirst fixes the Open Question in spec.md §9: custom_mapping and
// anthropic_mapping are consulted as two ordered maps, never merged, so a
// family rule can never shadow a custom exact key by insertion order.
func ResolveModelRoute(model string, customExact, anthropicCustom map[string]string) string {
	model = strings.TrimPrefix(model, "models/")

	if mapped, ok := lookupWildcardAware(customExact, model); ok {
		return mapped
	}
	if mapped, ok := lookupWildcardAware(anthropicCustom, model); ok {
		return mapped
	}
	if mapped, ok := familyGroupRoute(model); ok {
		return mapped
	}
	if mapped, ok := staticAliasTable[strings.ToLower(model)]; ok {
		return mapped
	}
	return model
}

// lookupWildcardAware checks exact keys first, then "*"-bearing keys
// compiled to case-insensitive anchored regexes (spec.md §4.3).
func lookupWildcardAware(table map[string]string, model string) (string, bool) {
	if table == nil {
		return "", false
	}
	if v, ok := table[model]; ok {
		return v, true
	}
	for pattern, target := range table {
		if !strings.Contains(pattern, "*") {
			continue
		}
		re, err := wildcardToRegex(pattern)
		if err != nil {
			continue
		}
		if re.MatchString(model) {
			return target, true
		}
	}
	return "", false
}

func wildcardToRegex(pattern string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, ".*")
	return regexp.Compile("(?i)^" + escaped + "$")
}

// familyGroupRoute implements spec.md §4.3's named family groups.
func familyGroupRoute(model string) (string, bool) {
	lower := strings.ToLower(model)

	isGPT4Classic := strings.Contains(lower, "gpt-4") &&
		!strings.Contains(lower, "mini") && !strings.Contains(lower, "turbo") && !strings.Contains(lower, "4o")
	isO1O3 := strings.HasPrefix(lower, "o1-") || strings.HasPrefix(lower, "o3-") || lower == "o1" || lower == "o3"
	if isGPT4Classic || isO1O3 {
		return "gemini-2.5-pro", true
	}

	isGPT4oSeries := !strings.Contains(lower, "claude") && !strings.Contains(lower, "gemini") &&
		(strings.Contains(lower, "4o") || strings.Contains(lower, "turbo") ||
			strings.Contains(lower, "mini") || strings.Contains(lower, "3.5"))
	if isGPT4oSeries {
		return "gemini-2.5-flash", true
	}

	if strings.Contains(lower, "gpt-5") {
		return "gemini-2.5-pro", true // fallback to GPT-4 series route
	}

	if strings.Contains(lower, "claude") {
		switch {
		case strings.Contains(lower, "4.5") || strings.Contains(lower, "4-5"):
			return "gemini-3-pro-high", true // claude-4.5-series
		case strings.Contains(lower, "3.5") || strings.Contains(lower, "3-5"):
			return "gemini-2.5-pro", true // claude-3.5-series
		default:
			return "gemini-2.5-pro", true // claude-default
		}
	}

	return "", false
}

// staticAliasTable is CLAUDE_TO_GEMINI plus the OpenAI/Gemini extras from
// spec.md §3/§4.3.
var staticAliasTable = map[string]string{
	"claude-opus-4-6-thinking":   "gemini-3-pro-high",
	"claude-sonnet-4-5-thinking": "gemini-3-flash",
	"claude-sonnet-4-5":          "gemini-3-flash",
	"claude-3-opus":              "gemini-2.5-pro",
	"claude-3-sonnet":            "gemini-2.5-flash",
	"claude-3-haiku":             "gemini-2.5-flash",
	"gpt-4":                      "gemini-2.5-pro",
	"gpt-3.5-turbo":              "gemini-2.5-flash",
	"gemini-pro":                 "gemini-2.5-pro",
	"gemini-flash":               "gemini-2.5-flash",
}

// imageSizeSuffixes are the variant suffixes spec.md §3 defines for the
// dynamic gemini-3-pro-image family.
var imageSizeSuffixes = []string{"", "-2k", "-4k"}
var imageAspectSuffixes = []string{"", "-1x1", "-4x3", "-3x4", "-16x9", "-9x16", "-21x9"}

// DynamicImageModelIDs enumerates every gemini-3-pro-image variant id
// (spec.md §3: {∅,-2k,-4k} × {∅,-1x1,-4x3,-3x4,-16x9,-9x16,-21x9}).
func DynamicImageModelIDs() []string {
	var ids []string
	for _, size := range imageSizeSuffixes {
		for _, aspect := range imageAspectSuffixes {
			ids = append(ids, "gemini-3-pro-image"+size+aspect)
		}
	}
	return ids
}

// IsImageGenerationModel reports whether model names a member of the
// gemini-3-pro-image family (SPEC_FULL.md §3.7, grounded on
// antigravity_image_test.go's isImageGenerationModel expectations).
func IsImageGenerationModel(model string) bool {
	model = strings.TrimPrefix(strings.ToLower(model), "models/")
	return strings.HasPrefix(model, "gemini-3-pro-image")
}

// ImageSize is the resolution/aspect pair extracted from an image model id.
type ImageSize struct {
	Resolution string // "", "2k", "4k"
	Aspect     string // "", "1x1", "4x3", "3x4", "16x9", "9x16", "21x9"
}

var imageSizeRe = regexp.MustCompile(`^gemini-3-pro-image(?:-(2k|4k))?(?:-(1x1|4x3|3x4|16x9|9x16|21x9))?$`)

// ExtractImageSize parses the resolution/aspect suffix off an image model
// id, as antigravity_image_test.go's extractImageSize exercises.
func ExtractImageSize(model string) ImageSize {
	model = strings.TrimPrefix(strings.ToLower(model), "models/")
	m := imageSizeRe.FindStringSubmatch(model)
	if m == nil {
		return ImageSize{}
	}
	return ImageSize{Resolution: m[1], Aspect: m[2]}
}

// FallbackModelIDs is the bare id list backing both FallbackModelsList and
// the OpenAI-shaped /v1/models listing.
var FallbackModelIDs = []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-3-pro-high", "gemini-3-flash"}

// FallbackModelsList is the static listing GET /v1beta/models always serves
// (spec.md §4.7's static models listing, SPEC_FULL.md §3.6); no upstream
// model listing is requested.
func FallbackModelsList() map[string]any {
	var models []map[string]any
	for _, id := range FallbackModelIDs {
		models = append(models, map[string]any{
			"name":        "models/" + id,
			"displayName": id,
			"description": "Gemini model",
		})
	}
	return map[string]any{"models": models}
}

// CapacityBackoffTiersMs is the tiered backoff schedule for RateLimited
// retries (SPEC_FULL.md §3.2, grounded on the sibling
// Antigravity proxy's CapacityBackoffTiersMs) — the default exponential
// backoff-with-jitter still applies for anything beyond the table's depth.
var CapacityBackoffTiersMs = []int{5000, 10000, 20000, 30000, 60000}

// QuotaExhaustedBackoffTiersMs backs off more aggressively once an account
// has hit a hard quota wall rather than a transient rate limit.
var QuotaExhaustedBackoffTiersMs = []int{60000, 300000, 1800000, 7200000}

// FallbackModel renders the single-model shape for GET /v1beta/models/{model}.
func FallbackModel(id string) map[string]any {
	return map[string]any{
		"name":        "models/" + id,
		"displayName": id,
		"description": "Gemini model",
	}
}
