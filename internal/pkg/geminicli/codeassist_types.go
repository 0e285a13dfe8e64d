// Package geminicli holds the Cloud Code Assist project-resolution types
// upstream.Client.LoadCodeAssist uses, and the log-sanitization helper
// upstream.Client applies to error bodies before logging them.
package geminicli

// LoadCodeAssistRequest is the loadCodeAssist call the gateway issues to
// resolve an account's cloudaicompanion project when the orchestrator's
// project="" inline retry still reports a missing project context.
type LoadCodeAssistRequest struct {
	Metadata LoadCodeAssistMetadata `json:"metadata"`
}

type LoadCodeAssistMetadata struct {
	IDEType    string `json:"ideType"`
	Platform   string `json:"platform"`
	PluginType string `json:"pluginType"`
}

type LoadCodeAssistResponse struct {
	CurrentTier             string        `json:"currentTier,omitempty"`
	CloudAICompanionProject string        `json:"cloudaicompanionProject,omitempty"`
	AllowedTiers            []AllowedTier `json:"allowedTiers,omitempty"`
}

type AllowedTier struct {
	ID        string `json:"id"`
	IsDefault bool   `json:"isDefault,omitempty"`
}
