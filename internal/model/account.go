// Package model holds the persisted shapes the gateway schedules over:
// accounts, their OAuth tokens, and the process-wide model-routing table.
package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"regexp"
	"time"

	"gorm.io/gorm"
)

// JSONB stores arbitrary account credential/extra payloads as jsonb.
type JSONB map[string]any

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Provider identifies the upstream credential family an Account authenticates
// against. The Core only ever schedules provider == ProviderGoogle accounts
// against the internal endpoint; ProviderAnthropic accounts are carried for
// completeness of the data model (spec.md §3) and to support Anthropic-native
// API-key accounts alongside OAuth-pooled Google accounts.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderAnthropic Provider = "anthropic"
)

// Status mirrors spec.md §3's optional Account.status enum.
type Status string

const (
	StatusActive      Status = "active"
	StatusRateLimited Status = "rate_limited"
	StatusExpired     Status = "expired"
)

// syntheticProjectID matches project ids the upstream assigns automatically
// to unprovisioned accounts; spec.md §3 requires these be discarded before
// use so the upstream falls back to its own project resolution.
var syntheticProjectID = regexp.MustCompile(`(?i)^cloud-code-\d+$`)

// Token is an Account's OAuth2 credential set (spec.md §3).
type Token struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	ExpiryTimestamp  int64  `json:"expiry_timestamp"` // unix seconds, authoritative
	ProjectID        string `json:"project_id,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
	UpstreamProxyURL string `json:"upstream_proxy_url,omitempty"`
}

// SanitizedProjectID returns ProjectID with synthetic cloud-code-<n> ids
// elided, per spec.md §3.
func (t Token) SanitizedProjectID() string {
	if syntheticProjectID.MatchString(t.ProjectID) {
		return ""
	}
	return t.ProjectID
}

// ExpiresWithin reports whether the token's authoritative deadline falls
// within d of now — the TokenPool's refresh trigger (spec.md §4.1: "If
// expiry_timestamp - now < 300s").
func (t Token) ExpiresWithin(d time.Duration, now time.Time) bool {
	if t.ExpiryTimestamp == 0 {
		return false
	}
	return time.Unix(t.ExpiryTimestamp, 0).Sub(now) < d
}

// Account is a pooled credential, as persisted by CloudAccountStore (C1).
type Account struct {
	ID              string         `gorm:"primaryKey;size:64" json:"id"`
	Provider        Provider       `gorm:"size:20;not null" json:"provider"`
	Email           string         `gorm:"size:255;not null" json:"email"`
	Token           JSONB          `gorm:"type:jsonb;not null;default:'{}'" json:"token"`
	Quota           JSONB          `gorm:"type:jsonb;default:'{}'" json:"quota,omitempty"`
	Status          Status         `gorm:"size:20;default:active" json:"status,omitempty"`
	IsActive        bool           `gorm:"default:true;not null" json:"is_active"`
	Schedulable     bool           `gorm:"default:true;not null" json:"schedulable"`
	Priority        int            `gorm:"default:50;not null" json:"priority"` // 1-100, lower schedules first
	BaseURL         string         `gorm:"size:255" json:"base_url,omitempty"`
	VertexRegion    string         `gorm:"size:64" json:"vertex_region,omitempty"`
	VertexProjectID string         `gorm:"size:128" json:"vertex_project_id,omitempty"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
	LastUsed        *time.Time     `json:"last_used,omitempty"`
	ErrorMessage    string         `gorm:"type:text" json:"error_message,omitempty"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Account) TableName() string { return "accounts" }

// defaultGeminiAIStudioBaseURL is the Google AI Studio generateContent host
// used whenever an account doesn't carry its own base_url override.
const defaultGeminiAIStudioBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GetGeminiBaseURL resolves the public (non-internal) generateContent host
// for this account, preferring a custom override before falling back to
// Google AI Studio. Vertex AI accounts never use this directly — the Vertex
// URL is built from region/project via gemini.BuildVertexAIURL instead.
func (a *Account) GetGeminiBaseURL() string {
	if a.BaseURL != "" {
		return a.BaseURL
	}
	return defaultGeminiAIStudioBaseURL
}

// IsVertexAI reports whether this account is configured for Vertex AI's
// regional endpoint rather than Google AI Studio.
func (a *Account) IsVertexAI() bool {
	return a.VertexRegion != ""
}

// DecodeToken unmarshals the jsonb Token column into a typed Token.
func (a *Account) DecodeToken() (Token, error) {
	var t Token
	raw, err := json.Marshal(a.Token)
	if err != nil {
		return Token{}, err
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return Token{}, err
	}
	return t, nil
}

// EncodeToken replaces the jsonb Token column with t.
func (a *Account) EncodeToken(t Token) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	var m JSONB
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	a.Token = m
	return nil
}

// AutoMigrate creates/updates the accounts table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{})
}
