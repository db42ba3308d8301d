package domain

import "time"

// LLMCredential is a stored LLM API key, scoped to a tenant and
// optionally narrowed to one user. UserID == "" means a tenant-level
// default (spec §4.7 tier 2). APIKeyEnc is an envelope ciphertext;
// callers decrypt through pkg/llmcred, never directly.
type LLMCredential struct {
	ID           string
	TenantID     string
	UserID       string // empty = tenant default
	Provider     string
	APIKeyEnc    string
	BaseURL      string // optional, local providers only
	DefaultModel string // optional
	IsActive     bool
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
