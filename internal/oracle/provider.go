// Package oracle wraps the external text-understanding service behind
// typed calls with strict response validation and deterministic fallbacks.
// The service is treated as an untrusted, best-effort collaborator: every
// answer passes schema validation and policy gating before it touches state.
package oracle

import (
	"context"
)

// Provider is the interface for language-model backends.
type Provider interface {
	// Name returns the provider name (e.g., "openai", "ollama")
	Name() string

	// Available returns true if the provider is configured and ready
	Available() bool

	// Generate sends a prompt and returns the response
	Generate(ctx context.Context, req Request) (Response, error)
}

// Request is a prompt request to a provider.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
}

// Response is the provider's raw response.
type Response struct {
	Content     string
	Model       string
	RawResponse string // raw API body, kept for audit logging
}

// ProviderManager manages multiple providers with fallback.
type ProviderManager struct {
	providers []Provider
	preferred string
}

// NewProviderManager creates an empty manager.
func NewProviderManager() *ProviderManager {
	return &ProviderManager{providers: make([]Provider, 0)}
}

// AddProvider appends a provider to the fallback chain.
func (pm *ProviderManager) AddProvider(p Provider) {
	pm.providers = append(pm.providers, p)
}

// SetPreferred sets the preferred provider by name.
func (pm *ProviderManager) SetPreferred(name string) {
	pm.preferred = name
}

// GetAvailable returns the first available provider, preferring the
// preferred one. Returns nil when nothing is configured.
func (pm *ProviderManager) GetAvailable() Provider {
	if pm.preferred != "" {
		for _, p := range pm.providers {
			if p.Name() == pm.preferred && p.Available() {
				return p
			}
		}
	}
	for _, p := range pm.providers {
		if p.Available() {
			return p
		}
	}
	return nil
}

// ListAvailable returns names of all available providers.
func (pm *ProviderManager) ListAvailable() []string {
	var names []string
	for _, p := range pm.providers {
		if p.Available() {
			names = append(names, p.Name())
		}
	}
	return names
}
