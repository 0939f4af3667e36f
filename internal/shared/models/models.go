package models

// AccessToken represents a gateway access token as stored by the admin surface
type AccessToken struct {
	ID       int64
	Name     string
	Token    string
	IsActive bool
}

// ProviderConfig represents an upstream provider row
type ProviderConfig struct {
	ID       int64
	Provider string
	APIKey   string
	BaseURL  *string
	IsActive bool
}

// ProviderCredentials is what the gateway needs to reach an active provider
type ProviderCredentials struct {
	Provider string
	APIKey   string
	// BaseURL is nil when the provider should use its documented default.
	BaseURL *string
}

// Credentials projects a config row onto the fields used for dispatch.
func (p *ProviderConfig) Credentials() *ProviderCredentials {
	return &ProviderCredentials{
		Provider: p.Provider,
		APIKey:   p.APIKey,
		BaseURL:  p.BaseURL,
	}
}
