// Package enrichment fetches reputation data for IOCs from external
// threat-intelligence services.
package enrichment

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrMissingAPIKey = errors.New("API key not found")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrUnauthorized  = errors.New("authentication failed: invalid API key")
)

// Report is the reputation record of one IP address.
type Report struct {
	IPAddress            string   `json:"ipAddress"`
	IsPublic             bool     `json:"isPublic"`
	IPVersion            int      `json:"ipVersion"`
	IsWhitelisted        *bool    `json:"isWhitelisted"`
	AbuseConfidenceScore float64  `json:"abuseConfidenceScore"`
	CountryCode          string   `json:"countryCode,omitempty"`
	UsageType            string   `json:"usageType,omitempty"`
	ISP                  string   `json:"isp,omitempty"`
	Domain               string   `json:"domain,omitempty"`
	Hostnames            []string `json:"hostnames,omitempty"`
	IsTor                bool     `json:"isTor"`
	TotalReports         int      `json:"totalReports"`
	NumDistinctUsers     int      `json:"numDistinctUsers"`
	LastReportedAt       *string  `json:"lastReportedAt"`
}

// Provider looks up reputation reports.
type Provider interface {
	Name() string
	Check(ctx context.Context, ip string) (*Report, error)
	CheckBatch(ctx context.Context, ips []string) ([]Report, error)
	RateLimit() RateLimitStatus
}

// RateLimitStatus represents API rate limiting.
type RateLimitStatus struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

// ProviderConfig holds common provider configuration.
type ProviderConfig struct {
	APIKey     string        `yaml:"api_key_env"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	RateLimit  int           `yaml:"rate_limit"`
}

// DefaultProviderConfig returns sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:    30 * time.Second,
		RetryCount: 3,
		CacheTTL:   24 * time.Hour,
		RateLimit:  1000,
	}
}
