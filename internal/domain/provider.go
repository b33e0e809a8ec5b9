package domain

import "strings"

// Time units used by provider APIs.
const (
	TimeFormatSeconds = "seconds"
	TimeFormatMillis  = "millis"
)

// Auth types understood by the MDS provider client.
const (
	AuthTypeBearer        = "bearer"
	AuthTypeToken         = "token"
	AuthTypeHTTPBasicAuth = "httpbasicauth"
)

// ProviderConfig is the read-only configuration of one MDS provider.
type ProviderConfig struct {
	Name              string            `yaml:"-" json:"name"`
	ProviderID        string            `yaml:"provider_id" json:"providerId"`
	Source            string            `yaml:"source" json:"source"` // "mds" | "json_file"
	FilePath          string            `yaml:"file_path" json:"filePath,omitempty"`
	AuthType          string            `yaml:"auth_type" json:"authType"`
	URL               string            `yaml:"url" json:"url"`
	Headers           map[string]string `yaml:"headers" json:"-"`
	Timeout           int               `yaml:"timeout" json:"timeout"` // seconds
	Token             string            `yaml:"token" json:"-"`
	User              string            `yaml:"user" json:"-"`
	Password          string            `yaml:"password" json:"-"`
	Delay             float64           `yaml:"delay" json:"delay"` // seconds between pages
	TimeOffsetSeconds int64             `yaml:"time_offset_seconds" json:"timeOffsetSeconds"`
	Interval          int64             `yaml:"interval" json:"interval"` // seconds
	Paging            bool              `yaml:"paging" json:"paging"`
	TimeFormat        string            `yaml:"time_format" json:"timeFormat"`
	AuthURL           string            `yaml:"auth_url" json:"-"`
	AuthData          map[string]string `yaml:"auth_data" json:"-"`
	AuthTokenResKey   string            `yaml:"auth_token_res_key" json:"-"`
	Schedule          string            `yaml:"schedule" json:"schedule,omitempty"` // cron expression
}

// Millis reports whether the provider API speaks milliseconds.
// "mills" is accepted for configs written against older tooling.
func (p *ProviderConfig) Millis() bool {
	switch strings.ToLower(p.TimeFormat) {
	case TimeFormatMillis, "mills":
		return true
	}
	return false
}

// NeedsToken reports whether a token must be acquired before the run starts.
func (p *ProviderConfig) NeedsToken() bool {
	return p.Token == "" && !strings.EqualFold(p.AuthType, AuthTypeHTTPBasicAuth)
}
