package config

// Routing is the routing document: physical databases, the repositories addressing
// them through ordered clusters, and the fallback policies governing cluster health.
type Routing struct {
	Version          string           `yaml:"version" json:"version"`
	Databases        []Database       `yaml:"databases" json:"databases"`
	Repositories     []Repository     `yaml:"repositories" json:"repositories"`
	FallbackPolicies []FallbackPolicy `yaml:"fallback_policies" json:"fallback_policies"`
}

// Database is one physical endpoint.
type Database struct {
	Name             string `yaml:"name" json:"name"`
	SequenceNumber   int    `yaml:"sequence_number" json:"sequence_number"`
	Type             string `yaml:"type" json:"type"`
	ConnectionString string `yaml:"connection_string" json:"connection_string"`
	Enabled          bool   `yaml:"enabled" json:"enabled"`
}

// Cluster is one failover tier of a repository.
type Cluster struct {
	Databases      []string `yaml:"databases" json:"databases"`
	SequenceNumber int      `yaml:"sequence" json:"sequence"`
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	FallbackPolicy string   `yaml:"fallback_policy" json:"fallback_policy"`
	// priority (default), round_robin or random
	SelectorType string `yaml:"selector_type" json:"selector_type"`
}

type Repository struct {
	Name         string    `yaml:"name" json:"name"`
	Clusters     []Cluster `yaml:"clusters" json:"clusters"`
	RateLimitQPS int       `yaml:"rate_limit_qps" json:"rate_limit_qps"`
}

type FallbackPolicy struct {
	Name                  string `yaml:"name" json:"name"`
	FailureWindowSeconds  int    `yaml:"failure_window_seconds" json:"failure_window_seconds"`
	AllowedFailurePercent int    `yaml:"allowed_failure_percent" json:"allowed_failure_percent"`
	WarningFailurePercent int    `yaml:"warning_failure_percent" json:"warning_failure_percent"`
	BackOffTime           int    `yaml:"back_off_time" json:"back_off_time"` // seconds
	MinimumRequests       int    `yaml:"minimum_requests" json:"minimum_requests"`
}

// DefaultFallbackPolicy applies to clusters that name no policy.
var DefaultFallbackPolicy = FallbackPolicy{
	Name:                  "default",
	FailureWindowSeconds:  60,
	AllowedFailurePercent: 50,
	WarningFailurePercent: 25,
	BackOffTime:           30,
	MinimumRequests:       1,
}

func (r *Routing) FindDatabase(name string) (*Database, bool) {
	for i := range r.Databases {
		if r.Databases[i].Name == name {
			return &r.Databases[i], true
		}
	}
	return nil, false
}

// FindFallbackPolicy resolves a policy name; the empty name resolves to DefaultFallbackPolicy.
func (r *Routing) FindFallbackPolicy(name string) (*FallbackPolicy, bool) {
	if name == "" {
		p := DefaultFallbackPolicy
		return &p, true
	}
	for i := range r.FallbackPolicies {
		if r.FallbackPolicies[i].Name == name {
			return &r.FallbackPolicies[i], true
		}
	}
	return nil, false
}
