package config

import (
	"github.com/goccy/go-yaml"
	"github.com/pingcap/errors"
)

const (
	DefaultAdminAddr        = "0.0.0.0:6001"
	DefaultConfigCenterType = "file"
)

func UnmarshalRouting(data []byte) (*Routing, error) {
	var cfg Routing
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WithMessage(err, "unmarshal routing")
	}
	return &cfg, nil
}

func MarshalRouting(cfg *Routing) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// UnmarshalProxyConfig parses a proxy config and fills unset fields with defaults.
func UnmarshalProxyConfig(data []byte) (*Proxy, error) {
	var cfg Proxy
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WithMessage(err, "unmarshal proxy config")
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func MarshalProxyConfig(cfg *Proxy) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func (p *Proxy) applyDefaults() {
	if p.AdminServer.Addr == "" {
		p.AdminServer.Addr = DefaultAdminAddr
	}
	if p.ConfigCenter.Type == "" {
		p.ConfigCenter.Type = DefaultConfigCenterType
	}
}
