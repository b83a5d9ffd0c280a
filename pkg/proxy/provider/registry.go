package provider

import (
	"io"
	"sync"

	"github.com/pingcap/errors"
	"github.com/tidb-incubator/repogate/pkg/util/logutil"
	"go.uber.org/zap"
)

type Registry struct {
	mu        sync.RWMutex
	providers map[ServerType]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[ServerType]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Type()] = p
	}
	return r
}

// NewDefaultRegistry registers a database/sql provider for every server type.
// overrides maps a server type name to a database/sql driver name.
func NewDefaultRegistry(overrides map[string]string) (*Registry, error) {
	drivers := make(map[ServerType]string, len(DefaultDrivers))
	for t, d := range DefaultDrivers {
		drivers[t] = d
	}
	for name, driverName := range overrides {
		t, err := ParseServerType(name)
		if err != nil {
			return nil, errors.WithMessage(err, "provider driver override")
		}
		drivers[t] = driverName
	}

	r := NewRegistry()
	for t, driverName := range drivers {
		r.Register(NewSQLProvider(t, driverName))
	}
	return r, nil
}

// Register replaces any provider of the same type.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Type()] = p
}

func (r *Registry) Get(t ServerType) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[t]
	if !ok {
		return nil, errors.WithMessage(ErrNoProvider, string(t))
	}
	return p, nil
}

// Close closes every provider holding resources.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t, p := range r.providers {
		c, ok := p.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			logutil.BgLogger().Error("close provider error", zap.String("server_type", string(t)), zap.Error(err))
		}
	}
}
