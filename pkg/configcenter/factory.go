package configcenter

import (
	"context"

	"github.com/pingcap/errors"
	"github.com/tidb-incubator/repogate/pkg/config"
)

const (
	ConfigCenterTypeFile = "file"
	ConfigCenterTypeEtcd = "etcd"
)

// ConfigCenter loads the routing document. A center may hold the document as
// several fragments; LoadRouting returns them merged but not validated.
type ConfigCenter interface {
	LoadRouting(ctx context.Context) (*config.Routing, error)
	Close()
}

func CreateConfigCenter(cfg config.ConfigCenter) (ConfigCenter, error) {
	switch cfg.Type {
	case ConfigCenterTypeFile:
		return CreateFileConfigCenter(cfg.ConfigFile.Path)
	case ConfigCenterTypeEtcd:
		return CreateEtcdConfigCenter(cfg.ConfigEtcd)
	default:
		return nil, errors.Errorf("invalid config center type: %s", cfg.Type)
	}
}

// mergeRouting concatenates fragments in order. The last non-empty version wins.
func mergeRouting(fragments []*config.Routing) *config.Routing {
	ret := &config.Routing{}
	for _, f := range fragments {
		if f.Version != "" {
			ret.Version = f.Version
		}
		ret.Databases = append(ret.Databases, f.Databases...)
		ret.Repositories = append(ret.Repositories, f.Repositories...)
		ret.FallbackPolicies = append(ret.FallbackPolicies, f.FallbackPolicies...)
	}
	return ret
}
