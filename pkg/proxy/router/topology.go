package router

import (
	"sort"
	"strconv"

	"github.com/pingcap/errors"
	"github.com/tidb-incubator/repogate/pkg/config"
	"github.com/tidb-incubator/repogate/pkg/proxy/health"
	"github.com/tidb-incubator/repogate/pkg/proxy/pool"
	"github.com/tidb-incubator/repogate/pkg/proxy/provider"
)

type Database struct {
	Name           string
	SequenceNumber int
	ServerType     provider.ServerType
	ConnString     string
}

func (d *Database) poolKey() pool.Key {
	return pool.Key{ServerType: d.ServerType, ConnString: d.ConnString}
}

type Cluster struct {
	SequenceNumber int
	Enabled        bool
	Policy         health.Policy
	// enabled databases only, ascending sequence number
	Databases []*Database
	selector  Selector
}

type Repository struct {
	Name         string
	RateLimitQPS int64
	// ascending sequence number
	Clusters []*Cluster
}

// Topology is the compiled, immutable form of a routing document.
type Topology struct {
	Version      string
	repositories map[string]*Repository
}

// BuildTopology validates cfg and compiles it.
func BuildTopology(cfg *config.Routing) (*Topology, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	databases := make(map[string]*Database, len(cfg.Databases))
	enabled := make(map[string]bool, len(cfg.Databases))
	for _, db := range cfg.Databases {
		serverType, err := provider.ParseServerType(db.Type)
		if err != nil {
			return nil, errors.WithMessage(err, "database "+db.Name)
		}
		databases[db.Name] = &Database{
			Name:           db.Name,
			SequenceNumber: db.SequenceNumber,
			ServerType:     serverType,
			ConnString:     db.ConnectionString,
		}
		enabled[db.Name] = db.Enabled
	}

	t := &Topology{
		Version:      cfg.Version,
		repositories: make(map[string]*Repository, len(cfg.Repositories)),
	}
	for _, repoCfg := range cfg.Repositories {
		repo := &Repository{Name: repoCfg.Name, RateLimitQPS: int64(repoCfg.RateLimitQPS)}
		for _, clusterCfg := range repoCfg.Clusters {
			policyCfg, _ := cfg.FindFallbackPolicy(clusterCfg.FallbackPolicy)
			selector, err := NewSelector(clusterCfg.SelectorType)
			if err != nil {
				return nil, errors.WithMessage(err, "repository "+repoCfg.Name+" cluster "+strconv.Itoa(clusterCfg.SequenceNumber))
			}
			cluster := &Cluster{
				SequenceNumber: clusterCfg.SequenceNumber,
				Enabled:        clusterCfg.Enabled,
				Policy:         health.PolicyFromConfig(policyCfg),
				selector:       selector,
			}
			for _, name := range clusterCfg.Databases {
				if enabled[name] {
					cluster.Databases = append(cluster.Databases, databases[name])
				}
			}
			sort.SliceStable(cluster.Databases, func(i, j int) bool {
				return cluster.Databases[i].SequenceNumber < cluster.Databases[j].SequenceNumber
			})
			repo.Clusters = append(repo.Clusters, cluster)
		}
		sort.SliceStable(repo.Clusters, func(i, j int) bool {
			return repo.Clusters[i].SequenceNumber < repo.Clusters[j].SequenceNumber
		})
		t.repositories[repo.Name] = repo
	}
	return t, nil
}

func (t *Topology) Repository(name string) (*Repository, bool) {
	repo, ok := t.repositories[name]
	return repo, ok
}

// Repositories returns every repository ordered by name.
func (t *Topology) Repositories() []*Repository {
	ret := make([]*Repository, 0, len(t.repositories))
	for _, repo := range t.repositories {
		ret = append(ret, repo)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}

func clusterKey(repo *Repository, cluster *Cluster) health.Key {
	return health.Key{Repository: repo.Name, Cluster: cluster.SequenceNumber}
}

func databaseKey(repo *Repository, cluster *Cluster, db *Database) health.Key {
	return health.Key{Repository: repo.Name, Cluster: cluster.SequenceNumber, Database: db.Name}
}

func (t *Topology) trackerKeys() map[health.Key]struct{} {
	keys := make(map[health.Key]struct{})
	for _, repo := range t.repositories {
		for _, cluster := range repo.Clusters {
			keys[clusterKey(repo, cluster)] = struct{}{}
			for _, db := range cluster.Databases {
				keys[databaseKey(repo, cluster, db)] = struct{}{}
			}
		}
	}
	return keys
}

func (t *Topology) poolKeys() map[pool.Key]struct{} {
	keys := make(map[pool.Key]struct{})
	for _, repo := range t.repositories {
		for _, cluster := range repo.Clusters {
			for _, db := range cluster.Databases {
				keys[db.poolKey()] = struct{}{}
			}
		}
	}
	return keys
}
