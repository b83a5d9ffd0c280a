package config

import (
	"fmt"

	"github.com/pingcap/errors"
	"github.com/tidb-incubator/repogate/pkg/util/datastructure"
)

var (
	ErrEmptyName               = errors.New("empty name")
	ErrDuplicatedRepository    = errors.New("duplicated repository")
	ErrDuplicatedDatabase      = errors.New("duplicated database")
	ErrDuplicatedPolicy        = errors.New("duplicated fallback policy")
	ErrUnknownDatabase         = errors.New("unknown database")
	ErrUnknownFallbackPolicy   = errors.New("unknown fallback policy")
	ErrInvalidFailureWindow    = errors.New("invalid failure window")
	ErrInvalidFailurePercent   = errors.New("invalid failure percent")
	ErrInvalidBackOffTime      = errors.New("invalid back off time")
	ErrInvalidMinimumRequests  = errors.New("invalid minimum requests")
	ErrDuplicatedClusterNumber = errors.New("duplicated cluster sequence")
)

// Validate checks referential integrity and value ranges. It does not require a
// repository to own an enabled cluster: such a repository is valid config and fails
// at routing time.
func (r *Routing) Validate() error {
	if err := r.validatePolicies(); err != nil {
		return err
	}
	if err := r.validateDatabases(); err != nil {
		return err
	}
	return r.validateRepositories()
}

func (r *Routing) validatePolicies() error {
	names := make([]string, 0, len(r.FallbackPolicies))
	for i := range r.FallbackPolicies {
		p := &r.FallbackPolicies[i]
		if p.Name == "" {
			return errors.WithMessage(ErrEmptyName, "fallback policy")
		}
		if err := p.Validate(); err != nil {
			return errors.WithMessage(err, fmt.Sprintf("fallback policy %s", p.Name))
		}
		names = append(names, p.Name)
	}
	if dup := datastructure.Duplicates(names); len(dup) != 0 {
		return errors.WithMessage(ErrDuplicatedPolicy, fmt.Sprintf("%v", dup))
	}
	return nil
}

func (p *FallbackPolicy) Validate() error {
	if p.FailureWindowSeconds <= 0 {
		return ErrInvalidFailureWindow
	}
	if p.AllowedFailurePercent < 0 || p.AllowedFailurePercent > 100 {
		return errors.WithMessage(ErrInvalidFailurePercent, "allowed")
	}
	if p.WarningFailurePercent < 0 || p.WarningFailurePercent > p.AllowedFailurePercent {
		return errors.WithMessage(ErrInvalidFailurePercent, "warning")
	}
	if p.BackOffTime <= 0 {
		return ErrInvalidBackOffTime
	}
	if p.MinimumRequests < 0 {
		return ErrInvalidMinimumRequests
	}
	return nil
}

func (r *Routing) validateDatabases() error {
	names := make([]string, 0, len(r.Databases))
	for _, db := range r.Databases {
		if db.Name == "" {
			return errors.WithMessage(ErrEmptyName, "database")
		}
		names = append(names, db.Name)
	}
	if dup := datastructure.Duplicates(names); len(dup) != 0 {
		return errors.WithMessage(ErrDuplicatedDatabase, fmt.Sprintf("%v", dup))
	}
	return nil
}

func (r *Routing) validateRepositories() error {
	names := make([]string, 0, len(r.Repositories))
	databases := make(map[string]struct{}, len(r.Databases))
	for _, db := range r.Databases {
		databases[db.Name] = struct{}{}
	}

	for _, repo := range r.Repositories {
		if repo.Name == "" {
			return errors.WithMessage(ErrEmptyName, "repository")
		}
		names = append(names, repo.Name)

		sequences := make([]int, 0, len(repo.Clusters))
		for _, cluster := range repo.Clusters {
			sequences = append(sequences, cluster.SequenceNumber)
			if _, ok := r.FindFallbackPolicy(cluster.FallbackPolicy); !ok {
				return errors.WithMessage(ErrUnknownFallbackPolicy, fmt.Sprintf("repository %s: %s", repo.Name, cluster.FallbackPolicy))
			}
			for _, dbName := range cluster.Databases {
				if _, ok := databases[dbName]; !ok {
					return errors.WithMessage(ErrUnknownDatabase, fmt.Sprintf("repository %s: %s", repo.Name, dbName))
				}
			}
		}
		if dup := datastructure.Duplicates(sequences); len(dup) != 0 {
			return errors.WithMessage(ErrDuplicatedClusterNumber, fmt.Sprintf("repository %s: %v", repo.Name, dup))
		}
	}

	if dup := datastructure.Duplicates(names); len(dup) != 0 {
		return errors.WithMessage(ErrDuplicatedRepository, fmt.Sprintf("%v", dup))
	}
	return nil
}
