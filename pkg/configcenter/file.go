package configcenter

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pingcap/errors"
	"github.com/tidb-incubator/repogate/pkg/config"
)

// FileConfigCenter reads the routing document from a yaml file, or from every
// .yaml file of a directory merged in name order. Files are re-read on each load.
type FileConfigCenter struct {
	path string

	mu   sync.Mutex
	last *config.Routing
}

func CreateFileConfigCenter(path string) (*FileConfigCenter, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.WithMessage(err, "create file config center error")
	}
	return &FileConfigCenter{path: path}, nil
}

func (f *FileConfigCenter) LoadRouting(ctx context.Context) (*config.Routing, error) {
	yamlFiles, err := listAllYamlFiles(f.path)
	if err != nil {
		return nil, err
	}

	fragments := make([]*config.Routing, 0, len(yamlFiles))
	for _, yamlFile := range yamlFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fileData, err := os.ReadFile(yamlFile)
		if err != nil {
			return nil, err
		}
		cfg, err := config.UnmarshalRouting(fileData)
		if err != nil {
			return nil, errors.WithMessage(err, yamlFile)
		}
		fragments = append(fragments, cfg)
	}

	ret := mergeRouting(fragments)
	f.mu.Lock()
	f.last = ret
	f.mu.Unlock()
	return ret, nil
}

// Last returns the document returned by the previous successful load.
func (f *FileConfigCenter) Last() *config.Routing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *FileConfigCenter) Close() {}

func listAllYamlFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var ret []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			ret = append(ret, filepath.Join(path, entry.Name()))
		}
	}
	sort.Strings(ret)
	return ret, nil
}
