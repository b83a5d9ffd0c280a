package configcenter

import (
	"context"
	"path"
	"time"

	"github.com/pingcap/errors"
	"github.com/tidb-incubator/repogate/pkg/config"
	"github.com/tidb-incubator/repogate/pkg/util/logutil"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const (
	DefaultEtcdDialTimeout = 3 * time.Second
)

// EtcdConfigCenter keeps routing fragments as yaml values under basePath.
// Fragments are merged in key order.
type EtcdConfigCenter struct {
	etcdClient  *clientv3.Client
	kv          clientv3.KV
	basePath    string
	strictParse bool
}

func CreateEtcdConfigCenter(cfg config.ConfigEtcd) (*EtcdConfigCenter, error) {
	etcdConfig := clientv3.Config{
		Endpoints:   cfg.Addrs,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: DefaultEtcdDialTimeout,
	}
	etcdClient, err := clientv3.New(etcdConfig)
	if err != nil {
		return nil, errors.WithMessage(err, "create etcd config center error")
	}

	return NewEtcdConfigCenter(etcdClient, cfg.BasePath, cfg.StrictParse), nil
}

func NewEtcdConfigCenter(etcdClient *clientv3.Client, basePath string, strictParse bool) *EtcdConfigCenter {
	return &EtcdConfigCenter{
		etcdClient:  etcdClient,
		kv:          clientv3.NewKV(etcdClient),
		basePath:    basePath,
		strictParse: strictParse,
	}
}

func (e *EtcdConfigCenter) LoadRouting(ctx context.Context) (*config.Routing, error) {
	resp, err := e.kv.Get(ctx, appendSlashToDirPath(e.basePath), clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, err
	}

	fragments := make([]*config.Routing, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		cfg, err := config.UnmarshalRouting(kv.Value)
		if err != nil {
			if e.strictParse {
				return nil, errors.WithMessage(err, string(kv.Key))
			}
			logutil.BgLogger().Warn("parse routing fragment error", zap.Error(err), zap.ByteString("key", kv.Key))
			continue
		}
		fragments = append(fragments, cfg)
	}
	return mergeRouting(fragments), nil
}

// PutFragment stores one routing fragment under basePath/name.
func (e *EtcdConfigCenter) PutFragment(ctx context.Context, name string, cfg *config.Routing) error {
	data, err := config.MarshalRouting(cfg)
	if err != nil {
		return err
	}
	_, err = e.kv.Put(ctx, getFragmentPath(e.basePath, name), string(data))
	return err
}

func (e *EtcdConfigCenter) DeleteFragment(ctx context.Context, name string) error {
	_, err := e.kv.Delete(ctx, getFragmentPath(e.basePath, name))
	return err
}

func (e *EtcdConfigCenter) Close() {
	if err := e.etcdClient.Close(); err != nil {
		logutil.BgLogger().Error("close etcd client error", zap.Error(err))
	}
}

func getFragmentPath(basePath, name string) string {
	return path.Join(basePath, name)
}

// avoid base dir path prefix equal
func appendSlashToDirPath(dir string) string {
	if len(dir) == 0 {
		return ""
	}
	if dir[len(dir)-1] == '/' {
		return dir
	}
	return dir + "/"
}
