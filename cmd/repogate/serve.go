package main

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
	"github.com/tidb-incubator/repogate/pkg/config"
	"github.com/tidb-incubator/repogate/pkg/proxy"
	"github.com/tidb-incubator/repogate/pkg/util/logutil"
	"go.uber.org/zap"
)

const defaultConfigPath = "conf/repogate.yaml"

func newServeCmd() *cobra.Command {
	var configFilePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the proxy and its admin api",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configFilePath)
		},
	}
	cmd.Flags().StringVar(&configFilePath, "config", defaultConfigPath, "proxy config file path")
	return cmd
}

func loadProxyConfig(path string) (*config.Proxy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithMessage(err, "read config file")
	}
	cfg, err := config.UnmarshalProxyConfig(data)
	if err != nil {
		return nil, errors.WithMessage(err, "parse config file")
	}
	return cfg, nil
}

func serve(configFilePath string) error {
	proxyCfg, err := loadProxyConfig(configFilePath)
	if err != nil {
		return err
	}

	if _, err := logutil.InitLogger(&logutil.Config{
		Level:  proxyCfg.Log.Level,
		Format: proxyCfg.Log.Format,
		File: logutil.FileConfig{
			Filename:   proxyCfg.Log.LogFile.Filename,
			MaxSize:    proxyCfg.Log.LogFile.MaxSize,
			MaxDays:    proxyCfg.Log.LogFile.MaxDays,
			MaxBackups: proxyCfg.Log.LogFile.MaxBackups,
		},
	}); err != nil {
		return errors.WithMessage(err, "init logger")
	}

	p := proxy.NewProxy(proxyCfg)
	if err := p.Init(); err != nil {
		p.Close()
		return errors.WithMessage(err, "proxy init")
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
		syscall.SIGPIPE,
		syscall.SIGUSR1,
	)

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		for {
			sig := <-sc
			if sig == syscall.SIGINT || sig == syscall.SIGTERM || sig == syscall.SIGQUIT {
				logutil.BgLogger().Warn("get os signal, close proxy", zap.String("signal", sig.String()))
				p.Close()
				return
			}
			// SIGUSR1 reloads routing from the config center
			if sig == syscall.SIGUSR1 {
				reload(p)
				continue
			}
			logutil.BgLogger().Warn("ignore os signal", zap.String("signal", sig.String()))
		}
	}()

	if err := p.Run(); err != nil {
		logutil.BgLogger().Error("proxy run error, exit", zap.Error(err))
	}

	wg.Wait()
	return nil
}

func reload(p *proxy.Proxy) {
	if err := p.PrepareReload(); err != nil {
		logutil.BgLogger().Error("prepare routing reload failed", zap.Error(err))
		return
	}
	if err := p.CommitReload(); err != nil {
		logutil.BgLogger().Error("commit routing reload failed", zap.Error(err))
	}
}
