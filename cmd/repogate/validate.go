package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
	"github.com/tidb-incubator/repogate/pkg/config"
	"github.com/tidb-incubator/repogate/pkg/configcenter"
	"github.com/tidb-incubator/repogate/pkg/proxy/router"
)

func newValidateCmd() *cobra.Command {
	var (
		configFilePath  string
		routingFilePath string
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "load and check the routing config without serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			routing, err := loadRouting(configFilePath, routingFilePath)
			if err != nil {
				return err
			}
			topo, err := router.BuildTopology(routing)
			if err != nil {
				return errors.WithMessage(err, "invalid routing")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "routing %q ok: %d repositories\n", topo.Version, len(topo.Repositories()))
			return nil
		},
	}
	cmd.Flags().StringVar(&configFilePath, "config", defaultConfigPath, "proxy config file path")
	cmd.Flags().StringVar(&routingFilePath, "routing", "", "routing file or directory, overrides the config center")
	return cmd
}

func loadRouting(configFilePath, routingFilePath string) (*config.Routing, error) {
	ccCfg := config.ConfigCenter{
		Type:       configcenter.ConfigCenterTypeFile,
		ConfigFile: config.ConfigFile{Path: routingFilePath},
	}
	if routingFilePath == "" {
		proxyCfg, err := loadProxyConfig(configFilePath)
		if err != nil {
			return nil, err
		}
		ccCfg = proxyCfg.ConfigCenter
	}

	cc, err := configcenter.CreateConfigCenter(ccCfg)
	if err != nil {
		return nil, err
	}
	defer cc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return cc.LoadRouting(ctx)
}
