package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hupe1980/meshflow"
	"github.com/hupe1980/meshflow/config"
)

// metricsRegistry receives the collectors of a command; nil selects the
// default registerer.
var metricsRegistry prometheus.Registerer

type rootOptions struct {
	configPath string
	envPrefix  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "meshflow",
		Short:         "meshflow runs composable orchestration pipelines",
		Long:          `meshflow builds orchestration trees from YAML pipeline documents and runs them against persistent sessions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the meshflow configuration file")
	cmd.PersistentFlags().StringVar(&opts.envPrefix, "env-prefix", config.DefaultEnvPrefix, "Prefix of environment overrides")

	cmd.AddCommand(
		newRunCmd(opts),
		newValidateCmd(),
		newSessionsCmd(opts),
		newConfigCmd(opts),
	)

	return cmd
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	return config.NewLoader().
		WithConfigPath(o.configPath).
		WithEnvPrefix(o.envPrefix).
		Load()
}

func (o *rootOptions) stack() (*meshflow.Stack, *config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	reg := metricsRegistry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	stack, err := meshflow.FromConfig(cfg, reg)
	if err != nil {
		return nil, nil, err
	}

	return stack, cfg, nil
}
