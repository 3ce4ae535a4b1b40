package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/meshflow/config"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	var envKeys bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if envKeys {
				keys := config.NewLoader().WithEnvPrefix(root.envPrefix).EnvKeys()
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(keys, "\n"))
				return nil
			}

			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			if cfg.Model.APIKey != "" {
				cfg.Model.APIKey = "<redacted>"
			}
			if cfg.Store.Redis.Password != "" {
				cfg.Store.Redis.Password = "<redacted>"
			}

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(out)

			return err
		},
	}

	cmd.Flags().BoolVar(&envKeys, "env", false, "List the environment variables that override the configuration")

	return cmd
}
