package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/danmuck/wotlink/internal/config"
	"github.com/danmuck/wotlink/internal/logging"
	"github.com/danmuck/wotlink/internal/node"
	"github.com/danmuck/wotlink/internal/observability"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "cmd/nodectl/config.toml"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "nodectl",
		Short:         "Run a wotlink node or send one-off messages to its peer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "node config path")

	root.AddCommand(newRunCmd(opts), newSendCmd(opts), newConfigCmd())
	return root
}

// load reads the node config. A missing file at the default path means
// defaults; a missing explicit path is an error.
func (o *rootOptions) load(cmd *cobra.Command) (config.NodeConfig, error) {
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(o.configPath); errors.Is(err, fs.ErrNotExist) {
			return config.DefaultNodeConfig(), nil
		}
	}
	return config.LoadNodeConfig(o.configPath)
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the node service until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			logging.ConfigureRuntime()
			observability.InitLogger("nodectl", cfg.Log)
			return node.Run(cfg)
		},
	}
}
