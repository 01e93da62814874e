// Command kotomi-jwt issues, verifies and lints kotomi bearer tokens and can
// run a small relying service for manual testing.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bionicotaku/kotomi-jwtx/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "kotomi-jwt",
		Short:         "Issue and verify kotomi external-auth tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file (default ./kotomi-jwt.yaml)")

	root.AddCommand(
		newIssueCmd(opts),
		newVerifyCmd(opts),
		newLintCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// load reads the config and installs its logger as the zap global.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := config.NewLogger(cfg.Log)
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}
