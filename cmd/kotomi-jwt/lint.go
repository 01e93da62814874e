package main

import (
	"fmt"

	"github.com/spf13/cobra"

	jwtx "github.com/bionicotaku/kotomi-jwtx"
)

func newLintCmd(root *rootOptions) *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Report weak secrets and discouraged settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if cmd.Flags().Changed("secret") {
				printWarnings(cmd, "secret", jwtx.LintSecret([]byte(secret)))
				return nil
			}

			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			if cfg.Issuer.HasSigningKey() {
				issuerCfg, err := cfg.Issuer.JWTX(logger, nil)
				if err != nil {
					return err
				}
				printWarnings(cmd, "issuer", issuerCfg.Lint())
			}
			for _, site := range cfg.Sites {
				converted, err := site.JWTX(logger, nil)
				if err != nil {
					return fmt.Errorf("site %q: %w", site.ID, err)
				}
				if converted.AuthMode == jwtx.AuthModeNone {
					fmt.Fprintf(out, "site %s: auth mode none accepts every request\n", site.ID)
					continue
				}
				printWarnings(cmd, "site "+site.ID, converted.Verifier.Lint())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "lint this secret instead of the configuration")
	return cmd
}

func printWarnings(cmd *cobra.Command, scope string, ws jwtx.Warnings) {
	out := cmd.OutOrStdout()
	if len(ws) == 0 {
		fmt.Fprintf(out, "%s: ok\n", scope)
		return
	}
	for _, w := range ws {
		fmt.Fprintf(out, "%s: %s: %s\n", scope, w.Code, w.Message)
	}
}
