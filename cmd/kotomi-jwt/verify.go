package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	jwtx "github.com/bionicotaku/kotomi-jwtx"
	"github.com/bionicotaku/kotomi-jwtx/config"
)

type verifyOptions struct {
	site          string
	validation    string
	secret        string
	publicKeyFile string
	jwksURL       string
	issuer        string
	audience      string
	skew          time.Duration
	algorithms    []string
}

func newVerifyCmd(root *rootOptions) *cobra.Command {
	opts := &verifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify TOKEN",
		Short: "Verify a token and print its claims",
		Example: `  kotomi-jwt verify --secret "$SECRET" --issuer https://example.com --audience kotomi "$TOKEN"
  kotomi-jwt verify --config kotomi-jwt.yaml --site blog "$TOKEN"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, root, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.site, "site", "", "verify with the settings of this configured site")
	f.StringVar(&opts.validation, "type", string(jwtx.ValidationHMAC), "validation type: hmac, rsa, ecdsa, eddsa or jwks")
	f.StringVar(&opts.secret, "secret", "", "HMAC secret")
	f.StringVar(&opts.publicKeyFile, "public-key", "", "PEM public key file")
	f.StringVar(&opts.jwksURL, "jwks-url", "", "JWKS endpoint")
	f.StringVar(&opts.issuer, "issuer", "", "expected iss claim")
	f.StringVar(&opts.audience, "audience", "kotomi", "expected aud claim")
	f.DurationVar(&opts.skew, "skew", 0, "accepted clock skew for iat and nbf")
	f.StringSliceVar(&opts.algorithms, "alg", nil, "accepted algorithms (default: all of the validation type)")
	return cmd
}

func runVerify(cmd *cobra.Command, root *rootOptions, opts *verifyOptions, token string) error {
	cfg, logger, err := root.load()
	if err != nil {
		return err
	}

	var verifierCfg jwtx.VerifierConfig
	if opts.site != "" {
		site, ok := findSite(cfg.Sites, opts.site)
		if !ok {
			return fmt.Errorf("site %q is not configured", opts.site)
		}
		converted, err := site.JWTX(logger, nil)
		if err != nil {
			return err
		}
		if converted.AuthMode == jwtx.AuthModeNone {
			return fmt.Errorf("site %q has auth mode none; nothing to verify", opts.site)
		}
		verifierCfg = converted.Verifier
	} else {
		vt, err := jwtx.ParseValidationType(opts.validation)
		if err != nil {
			return err
		}
		verifierCfg = jwtx.VerifierConfig{
			ValidationType: vt,
			Secret:         []byte(opts.secret),
			JWKSURL:        opts.jwksURL,
			Issuer:         opts.issuer,
			Audience:       opts.audience,
			ClockSkew:      opts.skew,
			Logger:         logger,
		}
		for _, a := range opts.algorithms {
			verifierCfg.AllowedAlgorithms = append(verifierCfg.AllowedAlgorithms, jwtx.Algorithm(a))
		}
		if opts.publicKeyFile != "" {
			pem, err := readFile(opts.publicKeyFile)
			if err != nil {
				return err
			}
			verifierCfg.PublicKeyPEM = pem
		}
	}

	verifier, err := jwtx.NewVerifier(verifierCfg)
	if err != nil {
		return err
	}
	defer verifier.Close()

	claims, err := verifier.Verify(cmd.Context(), token)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "rejected: %s\n", jwtx.CodeOf(err))
		return err
	}
	payload, err := json.MarshalIndent(claims, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(payload))
	return nil
}

func findSite(sites []config.SiteConfig, id string) (config.SiteConfig, bool) {
	for _, s := range sites {
		if s.ID == id {
			return s, true
		}
	}
	return config.SiteConfig{}, false
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
