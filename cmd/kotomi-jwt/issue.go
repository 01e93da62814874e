package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jwtx "github.com/bionicotaku/kotomi-jwtx"
)

type issueOptions struct {
	secret         string
	privateKeyFile string
	alg            string
	issuer         string
	audience       string
	ttl            time.Duration
	kid            string
	identity       jwtx.Identity
	endpoint       string
	quiet          bool
}

func newIssueCmd(root *rootOptions) *cobra.Command {
	opts := &issueOptions{}
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a token for a user",
		Example: `  kotomi-jwt issue --secret "$SECRET" --issuer https://example.com --user-id user-12345 --name "Jane Doe"
  kotomi-jwt issue --private-key private.pem --alg RS256 --user-id user-12345`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIssue(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.secret, "secret", "", "HMAC secret (overrides issuer.secret)")
	f.StringVar(&opts.privateKeyFile, "private-key", "", "PEM private key file (overrides issuer.private_key_file)")
	f.StringVar(&opts.alg, "alg", "", "signature algorithm, e.g. HS256, RS256, ES256, EdDSA")
	f.StringVar(&opts.issuer, "issuer", "", "iss claim")
	f.StringVar(&opts.audience, "audience", "", "aud claim")
	f.DurationVar(&opts.ttl, "ttl", 0, "token lifetime")
	f.StringVar(&opts.kid, "kid", "", "kid header")
	f.StringVar(&opts.identity.ID, "user-id", "", "user id, also used as sub")
	f.StringVar(&opts.identity.Name, "name", "", "user display name")
	f.StringVar(&opts.identity.Email, "email", "", "user email")
	f.StringVar(&opts.identity.AvatarURL, "avatar-url", "", "user avatar URL")
	f.StringVar(&opts.identity.ProfileURL, "profile-url", "", "user profile URL")
	f.BoolVar(&opts.identity.Verified, "verified", false, "mark the user as verified")
	f.StringSliceVar(&opts.identity.Roles, "roles", nil, "user roles")
	f.StringVar(&opts.endpoint, "endpoint", "https://kotomi.example.com/api/v1/site/{siteId}/page/{pageId}/comments", "URL used in the printed curl example")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "print only the token")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func runIssue(cmd *cobra.Command, root *rootOptions, opts *issueOptions) error {
	cfg, logger, err := root.load()
	if err != nil {
		return err
	}
	issuerCfg, err := cfg.Issuer.JWTX(logger, nil)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("secret") {
		issuerCfg.Secret = []byte(opts.secret)
		issuerCfg.PrivateKeyPEM = nil
	}
	if flags.Changed("private-key") {
		material, err := readFile(opts.privateKeyFile)
		if err != nil {
			return err
		}
		issuerCfg.PrivateKeyPEM = material
		issuerCfg.Secret = nil
	}
	if flags.Changed("alg") {
		issuerCfg.Algorithm = jwtx.Algorithm(opts.alg)
	}
	if flags.Changed("issuer") {
		issuerCfg.Issuer = opts.issuer
	}
	if flags.Changed("audience") {
		issuerCfg.Audience = opts.audience
	}
	if flags.Changed("ttl") {
		issuerCfg.TTL = opts.ttl
	}
	if flags.Changed("kid") {
		issuerCfg.KeyID = opts.kid
	}

	issuer, err := jwtx.NewIssuer(issuerCfg)
	if err != nil {
		return err
	}
	token, claims, err := issuer.Issue(opts.identity)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.quiet {
		fmt.Fprintln(out, token)
		return nil
	}
	payload, err := json.MarshalIndent(claims, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Token (%s):\n%s\n\n", issuer.Algorithm(), token)
	fmt.Fprintf(out, "Claims:\n%s\n\n", payload)
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintf(out, "curl -X POST %s \\\n", opts.endpoint)
	fmt.Fprintf(out, "  -H \"Authorization: Bearer %s\" \\\n", token)
	fmt.Fprintln(out, "  -H \"Content-Type: application/json\" \\")
	fmt.Fprintln(out, "  -d '{\"text\": \"This is my comment\"}'")
	return nil
}
