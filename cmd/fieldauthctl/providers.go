package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dalemusser/fieldauth/internal/app/system/providers"
	"github.com/spf13/cobra"
)

func newProvidersCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect identity provider configuration",
	}
	cmd.AddCommand(newProvidersCheckCmd(c))
	return cmd
}

func newProvidersCheckCmd(c *cli) *cobra.Command {
	var (
		build   bool
		baseURL string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the AUTH_* provider settings in the environment",
		Long: `Validate the AUTH_* provider settings in the environment and print the
result. Every problem is listed and the command exits non-zero when any is
found. With --build the adapters are constructed as the service would at
startup, which also reads SAML key material.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkProviders(cmd, os.Environ(), c, build, baseURL)
		},
	}
	cmd.Flags().BoolVar(&build, "build", false, "also construct the adapters")
	cmd.Flags().StringVar(&baseURL, "base-url", envOr("FIELDAUTH_BASE_URL", "http://localhost:3000"), "public origin used for callback URLs")
	return cmd
}

func checkProviders(cmd *cobra.Command, environ []string, c *cli, build bool, baseURL string) error {
	out := cmd.OutOrStdout()

	cfg, err := providers.LoadFromEnvironment(environ, c.log)
	if err != nil {
		var verr *providers.ValidationError
		if errors.As(err, &verr) {
			for _, p := range verr.Problems {
				fmt.Fprintf(out, "error: %s\n", p)
			}
			return fmt.Errorf("%d provider configuration problem(s)", len(verr.Problems))
		}
		return err
	}

	fmt.Fprintf(out, "local sign-in: %v\n", cfg.LocalEnabled)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tDISPLAY NAME\tCALLBACK")
	for _, p := range cfg.Sorted() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Family, p.DisplayName, p.CallbackPath)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !build {
		return nil
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	reg, err := providers.NewBuilder(cfg, providers.Env{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Log:        c.log,
	}).Build(ctx)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}
	fmt.Fprintf(out, "built %d federated provider(s)\n", len(reg.Federated()))
	return nil
}
