package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dalemusser/fieldauth/internal/app/store/signingkeys"
	"github.com/dalemusser/fieldauth/internal/app/system/credentials"
	"github.com/spf13/cobra"
)

func newKeysCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage token signing keys",
	}
	cmd.AddCommand(newKeysRotateCmd(c), newKeysListCmd(c))
	return cmd
}

func newKeysRotateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Generate a new active signing key and retire the current one",
		Long: `Generate a new active signing key and retire the current one.

Tokens signed by the retired key keep verifying until the key_retire_grace
period has passed. Running services pick up the new key when their key cache
expires (key_cache_ttl).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, done, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			ring := credentials.NewKeyring(signingkeys.New(db), 0, 0, c.log)
			kid, err := ring.Rotate(cmd.Context())
			if err != nil {
				return err
			}
			c.audit(db).KeyRotated(cmd.Context(), c.Actor, kid)
			fmt.Fprintf(cmd.OutOrStdout(), "active key %s\n", kid)
			return nil
		},
	}
}

func newKeysListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List signing keys, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, done, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			keys, err := signingkeys.New(db).List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list keys: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KID\tALG\tSTATUS\tCREATED\tRETIRED")
			for _, k := range keys {
				retired := "-"
				if k.RetiredAt != nil {
					retired = k.RetiredAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.KID, k.Alg, k.Status, k.CreatedAt.Format(time.RFC3339), retired)
			}
			return tw.Flush()
		},
	}
}
