package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dalemusser/fieldauth/internal/app/store/invites"
	"github.com/dalemusser/fieldauth/internal/domain/models"
	"github.com/spf13/cobra"
)

func newInvitesCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invites",
		Short: "Create, list and revoke registration invites",
	}
	cmd.AddCommand(newInviteCreateCmd(c), newInviteListCmd(c), newInviteRevokeCmd(c))
	return cmd
}

func newInviteCreateCmd(c *cli) *cobra.Command {
	var (
		resource string
		role     string
		uses     int
		expires  time.Duration
		code     string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an invite granting a role on a resource",
		Example: `  fieldauthctl invites create --resource P1 --role user --uses 30 --expires 72h
  fieldauthctl invites create --resource P1 --role admin --code SPRING-STAFF`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if resource == "" || role == "" {
				return fmt.Errorf("--resource and --role are required")
			}
			if uses < 0 {
				return fmt.Errorf("--uses must be 0 (unlimited) or more")
			}

			db, done, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			inv := &models.Invite{
				ID:         code,
				ResourceID: resource,
				Role:       role,
				Remaining:  uses,
				CreatedBy:  c.Actor,
			}
			if expires > 0 {
				at := time.Now().UTC().Add(expires)
				inv.ExpiresAt = &at
			}
			if err := invites.New(db).Create(cmd.Context(), inv); err != nil {
				return fmt.Errorf("create invite: %w", err)
			}
			c.audit(db).InviteCreated(cmd.Context(), c.Actor, inv.ID, inv.ResourceID, inv.Role, inv.Remaining)

			fmt.Fprintln(cmd.OutOrStdout(), inv.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "resource the invite grants access to")
	cmd.Flags().StringVar(&role, "role", "", "role granted on the resource")
	cmd.Flags().IntVar(&uses, "uses", 1, "number of registrations allowed (0 is unlimited)")
	cmd.Flags().DurationVar(&expires, "expires", 0, "lifetime, e.g. 72h (0 never expires)")
	cmd.Flags().StringVar(&code, "code", "", "use this code instead of a generated one")
	return cmd
}

func newInviteListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List invites that have not been fully used",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, done, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			list, err := invites.New(db).List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list invites: %w", err)
			}
			writeInvites(cmd, list, time.Now().UTC())
			return nil
		},
	}
}

func writeInvites(cmd *cobra.Command, list []models.Invite, now time.Time) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tRESOURCE\tROLE\tREMAINING\tEXPIRES\tCREATED BY")
	for _, inv := range list {
		remaining := fmt.Sprint(inv.Remaining)
		if inv.Unlimited() {
			remaining = "unlimited"
		}
		expires := "never"
		if inv.ExpiresAt != nil {
			expires = inv.ExpiresAt.Format(time.RFC3339)
			if !inv.Usable(now) {
				expires += " (expired)"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", inv.ID, inv.ResourceID, inv.Role, remaining, expires, inv.CreatedBy)
	}
	_ = tw.Flush()
}

func newInviteRevokeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke CODE",
		Short: "Delete an invite so it can no longer be used",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, done, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			if err := invites.New(db).Revoke(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("revoke %s: %w", args[0], err)
			}
			c.audit(db).InviteRevoked(cmd.Context(), c.Actor, args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
			return nil
		},
	}
}
