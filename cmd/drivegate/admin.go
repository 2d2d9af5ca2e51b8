package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"drivegate/pkg/audit"
	"drivegate/pkg/drive"
	"drivegate/pkg/gateway"
	"drivegate/pkg/rpc"
	"drivegate/pkg/types"
)

func grantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grants",
		Short: "Inspect and revoke cached permission decisions",
	}
	cmd.AddCommand(grantsListCmd(), grantsRevokeCmd())
	return cmd
}

func grantsListCmd() *cobra.Command {
	var origin string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List grants, optionally for one origin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *rpc.Client) error {
				grants, err := c.ListGrants(ctx, origin)
				if err != nil {
					return err
				}
				if len(grants) == 0 {
					fmt.Println(mutedStyle.Render("No grants"))
					return nil
				}
				t := newTable("ORIGIN", "ACTION", "DRIVE", "DECISION", "GRANTED")
				for _, g := range grants {
					decision := "deny"
					if g.Allowed {
						decision = "allow"
					}
					t.Row(g.Origin, string(g.Key.Action), g.Key.Drive.URL(),
						outcomeStyle(g.Allowed).Render(decision), g.GrantedAt.Format(time.DateTime))
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&origin, "origin", "", "only show grants of this origin")
	return cmd
}

func grantsRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <origin> <action> <drive-url>",
		Short: "Revoke a grant so the next request prompts again",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := types.ActionKind(args[1])
			switch action {
			case types.ActionWrite, types.ActionCreate, types.ActionDelete:
			default:
				return fmt.Errorf("unknown action %q", args[1])
			}

			return withClient(func(ctx context.Context, c *rpc.Client) error {
				canonical, err := c.LoadDrive(ctx, args[2], gateway.OpOptions{})
				if err != nil {
					return err
				}
				u, err := drive.ParseURL(canonical)
				if err != nil {
					return err
				}
				if err := c.RevokeGrant(ctx, args[0], types.GrantKey{Action: action, Drive: u.Key}); err != nil {
					return err
				}
				fmt.Printf("Revoked %s for %s on %s\n", action, args[0], u.Key.URL())
				return nil
			})
		},
	}
}

func auditCmd() *cobra.Command {
	var (
		origin  string
		action  string
		outcome string
		since   time.Duration
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := audit.Filter{
				Origin:  origin,
				Action:  action,
				Outcome: types.Outcome(outcome),
				Limit:   limit,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			return withClient(func(ctx context.Context, c *rpc.Client) error {
				entries, err := c.ListAudit(ctx, filter)
				if err != nil {
					return err
				}
				t := newTable("TIME", "ORIGIN", "ACTION", "TARGET", "OUTCOME", "DURATION")
				for _, e := range entries {
					result := string(e.Outcome)
					if e.ErrorCode != "" {
						result += " (" + e.ErrorCode + ")"
					}
					t.Row(e.Time.Format(time.DateTime), e.Origin, e.Action, e.Target,
						outcomeStyle(e.Outcome == types.OutcomeSuccess).Render(result),
						e.Duration.Round(time.Millisecond).String())
				}
				fmt.Println(t.Render())
				fmt.Println(mutedStyle.Render(fmt.Sprintf("%d entries", len(entries))))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&origin, "origin", "", "filter by origin")
	cmd.Flags().StringVar(&action, "action", "", "filter by action, e.g. writeFile")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries")
	return cmd
}
