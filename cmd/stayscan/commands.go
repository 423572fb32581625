package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dukerupert/stayscan/internal/database"
	"github.com/dukerupert/stayscan/internal/plan"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer db.Close()

		v, err := database.Version(cmd.Context(), db)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "database %s at version %d\n", cfg.DatabasePath, v)
		return nil
	},
}

var reconcileUser int64

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Pull subscriptions from Stripe into the local store",
	Long: `Reconcile fetches the live Stripe subscription for every user with a linked
subscription, or only for --user, and writes the result locally.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.reconciler.Sweep(cmd.Context(), reconcileUser)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "checked %d, updated %d, failed %d\n", res.Checked, res.Updated, res.Failed)
		if res.Failed > 0 {
			return fmt.Errorf("%d subscriptions failed to reconcile", res.Failed)
		}
		return nil
	},
}

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Inspect and replay Stripe webhook events",
}

var replayEventID string

var webhookReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Fetch an event from Stripe and process it again",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		event, err := a.stripe.GetEvent(cmd.Context(), replayEventID)
		if err != nil {
			return err
		}
		outcome, err := a.webhooks.Replay(cmd.Context(), *event)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", event.ID, event.Type, outcome)
		return nil
	},
}

var plansJSON bool

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "List the subscription plans and their Stripe price ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := plan.New(plan.Overrides{
			Basic:      cfg.StripePriceBasic,
			Pro:        cfg.StripePricePro,
			Enterprise: cfg.StripePriceEnterprise,
		})
		if plansJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(catalog.All())
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PLAN\tPRICE\tPROPERTIES\tPRICE ID")
		for _, p := range catalog.All() {
			fmt.Fprintf(tw, "%s\t%.2f\t%d\t%s\n", p.Name, p.Price, p.PropertyLimit, p.PriceID)
		}
		return tw.Flush()
	},
}

func init() {
	reconcileCmd.Flags().Int64Var(&reconcileUser, "user", 0, "only reconcile this local user id")

	webhookReplayCmd.Flags().StringVar(&replayEventID, "event", "", "Stripe event id (evt_...)")
	webhookReplayCmd.MarkFlagRequired("event")
	webhookCmd.AddCommand(webhookReplayCmd)

	plansCmd.Flags().BoolVar(&plansJSON, "json", false, "print JSON")
}

