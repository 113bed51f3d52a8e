package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Portunus/warden/internal/logging"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/store"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the stored access state record",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		b, err := openBackends(ctx, cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		st := store.NewState(b.docs, logging.WithComponent("state")).Load(ctx)
		out, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return fmt.Errorf("encode state: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print recent audit events, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		b, err := openBackends(ctx, cfg)
		if err != nil {
			return err
		}
		defer b.Close()

		events, err := b.audit.RecentEvents(ctx, limit)
		if err != nil {
			return fmt.Errorf("list audit events: %w", err)
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No audit events")
			return nil
		}

		now := time.Now()
		for _, ev := range events {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-24s %s",
				ev.RecordedAt.Local().Format(time.DateTime), ev.Name, ev.Message)
			if len(ev.Tags) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "  [%s]", strings.Join(ev.Tags, ","))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  (%s)\n", humanize.RelTime(ev.RecordedAt, now, "ago", "from now"))
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().Int("limit", 20, "Number of events to print")
}
