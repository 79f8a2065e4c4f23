package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"fleetrelay/internal/config"
	"fleetrelay/internal/engine"
	"fleetrelay/internal/storewriter"
	"fleetrelay/internal/telemetry"
	"fleetrelay/internal/transport"
)

// Re-insert every complete line of the durable log.
func replayCmd(p *params) *cobra.Command {
	return &cobra.Command{
		Use:   "replay [log-path]",
		Short: "Replay the durable log into the store.",
		Long: `Replay pushes each complete line of the durable log through the store
writer's decode and insert path. Rows are appended, not deduplicated.
The log path defaults to relay.log_path.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := p.load()
			if err != nil {
				return err
			}
			path := cfg.Relay.LogPath
			if len(args) == 1 {
				path = args[0]
			}

			ctx := contextOf(cmd)
			st, err := engine.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			w := storewriter.New(nil, st, telemetry.Discard())
			stats, err := w.Replay(ctx, path)
			fmt.Fprintf(cmd.OutOrStdout(), "lines=%d inserted=%d rejected=%d failed=%d\n",
				stats.Lines, stats.Inserted, stats.Rejected, stats.Failed)
			return err
		},
	}
}

// Print the price table.
func pricesCmd(p *params) *cobra.Command {
	return &cobra.Command{
		Use:   "prices",
		Short: "List every location and its current price.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := p.load()
			if err != nil {
				return err
			}
			ctx := contextOf(cmd)
			st, err := engine.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			prices, err := st.ListPrices(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LOCATION\tPRICE")
			for _, pr := range prices {
				fmt.Fprintf(tw, "%s\t%.2f\n", pr.Location, pr.Price)
			}
			return tw.Flush()
		},
	}
}

// Query a running relayd's health endpoint.
func healthCmd(p *params) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health [component]",
		Short: "Check a running relayd (ingest, relay, notifier, storewriter; empty for the process).",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := p.load()
			if err != nil {
				return err
			}
			component := ""
			if len(args) == 1 {
				component = args[0]
			}
			timeout, err := cmd.Flags().GetDuration("timeout")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(contextOf(cmd), timeout)
			defer cancel()
			st, err := transport.Check(ctx, dialAddr(cfg.GRPC.Addr), component)
			if err != nil {
				return err
			}
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return err
			}
			if asJSON {
				out, err := protojson.Marshal(&healthpb.HealthCheckResponse{Status: st})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), st.String())
			}
			if st != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("%q is %s", component, st)
			}
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 3*time.Second, "give up after this long")
	cmd.Flags().Bool("json", false, "print the health response as JSON")
	return cmd
}

// Print the effective configuration.
func configCmd(p *params) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration (file, env and defaults merged).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := p.load()
			if err != nil {
				return err
			}
			out, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// dialAddr turns a listen address like ":7070" into something dialable.
func dialAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
