package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"fleetrelay/internal/config"
	"fleetrelay/internal/engine"
	"fleetrelay/internal/logging"
	"fleetrelay/internal/spec"
)

// params is shared by every sub-command.
type params struct {
	configPath string
}

func (p *params) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&p.configPath, "config", "c", config.DefaultPath, "path to relayd.yml (missing file means defaults)")
}

// load reads the config and switches logging to its settings.
func (p *params) load() (spec.File, error) {
	cfg, err := config.Load(p.configPath)
	if err != nil {
		return spec.File{}, err
	}
	logging.Configure(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	return cfg, nil
}

// RootCmd is the relayd command tree.
func RootCmd() *cobra.Command {
	p := &params{}
	cmd := &cobra.Command{
		Use:   "relayd",
		Short: "relayd collects vehicle telemetry over TCP and relays it into the store.",
		Long: `relayd collects vehicle telemetry over TCP and relays it into the store.

The collector accepts producer lines, appends each to a durable log and
forwards it over the ordered channel. The store writer reads that channel,
decodes each line and inserts it.

Configuration comes from relayd.yml (see --config) overlaid with RELAY__*
environment variables, e.g. RELAY__INGEST__MAX_CLIENTS=20.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	p.addFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		serveCmd(p, "run", "Run the collector and the store writer in one process.", engine.Roles{Collector: true, StoreWriter: true}),
		serveCmd(p, "collector", "Run only the collector: ingest, relay and notifier.", engine.Roles{Collector: true}),
		serveCmd(p, "storewriter", "Run only the store writer.", engine.Roles{StoreWriter: true}),
		replayCmd(p),
		pricesCmd(p),
		healthCmd(p),
		configCmd(p),
	)
	return cmd
}
