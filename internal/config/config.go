package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"fleetrelay/internal/spec"
)

const (
	SupportedSchema = "v1"
	DefaultPath     = "relayd.yml"
	EnvPrefix       = "RELAY__"
)

// Defaults mirrors the deployed collector: port 12345, ten clients,
// 1 KiB slot, 100ms drain, 10s notifier.
func Defaults() spec.File {
	return spec.File{
		SchemaVersion: SupportedSchema,
		Log:           spec.LogSection{Level: "info"},
		Ingest: spec.IngestSection{
			Addr:          ":12345",
			MaxClients:    10,
			MaxLineBytes:  4096,
			ShutdownGrace: 5 * time.Second,
		},
		Handoff: spec.HandoffSection{MaxBytes: 1024},
		Relay: spec.RelaySection{
			LogPath:      "giis/gdfs.data",
			PollInterval: 100 * time.Millisecond,
		},
		Channel: spec.ChannelSection{
			Path:      "giis/ipc_to_db",
			NoReader:  "block",
			OpenRetry: 100 * time.Millisecond,
		},
		Notifier: spec.NotifierSection{
			Enabled:      true,
			FIFOPath:     "giis/ipc_notify",
			Interval:     10 * time.Second,
			Payload:      "data received\n",
			UnlinkOnExit: true,
		},
		StoreWriter: spec.StoreWriterSection{Source: "fifo", MaxLineBytes: 1024},
		Store: spec.StoreSection{
			Driver:       "sqlite",
			DSN:          "prksys_db.db",
			RecordsTable: "customer_data",
			PricesTable:  "prices",
			CreateSchema: true,
		},
		Kafka: spec.KafkaSection{
			Topic:          "fleetrelay.records",
			GroupID:        "fleetrelay-storewriter",
			Version:        "2.8.0",
			RequiredAcks:   1,
			StartFrom:      "oldest",
			CommitInterval: 5 * time.Second,
		},
		Metrics: spec.AddrSection{Addr: ":9100"},
		GRPC:    spec.AddrSection{Addr: ":7070"},
	}
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// Load merges Defaults, the YAML file at path (if present) and env-vars
// (prefix `RELAY__`, delimiter `__`, e.g. RELAY__INGEST__MAX_CLIENTS=20).
func Load(path string) (spec.File, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return spec.File{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	// schema version check (only when YAML is present)
	if sv := k.String("schema_version"); sv != "" && sv != SupportedSchema {
		return spec.File{}, fmt.Errorf("config: schema_version %q not supported (want %q)", sv, SupportedSchema)
	}

	if err := k.Load(env.Provider(EnvPrefix, "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return spec.File{}, fmt.Errorf("config: env: %w", err)
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return spec.File{}, fmt.Errorf("config: decode: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return spec.File{}, err
	}
	return cfg, nil
}

// Dump renders cfg as YAML. Secrets are omitted by their yaml tags.
func Dump(cfg spec.File) ([]byte, error) {
	return yamlv3.Marshal(cfg)
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

// applyDefaults repairs zero values an explicit file or env entry left behind.
func applyDefaults(c *spec.File) {
	d := Defaults()
	if c.SchemaVersion == "" {
		c.SchemaVersion = SupportedSchema
	}
	if c.Ingest.Addr == "" {
		c.Ingest.Addr = d.Ingest.Addr
	}
	if c.Ingest.MaxClients <= 0 {
		c.Ingest.MaxClients = d.Ingest.MaxClients
	}
	if c.Ingest.MaxLineBytes <= 0 {
		c.Ingest.MaxLineBytes = d.Ingest.MaxLineBytes
	}
	if c.Handoff.MaxBytes <= 0 {
		c.Handoff.MaxBytes = d.Handoff.MaxBytes
	}
	if c.Relay.PollInterval <= 0 {
		c.Relay.PollInterval = d.Relay.PollInterval
	}
	if len(c.Relay.Sinks) == 0 {
		c.Relay.Sinks = []string{"fifo"}
	}
	if c.Channel.NoReader == "" {
		c.Channel.NoReader = d.Channel.NoReader
	}
	if c.Channel.OpenRetry <= 0 {
		c.Channel.OpenRetry = d.Channel.OpenRetry
	}
	if c.Notifier.Interval <= 0 {
		c.Notifier.Interval = d.Notifier.Interval
	}
	if c.Notifier.Payload == "" {
		c.Notifier.Payload = d.Notifier.Payload
	}
	if c.StoreWriter.Source == "" {
		c.StoreWriter.Source = d.StoreWriter.Source
	}
	if c.StoreWriter.MaxLineBytes <= 0 {
		c.StoreWriter.MaxLineBytes = d.StoreWriter.MaxLineBytes
	}
	if c.Store.RecordsTable == "" {
		c.Store.RecordsTable = d.Store.RecordsTable
	}
	if c.Store.PricesTable == "" {
		c.Store.PricesTable = d.Store.PricesTable
	}
	if c.Kafka.CommitInterval <= 0 {
		c.Kafka.CommitInterval = d.Kafka.CommitInterval
	}
	if c.Kafka.StartFrom == "" {
		c.Kafka.StartFrom = d.Kafka.StartFrom
	}
	if c.Kafka.Version == "" {
		c.Kafka.Version = d.Kafka.Version
	}
}

func validate(c spec.File) error {
	var errs []error
	if c.Relay.LogPath == "" {
		errs = append(errs, errors.New("relay.log_path is required"))
	}
	if c.Channel.Path == "" {
		errs = append(errs, errors.New("channel.path is required"))
	}
	if c.Notifier.Enabled && c.Notifier.FIFOPath == "" {
		errs = append(errs, errors.New("notifier.fifo_path is required when the notifier is enabled"))
	}
	switch c.Channel.NoReader {
	case "block", "drop":
	default:
		errs = append(errs, fmt.Errorf("channel.no_reader %q (want block|drop)", c.Channel.NoReader))
	}
	switch c.Store.Driver {
	case "sqlite", "pgx":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q (want sqlite|pgx)", c.Store.Driver))
	}
	switch c.StoreWriter.Source {
	case "fifo":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("store_writer.source kafka needs kafka.brokers"))
		}
	default:
		errs = append(errs, fmt.Errorf("store_writer.source %q (want fifo|kafka)", c.StoreWriter.Source))
	}
	for _, s := range c.Relay.Sinks {
		if s == "kafka" && len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("relay sink kafka needs kafka.brokers"))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
