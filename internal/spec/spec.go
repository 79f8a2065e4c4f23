// Package spec is the on-disk shape of relayd.yml.
package spec

import "time"

type LogSection struct {
	Level string `koanf:"level" yaml:"level"`
	JSON  bool   `koanf:"json" yaml:"json"`
}

type IngestSection struct {
	Addr          string        `koanf:"addr" yaml:"addr"`
	MaxClients    int           `koanf:"max_clients" yaml:"max_clients"`
	MaxLineBytes  int           `koanf:"max_line_bytes" yaml:"max_line_bytes"`
	ShutdownGrace time.Duration `koanf:"shutdown_grace" yaml:"shutdown_grace"`
}

type HandoffSection struct {
	MaxBytes int `koanf:"max_bytes" yaml:"max_bytes"`
}

type RelaySection struct {
	LogPath      string        `koanf:"log_path" yaml:"log_path"`
	PollInterval time.Duration `koanf:"poll_interval" yaml:"poll_interval"`
	// Output channels in write order. "fifo" is the ordered channel.
	Sinks []string `koanf:"sinks" yaml:"sinks"`
}

type ChannelSection struct {
	Path      string        `koanf:"path" yaml:"path"`
	NoReader  string        `koanf:"no_reader" yaml:"no_reader"` // block|drop
	OpenRetry time.Duration `koanf:"open_retry" yaml:"open_retry"`
}

type NotifierSection struct {
	Enabled      bool          `koanf:"enabled" yaml:"enabled"`
	FIFOPath     string        `koanf:"fifo_path" yaml:"fifo_path"`
	Interval     time.Duration `koanf:"interval" yaml:"interval"`
	Payload      string        `koanf:"payload" yaml:"payload"`
	UnlinkOnExit bool          `koanf:"unlink_on_exit" yaml:"unlink_on_exit"`
}

type StoreWriterSection struct {
	Source       string `koanf:"source" yaml:"source"` // fifo|kafka
	MaxLineBytes int    `koanf:"max_line_bytes" yaml:"max_line_bytes"`
}

type StoreSection struct {
	Driver       string `koanf:"driver" yaml:"driver"` // sqlite|pgx
	DSN          string `koanf:"dsn" yaml:"dsn"`
	RecordsTable string `koanf:"records_table" yaml:"records_table"`
	PricesTable  string `koanf:"prices_table" yaml:"prices_table"`
	CreateSchema bool   `koanf:"create_schema" yaml:"create_schema"`
}

type KafkaSection struct {
	Brokers        []string      `koanf:"brokers" yaml:"brokers"`
	Topic          string        `koanf:"topic" yaml:"topic"`
	GroupID        string        `koanf:"group_id" yaml:"group_id"`
	Version        string        `koanf:"version" yaml:"version"`
	RequiredAcks   int16         `koanf:"required_acks" yaml:"required_acks"` // 0,1,-1
	StartFrom      string        `koanf:"start_from" yaml:"start_from"`       // oldest|newest
	CommitInterval time.Duration `koanf:"commit_interval" yaml:"commit_interval"`
	TLSEnabled     bool          `koanf:"tls_enabled" yaml:"tls_enabled"`
	SASLUser       string        `koanf:"sasl_user" yaml:"sasl_user"`
	SASLPass       string        `koanf:"sasl_pass" yaml:"-"`
}

type DebugSection struct {
	PrintCounter bool `koanf:"print_counter" yaml:"print_counter"`
	DelayMS      int  `koanf:"delay_ms" yaml:"delay_ms"`
}

type AddrSection struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

type File struct {
	SchemaVersion string `koanf:"schema_version" yaml:"schema_version"`

	Log         LogSection         `koanf:"log" yaml:"log"`
	Ingest      IngestSection      `koanf:"ingest" yaml:"ingest"`
	Handoff     HandoffSection     `koanf:"handoff" yaml:"handoff"`
	Relay       RelaySection       `koanf:"relay" yaml:"relay"`
	Channel     ChannelSection     `koanf:"channel" yaml:"channel"`
	Notifier    NotifierSection    `koanf:"notifier" yaml:"notifier"`
	StoreWriter StoreWriterSection `koanf:"store_writer" yaml:"store_writer"`
	Store       StoreSection       `koanf:"store" yaml:"store"`
	Kafka       KafkaSection       `koanf:"kafka" yaml:"kafka"`
	Debug       DebugSection       `koanf:"debug" yaml:"debug"`
	Metrics     AddrSection        `koanf:"metrics" yaml:"metrics"`
	GRPC        AddrSection        `koanf:"grpc" yaml:"grpc"`
}
