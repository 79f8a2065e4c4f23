// Package pipeline turns a loaded relayd.yml into configured drivers: the
// relay's output channels and the store writer's input.
package pipeline

import (
	"errors"
	"fmt"

	"fleetrelay/internal/fifo"
	"fleetrelay/internal/relay"
	"fleetrelay/internal/spec"
	"fleetrelay/internal/telemetry"
	"fleetrelay/sink"
	fifosink "fleetrelay/sink/fifo"
	kafkasink "fleetrelay/sink/kafka"
	"fleetrelay/sink/stdout"
	"fleetrelay/source"
	fifosrc "fleetrelay/source/fifo"
	kafkasrc "fleetrelay/source/kafka"
)

// CompileSinks configures every sink listed under relay.sinks, in order.
// On error the sinks built so far are closed.
func CompileSinks(cfg spec.File, m *telemetry.Metrics) ([]relay.Output, error) {
	var outs []relay.Output
	fail := func(err error) ([]relay.Output, error) {
		for _, o := range outs {
			_ = o.Sink.Close()
		}
		return nil, err
	}

	for _, name := range cfg.Relay.Sinks {
		drv, err := sink.NewAdapter(name)
		if err != nil {
			return fail(err)
		}

		var sc any
		switch name {
		case "fifo":
			mode, err := fifo.ParseMode(cfg.Channel.NoReader)
			if err != nil {
				return fail(err)
			}
			sc = fifosink.Config{Path: cfg.Channel.Path, Mode: mode, OpenRetry: cfg.Channel.OpenRetry}
		case "kafka":
			sc = kafkasink.Config{
				Brokers:  cfg.Kafka.Brokers,
				Topic:    cfg.Kafka.Topic,
				Acks:     cfg.Kafka.RequiredAcks,
				Version:  cfg.Kafka.Version,
				TLSEn:    cfg.Kafka.TLSEnabled,
				SASLUser: cfg.Kafka.SASLUser,
				SASLPass: cfg.Kafka.SASLPass,
				OnError:  func(error) { m.ChannelFailures.WithLabelValues("kafka").Inc() },
			}
		case "stdout":
			sc = stdout.Config{DelayMS: cfg.Debug.DelayMS, PrintCounter: cfg.Debug.PrintCounter}
		default:
			return fail(fmt.Errorf("pipeline: no config block for sink %q", name))
		}
		if err := drv.Configure(sc); err != nil {
			return fail(fmt.Errorf("pipeline: sink %s: %w", name, err))
		}
		outs = append(outs, relay.Output{Name: name, Sink: drv})
	}
	return outs, nil
}

// CompileSource configures the store writer's input named by
// store_writer.source.
func CompileSource(cfg spec.File, m *telemetry.Metrics) (source.Adapter, error) {
	name := cfg.StoreWriter.Source
	src, err := source.NewAdapter(name)
	if err != nil {
		return nil, err
	}

	var sc any
	switch name {
	case "fifo":
		sc = fifosrc.Config{
			Path:         cfg.Channel.Path,
			MaxLineBytes: cfg.StoreWriter.MaxLineBytes,
			OnReopen:     m.ChannelReopens.Inc,
			OnDiscard:    func() { m.LinesDiscarded.WithLabelValues("oversize").Inc() },
		}
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, errors.New("pipeline: kafka source needs kafka.brokers")
		}
		sc = kafkasrc.Config{
			Brokers:   cfg.Kafka.Brokers,
			Topics:    []string{cfg.Kafka.Topic},
			GroupID:   cfg.Kafka.GroupID,
			StartFrom: cfg.Kafka.StartFrom,
			Version:   cfg.Kafka.Version,
			TLSEn:     cfg.Kafka.TLSEnabled,
			SASLUser:  cfg.Kafka.SASLUser,
			SASLPass:  cfg.Kafka.SASLPass,
			CommitInt: cfg.Kafka.CommitInterval,
		}
	default:
		return nil, fmt.Errorf("pipeline: no config block for source %q", name)
	}
	if err := src.Configure(sc); err != nil {
		return nil, fmt.Errorf("pipeline: source %s: %w", name, err)
	}
	return src, nil
}
