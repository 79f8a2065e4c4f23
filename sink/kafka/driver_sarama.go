package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"fleetrelay/internal/codec"
	"fleetrelay/internal/logging"
	"fleetrelay/sink"
)

type Config struct {
	Brokers  []string
	Topic    string
	Acks     int16 // 0,1,-1
	Version  string
	TLSEn    bool
	SASLUser string
	SASLPass string
	// OnError sees every delivery failure reported by the producer.
	OnError func(error)
}

// newProducer is swapped for a mock in tests.
var newProducer = func(brokers []string, sc *sarama.Config) (sarama.AsyncProducer, error) {
	return sarama.NewAsyncProducer(brokers, sc)
}

type driver struct {
	cfg  Config
	p    sarama.AsyncProducer
	errs sync.WaitGroup
	once sync.Once
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	d.cfg = cfg

	sc := sarama.NewConfig()
	if cfg.Version != "" {
		ver, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return fmt.Errorf("kafka-sink: %w", err)
		}
		sc.Version = ver
	}
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Errors = true
	// records from one source stay ordered within their partition
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	if cfg.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = cfg.SASLUser, cfg.SASLPass
	}

	p, err := newProducer(cfg.Brokers, sc)
	if err != nil {
		return fmt.Errorf("kafka-sink: producer: %w", err)
	}
	d.p = p

	d.errs.Add(1)
	go func() {
		defer d.errs.Done()
		for perr := range p.Errors() {
			logging.For("sink.kafka").Warn("delivery failed", "topic", cfg.Topic, "err", perr.Err)
			if cfg.OnError != nil {
				cfg.OnError(perr.Err)
			}
		}
	}()
	return nil
}

func (d *driver) Push(ctx context.Context, line []byte) error {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	msg := &sarama.ProducerMessage{
		Topic: d.cfg.Topic,
		Value: sarama.ByteEncoder(append([]byte(nil), line...)),
	}
	if key := codec.SourceKey(line); key != nil {
		msg.Key = sarama.ByteEncoder(append([]byte(nil), key...))
	}
	select {
	case d.p.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *driver) Close() error {
	var err error
	d.once.Do(func() {
		if d.p == nil {
			return
		}
		err = d.p.Close()
		d.errs.Wait()
	})
	return err
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
