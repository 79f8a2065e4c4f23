package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"fleetrelay/internal/logging"
	"fleetrelay/source"
)

// SaramaDriver consumes the mirror topic as a consumer group. An offset is
// marked only after its line was handed to the store writer.
type SaramaDriver struct {
	cfg   Config
	cl    sarama.Client
	group sarama.ConsumerGroup
}

func (d *SaramaDriver) Configure(raw any) error {
	config, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("kafka-source: expected Config, got %T", raw)
	}
	applyDefaults(&config)
	d.cfg = config

	ver, err := sarama.ParseKafkaVersion(config.Version)
	if err != nil {
		return err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = false
	if config.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if config.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = config.SASLUser, config.SASLPass
	}
	switch config.StartFrom {
	case "oldest":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	if d.cl, err = sarama.NewClient(config.Brokers, sc); err != nil {
		return err
	}
	d.group, err = sarama.NewConsumerGroupFromClient(config.GroupID, d.cl)
	return err
}

func (d *SaramaDriver) Run(ctx context.Context, emit source.EmitFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	handler := newGroupHandler(emit, d.cfg.CommitInt, cancel)

	go func() {
		for err := range d.group.Errors() {
			logging.For("source.kafka").Warn("consumer group error", "err", err)
		}
	}()

	for {
		err := d.group.Consume(ctx, d.cfg.Topics, handler)
		if ferr := handler.fatal(); ferr != nil {
			return ferr
		}
		if ctx.Err() != nil || errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (d *SaramaDriver) Close() error {
	var errs []error
	if d.group != nil {
		errs = append(errs, d.group.Close())
	}
	if d.cl != nil && !d.cl.Closed() {
		errs = append(errs, d.cl.Close())
	}
	return errors.Join(errs...)
}

type groupHandler struct {
	emit      source.EmitFunc
	commitInt time.Duration
	stop      context.CancelFunc

	mu         sync.Mutex
	err        error
	lastCommit time.Time
}

func newGroupHandler(emit source.EmitFunc, commitInt time.Duration, stop context.CancelFunc) *groupHandler {
	return &groupHandler{emit: emit, commitInt: commitInt, stop: stop, lastCommit: time.Now()}
}

func (h *groupHandler) fatal() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (*groupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	sess.Commit()
	return nil
}

func (h *groupHandler) ConsumeClaim(
	sess sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil

		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.emit(msg.Value); err != nil {
				h.mu.Lock()
				h.err = err
				h.mu.Unlock()
				h.stop()
				return err
			}
			sess.MarkMessage(msg, "")
			if h.commitDue() {
				sess.Commit()
			}
		}
	}
}

func (h *groupHandler) commitDue() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if time.Since(h.lastCommit) < h.commitInt {
		return false
	}
	h.lastCommit = time.Now()
	return true
}

func init() { source.Register("kafka", func() source.Adapter { return &SaramaDriver{} }) }
