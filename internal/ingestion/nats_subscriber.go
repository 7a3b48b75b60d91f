package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PerpVAMM/internal/event"
	"PerpVAMM/internal/observability"
	"PerpVAMM/internal/oracle"
)

// Stream names.
const (
	CommandStream = "PERP_VAMM_CMD"
	OracleStream  = "PERP_VAMM_ORACLE"
	HistoryStream = "PERP_VAMM_HISTORY"
)

// OracleSink stores oracle readings. *oracle.Service implements it.
type OracleSink interface {
	Push(name string, r oracle.Reading) error
}

// NATSSubscriber consumes commands and oracle readings from JetStream.
// Commands are parsed and queued for the clearing house run loop; oracle
// readings are pushed straight into the oracle service.
type NATSSubscriber struct {
	js         jetstream.JetStream
	directives chan<- event.Directive
	oracles    OracleSink
	metrics    *observability.Metrics
	logger     zerolog.Logger
	maxWait    time.Duration
	consumers  []jetstream.ConsumeContext
}

// SubjectConfig binds a durable consumer to a subject filter.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the command and oracle consumers.
func DefaultSubjects() (commands, oracles SubjectConfig) {
	return SubjectConfig{Subject: CommandSubjectPrefix + ">", ConsumerName: "vamm-commands", StreamName: CommandStream},
		SubjectConfig{Subject: OracleSubjectPrefix + ">", ConsumerName: "vamm-oracle", StreamName: OracleStream}
}

func NewNATSSubscriber(js jetstream.JetStream, directives chan<- event.Directive, oracles OracleSink, metrics *observability.Metrics) *NATSSubscriber {
	return &NATSSubscriber{
		js:         js,
		directives: directives,
		oracles:    oracles,
		metrics:    metrics,
		logger:     observability.NewLogger("ingestion"),
		maxWait:    time.Minute,
	}
}

// WithLogger replaces the subscriber's logger.
func (ns *NATSSubscriber) WithLogger(l zerolog.Logger) *NATSSubscriber {
	ns.logger = l
	return ns
}

// Subscribe creates the durable consumers and starts consuming. Consumer
// creation is retried with exponential backoff while the server or stream
// is unavailable. Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	commands, oracles := DefaultSubjects()
	if err := ns.consume(ctx, commands, ns.HandleCommand); err != nil {
		return err
	}
	return ns.consume(ctx, oracles, ns.HandleOracle)
}

func (ns *NATSSubscriber) consume(ctx context.Context, cfg SubjectConfig, handle func(context.Context, RawMessage) error) error {
	var consumer jetstream.Consumer
	create := func() error {
		var err error
		consumer, err = ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = ns.maxWait
	notify := func(err error, wait time.Duration) {
		ns.logger.Warn().Err(err).Str("consumer", cfg.ConsumerName).Dur("backoff", wait).Msg("consumer unavailable, retrying")
	}
	if err := backoff.RetryNotify(create, backoff.WithContext(bo, ctx), notify); err != nil {
		return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawMessage{Subject: msg.Subject(), Data: msg.Data(), Timestamp: time.Now()}
		switch err := handle(ctx, raw); {
		case err == nil:
			_ = msg.Ack()
		case errors.Is(err, ErrMalformed):
			ns.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed message")
			_ = msg.Term()
		default:
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
	}
	ns.consumers = append(ns.consumers, cc)
	ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	return nil
}

// HandleCommand parses a command and queues it for the clearing house. The
// directive's outcome is recorded in the output log, so the message is
// acknowledged once it is queued.
func (ns *NATSSubscriber) HandleCommand(ctx context.Context, raw RawMessage) error {
	d, err := ParseDirective(raw)
	if err != nil {
		ns.count("command", "invalid")
		return err
	}
	select {
	case ns.directives <- d:
		ns.count("command", "queued")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleOracle parses an oracle reading and stores it.
func (ns *NATSSubscriber) HandleOracle(_ context.Context, raw RawMessage) error {
	name, reading, err := ParseOracleReading(raw)
	if err != nil {
		ns.count("oracle", "invalid")
		return err
	}
	if err := ns.oracles.Push(name, reading); err != nil {
		ns.count("oracle", "invalid")
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ns.count("oracle", "accepted")
	if ns.metrics != nil {
		ns.metrics.OracleReadings.WithLabelValues(name).Inc()
	}
	return nil
}

func (ns *NATSSubscriber) count(source, result string) {
	if ns.metrics != nil {
		ns.metrics.IngestMessages.WithLabelValues(source, result).Inc()
	}
}

// Stop stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// EnsureStreams creates the command, oracle and history streams if they
// don't exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{Name: CommandStream, Subjects: []string{CommandSubjectPrefix + ">"}},
		{Name: OracleStream, Subjects: []string{OracleSubjectPrefix + ">"}, MaxAge: time.Hour},
		{Name: HistoryStream, Subjects: []string{HistorySubjectPrefix + ">"}, Duplicates: 10 * time.Minute},
	}
	for _, cfg := range streams {
		cfg.Storage = jetstream.FileStorage
		cfg.Retention = jetstream.LimitsPolicy
		cfg.Replicas = 1
		if cfg.MaxAge == 0 {
			cfg.MaxAge = 72 * time.Hour
		}
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// ConnectNATS establishes a NATS connection that reconnects forever and
// returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("perpvamm"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
