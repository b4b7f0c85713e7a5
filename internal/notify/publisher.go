package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"StableVault/internal/engine"
	"StableVault/internal/observability"
)

const (
	streamName    = "VAULT_LEDGER_EVENTS"
	subjectPrefix = "vault.ledger.events"
)

// Notification is the outbound wire format, one message per applied
// operation.
type Notification struct {
	Sequence  int64       `json:"sequence"`
	Kind      string      `json:"kind"`
	Account   string      `json:"account"`
	Asset     string      `json:"asset,omitempty"`
	Amount    string      `json:"amount"`
	Payload   interface{} `json:"payload,omitempty"`
	StateHash []byte      `json:"state_hash"`
	PrevHash  []byte      `json:"prev_hash"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher drains the notify channel and publishes each operation to
// JetStream on vault.ledger.events.{kind}. Publishing is best-effort: a
// failed publish is logged and counted but never stalls the engine, since
// consumers can always fall back to the event log in Postgres.
type Publisher struct {
	js        jetstream.JetStream
	inputChan <-chan engine.Output
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, inputChan <-chan engine.Output,
	metrics *observability.Metrics, log zerolog.Logger) *Publisher {
	return &Publisher{js: js, inputChan: inputChan, metrics: metrics, log: log}
}

// Run blocks until ctx is cancelled or the input channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.inputChan:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, out); err != nil {
				if p.metrics != nil {
					p.metrics.PublishErrors.Inc()
				}
				p.log.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, out engine.Output) error {
	env := out.Envelope
	n := Notification{
		Sequence:  env.Sequence,
		Kind:      env.Kind.String(),
		Account:   env.Account.String(),
		Asset:     env.Asset,
		Amount:    env.Amount,
		Payload:   env.Payload,
		StateHash: env.StateHash[:],
		PrevHash:  env.PrevHash[:],
		Timestamp: env.Timestamp,
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", subjectPrefix, env.Kind)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
