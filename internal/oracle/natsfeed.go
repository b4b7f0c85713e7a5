package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// PriceUpdate is the wire format published by the external price feed on
// vault.prices.{symbol}. Price is an integer string in the feed's native
// decimal exponent.
type PriceUpdate struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Decimals  uint8  `json:"decimals"`
	UpdatedAt int64  `json:"updated_at"` // epoch microseconds
}

// FeedSource is a PriceSource backed by a NATS JetStream price subject. It
// caches the most recent round per symbol; LatestRound is a lock-protected
// read of that cache, so the engine's valuation path never touches the
// network.
type FeedSource struct {
	symbol string

	mu    sync.RWMutex
	round Round
	seen  bool
}

// NewFeedSource creates an empty source for one symbol. It reports an
// error from LatestRound until the first update arrives.
func NewFeedSource(symbol string) *FeedSource {
	return &FeedSource{symbol: symbol}
}

func (f *FeedSource) LatestRound() (Round, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.seen {
		return Round{}, fmt.Errorf("no price observed yet for %s", f.symbol)
	}
	return Round{
		Price:     f.round.Price.Clone(),
		Decimals:  f.round.Decimals,
		UpdatedAt: f.round.UpdatedAt,
	}, nil
}

func (f *FeedSource) apply(update PriceUpdate) error {
	price, err := uint256.FromDecimal(update.Price)
	if err != nil {
		return fmt.Errorf("parse price %q: %w", update.Price, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.round = Round{
		Price:     price,
		Decimals:  update.Decimals,
		UpdatedAt: time.UnixMicro(update.UpdatedAt),
	}
	f.seen = true
	return nil
}

// Feed consumes the price stream and routes updates into per-symbol
// FeedSources.
type Feed struct {
	js      jetstream.JetStream
	sources map[string]*FeedSource
	log     zerolog.Logger

	consumer jetstream.ConsumeContext
}

const (
	priceStreamName  = "VAULT_PRICES"
	priceSubjectRoot = "vault.prices"
)

func NewFeed(js jetstream.JetStream, sources map[string]*FeedSource, log zerolog.Logger) *Feed {
	return &Feed{
		js:      js,
		sources: sources,
		log:     log,
	}
}

// EnsureStream creates the price stream if it does not exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      priceStreamName,
		Subjects:  []string{priceSubjectRoot + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create price stream: %w", err)
	}
	return nil
}

// Run subscribes to the price subjects and dispatches updates until ctx is
// cancelled. Updates for unknown symbols are acked and dropped.
func (f *Feed) Run(ctx context.Context) error {
	consumer, err := f.js.CreateOrUpdateConsumer(ctx, priceStreamName, jetstream.ConsumerConfig{
		Durable:       "vault-prices",
		FilterSubject: priceSubjectRoot + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		return fmt.Errorf("create price consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		var update PriceUpdate
		if err := json.Unmarshal(msg.Data(), &update); err != nil {
			f.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("malformed price update")
			msg.Ack()
			return
		}

		source, ok := f.sources[update.Symbol]
		if !ok {
			msg.Ack()
			return
		}

		if err := source.apply(update); err != nil {
			f.log.Warn().Err(err).Str("symbol", update.Symbol).Msg("rejected price update")
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume prices: %w", err)
	}
	f.consumer = consumeCtx

	<-ctx.Done()
	consumeCtx.Stop()
	return ctx.Err()
}
