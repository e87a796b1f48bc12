package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"riskguard/internal/domain"
)

// Compile-time interface check.
var _ Source = (*AlpacaQuoteSource)(nil)

// AlpacaQuoteSource polls the Alpaca market-data API for the latest trade
// price of every instrument the engine currently holds interest in. Polling
// keeps the source resilient to stream disconnects; the staleness horizon on
// the quote tracker covers the gap either way.
type AlpacaQuoteSource struct {
	client      *marketdata.Client
	instruments func() []string
	interval    time.Duration
	log         *slog.Logger
}

// NewAlpacaQuoteSource creates a quote poller. instruments is consulted
// every cycle so subscriptions follow open interest.
func NewAlpacaQuoteSource(apiKey, apiSecret, dataURL string, instruments func() []string, interval time.Duration, log *slog.Logger) *AlpacaQuoteSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &AlpacaQuoteSource{
		client:      marketdata.NewClient(opts),
		instruments: instruments,
		interval:    interval,
		log:         log.With("source", "alpaca-quotes"),
	}
}

// Name returns "alpaca-quotes".
func (s *AlpacaQuoteSource) Name() string { return "alpaca-quotes" }

// Run polls until ctx is cancelled. Per-instrument fetch errors are logged
// and skipped; a missing quote must surface as staleness, never as a zero
// price.
func (s *AlpacaQuoteSource) Run(ctx context.Context, emit func(domain.Event)) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.poll(ctx, emit)
		}
	}
}

func (s *AlpacaQuoteSource) poll(ctx context.Context, emit func(domain.Event)) {
	for _, instrument := range s.instruments() {
		if ctx.Err() != nil {
			return
		}
		trade, err := s.client.GetLatestTrade(instrument, marketdata.GetLatestTradeRequest{})
		if err != nil {
			s.log.Warn("quote fetch failed", "instrument", instrument, "error", err)
			continue
		}
		emit(domain.Event{
			Type:       domain.EventQuoteUpdate,
			Instrument: instrument,
			Timestamp:  trade.Timestamp,
			Quote: &domain.Quote{
				Instrument: instrument,
				Price:      trade.Price,
				Timestamp:  trade.Timestamp,
			},
		})
	}
}
