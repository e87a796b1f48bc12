package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"riskguard/internal/domain"
)

// Compile-time interface check.
var _ Source = (*AlpacaTradeSource)(nil)

// AlpacaTradeSource streams order and fill events from the Alpaca trade
// updates stream. Credentials are account-scoped, so one source feeds one
// account.
type AlpacaTradeSource struct {
	client  *alpaca.Client
	account domain.AccountID
	log     *slog.Logger
}

// NewAlpacaTradeSource creates a trade update streamer for one account.
func NewAlpacaTradeSource(apiKey, apiSecret, baseURL string, account domain.AccountID, log *slog.Logger) *AlpacaTradeSource {
	return &AlpacaTradeSource{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		account: account,
		log:     log.With("source", "alpaca-trades", "account", account),
	}
}

// Name returns "alpaca-trades".
func (s *AlpacaTradeSource) Name() string { return "alpaca-trades" }

// Run streams trade updates until ctx is cancelled, reconnecting on stream
// errors. Fills emit both an order update and a trade execution.
func (s *AlpacaTradeSource) Run(ctx context.Context, emit func(domain.Event)) error {
	for {
		err := s.client.StreamTradeUpdates(ctx, func(u alpaca.TradeUpdate) {
			s.handle(u, emit)
		}, alpaca.StreamTradeUpdatesRequest{})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("trade update stream dropped, reconnecting", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (s *AlpacaTradeSource) handle(u alpaca.TradeUpdate, emit func(domain.Event)) {
	at := u.At
	if u.Timestamp != nil {
		at = *u.Timestamp
	}

	order := domain.Order{
		ID:         u.Order.ID,
		Instrument: u.Order.Symbol,
		Side:       orderSide(u.Order.Side),
		Type:       orderType(u.Order.Type),
		Status:     orderStatus(u.Order.Status),
		UpdatedAt:  at,
	}
	if u.Order.Qty != nil {
		order.Qty = int(u.Order.Qty.IntPart())
	}
	if u.Order.LimitPrice != nil {
		order.Price = u.Order.LimitPrice.InexactFloat64()
	}
	if u.Order.StopPrice != nil {
		order.StopPrice = u.Order.StopPrice.InexactFloat64()
	}
	emit(domain.Event{
		Type:       domain.EventOrderUpdate,
		Account:    s.account,
		Instrument: order.Instrument,
		Timestamp:  at,
		Order:      &order,
	})

	if u.Event != "fill" && u.Event != "partial_fill" {
		return
	}
	if u.Qty == nil || u.Price == nil {
		s.log.Warn("fill update missing qty or price", "order", u.Order.ID, "event", u.Event)
		return
	}
	emit(domain.Event{
		Type:       domain.EventTradeExecution,
		Account:    s.account,
		Instrument: order.Instrument,
		Timestamp:  at,
		Trade: &domain.Trade{
			ID:         u.ExecutionID,
			Instrument: order.Instrument,
			Side:       order.Side,
			Qty:        int(u.Qty.IntPart()),
			Price:      u.Price.InexactFloat64(),
			Timestamp:  at,
		},
	})
}

func orderSide(s alpaca.Side) domain.OrderSide {
	if s == alpaca.Sell {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

func orderType(t alpaca.OrderType) domain.OrderType {
	switch t {
	case alpaca.Limit:
		return domain.OrderTypeLimit
	case alpaca.Stop, alpaca.TrailingStop:
		return domain.OrderTypeStop
	case alpaca.StopLimit:
		return domain.OrderTypeStopLimit
	default:
		return domain.OrderTypeMarket
	}
}

func orderStatus(s string) domain.OrderStatus {
	switch s {
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "expired", "done_for_day", "stopped", "suspended", "replaced":
		return domain.OrderStatusCancelled
	case "rejected":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusWorking
	}
}
