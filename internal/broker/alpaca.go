package broker

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"riskguard/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements the Broker interface against the Alpaca trading
// API. Alpaca credentials are account-scoped, so one AlpacaBroker serves one
// trading account; the account parameter is carried through for error
// reporting only.
type AlpacaBroker struct {
	client *alpaca.Client
}

// NewAlpacaBroker creates an AlpacaBroker configured with the given
// credentials and API endpoint.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string) *AlpacaBroker {
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// ClosePosition flattens the position in one instrument. An instrument with
// no open position is already in the desired state.
func (b *AlpacaBroker) ClosePosition(ctx context.Context, account domain.AccountID, instrument string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "close_position", Account: account, Transient: true, Err: err}
	}
	_, err := b.client.ClosePosition(instrument, alpaca.ClosePositionRequest{})
	if err != nil {
		if isPositionGone(err) {
			return nil
		}
		return classify("close_position", account, err)
	}
	return nil
}

// ReducePosition submits an offsetting market order that brings the position
// to the signed target size.
func (b *AlpacaBroker) ReducePosition(ctx context.Context, account domain.AccountID, instrument string, targetSize int) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "reduce_position", Account: account, Transient: true, Err: err}
	}

	pos, err := b.client.GetPosition(instrument)
	if err != nil {
		if isPositionGone(err) {
			if targetSize == 0 {
				return nil
			}
			return &Error{Op: "reduce_position", Account: account, Err: errors.New("no open position to reduce")}
		}
		return classify("reduce_position", account, err)
	}

	current := int(pos.Qty.IntPart())
	delta := targetSize - current
	if delta == 0 {
		return nil
	}

	side := alpaca.Buy
	if delta < 0 {
		side = alpaca.Sell
		delta = -delta
	}
	qty := decimal.NewFromInt(int64(delta))
	_, err = b.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      instrument,
		Qty:         &qty,
		Side:        side,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	})
	if err != nil {
		return classify("reduce_position", account, err)
	}
	return nil
}

// CancelOrder cancels one open order. An order that is already filled or
// cancelled counts as success.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, account domain.AccountID, orderID string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "cancel_order", Account: account, Transient: true, Err: err}
	}
	if err := b.client.CancelOrder(orderID); err != nil {
		if isPositionGone(err) {
			return nil
		}
		return classify("cancel_order", account, err)
	}
	return nil
}

// CancelAllOrders cancels every open order on the account.
func (b *AlpacaBroker) CancelAllOrders(ctx context.Context, account domain.AccountID) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "cancel_all_orders", Account: account, Transient: true, Err: err}
	}
	if err := b.client.CancelAllOrders(); err != nil {
		return classify("cancel_all_orders", account, err)
	}
	return nil
}

// classify wraps an Alpaca API error with the transient/permanent decision.
// Rate limits, server errors, and transport failures are transient; 4xx
// rejections are permanent.
func classify(op string, account domain.AccountID, err error) error {
	transient := false

	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		transient = apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	} else {
		var netErr net.Error
		if errors.As(err, &netErr) {
			transient = true
		}
	}

	return &Error{Op: op, Account: account, Transient: transient, Err: err}
}

// isPositionGone reports a 404 from the API, which for our operations means
// the desired end state already holds.
func isPositionGone(err error) bool {
	var apiErr *alpaca.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
