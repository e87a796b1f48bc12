package calendar

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// Remote is a HolidaySource backed by the broker's trading calendar API,
// with a static fallback when the API is unreachable. Responses are cached;
// the calendar never changes for past dates.
type Remote struct {
	client   *alpaca.Client
	fallback *Static
	log      *slog.Logger

	mu   sync.Mutex
	days map[string]bool // "2006-01-02" -> trading day
}

// NewRemote creates a Remote calendar source.
func NewRemote(apiKey, apiSecret, baseURL string, fallback *Static, log *slog.Logger) *Remote {
	return &Remote{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		fallback: fallback,
		log:      log,
		days:     make(map[string]bool),
	}
}

// IsTradingDay consults the cached broker calendar, fetching a window around
// the requested day on a cache miss. On fetch failure it falls back to the
// static holiday list.
func (r *Remote) IsTradingDay(day time.Time) bool {
	key := day.Format("2006-01-02")

	r.mu.Lock()
	trading, ok := r.days[key]
	r.mu.Unlock()
	if ok {
		return trading
	}

	if err := r.fetchWindow(day); err != nil {
		r.log.Warn("broker calendar unavailable, using static fallback", "error", err)
		return r.fallback.IsTradingDay(day)
	}

	r.mu.Lock()
	trading, ok = r.days[key]
	r.mu.Unlock()
	if !ok {
		return r.fallback.IsTradingDay(day)
	}
	return trading
}

// fetchWindow loads the broker calendar for [day-7, day+31] into the cache.
// Days absent from the response are non-trading days.
func (r *Remote) fetchWindow(day time.Time) error {
	start := day.AddDate(0, 0, -7)
	end := day.AddDate(0, 0, 31)

	days, err := r.client.GetCalendar(alpaca.GetCalendarRequest{
		Start: start,
		End:   end,
	})
	if err != nil {
		return fmt.Errorf("GetCalendar: %w", err)
	}

	open := make(map[string]struct{}, len(days))
	for _, d := range days {
		open[d.Date] = struct{}{}
	}

	r.mu.Lock()
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		_, trading := open[key]
		r.days[key] = trading
	}
	r.mu.Unlock()

	return nil
}
