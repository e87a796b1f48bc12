package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"riskguard/internal/audit"
	"riskguard/internal/broker"
	"riskguard/internal/calendar"
	"riskguard/internal/config"
	"riskguard/internal/contracts"
	"riskguard/internal/domain"
	"riskguard/internal/engine"
	"riskguard/internal/feed"
	"riskguard/internal/httpapi"
	"riskguard/internal/quotes"
	"riskguard/internal/reset"
	"riskguard/internal/state"
	"riskguard/internal/store"
	"riskguard/internal/util"
)

func main() {
	cfgPath := "config/riskguard.yaml"
	if p := os.Getenv("RISKGUARD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	checkpoint, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening checkpoint store: %v", err)
	}
	defer checkpoint.Close()
	archive := store.NewParquetArchive(cfg.Storage.DataDir)

	table := make(map[string]domain.ContractMeta, len(cfg.Instruments))
	for sym, inst := range cfg.Instruments {
		table[sym] = domain.ContractMeta{
			Instrument: sym,
			TickSize:   inst.TickSize,
			TickValue:  inst.TickValue,
		}
	}

	static := calendar.NewStatic(cfg.Calendar.Holidays)
	var holidays calendar.HolidaySource = static
	if cfg.Calendar.UseBrokerCalendar {
		holidays = calendar.NewRemote(cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.BaseURL, static, logger)
	}
	cal := calendar.New(holidays)

	var brk broker.Broker
	switch cfg.Broker.Provider {
	case "alpaca":
		brk = broker.NewAlpacaBroker(cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.BaseURL)
	case "simulator", "":
		logger.Warn("using simulator broker; no real enforcement will happen")
		brk = broker.NewSimulatorBroker()
	default:
		log.Fatalf("unknown broker provider %q", cfg.Broker.Provider)
	}

	settings := config.NewSettingsStore(cfg.Rules, logger)
	eng := engine.New(engine.Config{
		Log:        logger,
		State:      state.NewStore(),
		Quotes:     quotes.NewTracker(cfg.Quotes.Staleness()),
		Meta:       contracts.NewCache(&contracts.StaticResolver{Table: table}, logger),
		Settings:   settings,
		Recorder:   audit.NewRecorder(logger, checkpoint, 1024),
		Calendar:   cal,
		Broker:     brk,
		Checkpoint: checkpoint,
		Limiter:    util.NewRateLimiter(cfg.Enforcement.RateLimitPerMin),
		MaxRetries: cfg.Enforcement.MaxRetries,
		Backoff:    cfg.Enforcement.Backoff(),
		Timeout:    cfg.Enforcement.Timeout(),
	})

	resetAccounts := make([]reset.Account, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		loc, err := time.LoadLocation(a.Timezone)
		if err != nil {
			log.Fatalf("account %s: %v", a.ID, err)
		}
		hour, minute, err := config.ParseClock(a.ResetTime)
		if err != nil {
			log.Fatalf("account %s: %v", a.ID, err)
		}
		eng.AddAccount(domain.AccountID(a.ID), loc)
		resetAccounts = append(resetAccounts, reset.Account{
			ID:       domain.AccountID(a.ID),
			Location: loc,
			Hour:     hour,
			Minute:   minute,
		})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := eng.Restore(ctx); err != nil {
		log.Fatalf("restoring state: %v", err)
	}

	// Resets missed while the process was down fire before live events flow.
	scheduler := reset.NewScheduler(logger, cal, resetAccounts, eng.LastReset, eng.ResetAccount)
	scheduler.CatchUp(time.Now())

	eng.Start(ctx)
	go scheduler.Run(ctx)
	go runAuditArchiver(ctx, logger, checkpoint, archive)
	go watchReload(ctx, logger, cfgPath, settings)

	if cfg.Broker.Provider == "alpaca" {
		startAlpacaFeeds(ctx, cfg, eng, logger)
	}

	api := httpapi.NewAdminServer(eng, fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), logger)
	go func() {
		if err := api.ListenAndServe(); err != nil {
			logger.Error("admin API error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	eng.Stop()
}

// startAlpacaFeeds launches the quote poller and the per-account trade update
// stream. Alpaca credentials are account-scoped, so the trade stream feeds the
// first configured account.
func startAlpacaFeeds(ctx context.Context, cfg *config.Config, eng *engine.Engine, logger *slog.Logger) {
	sources := []feed.Source{
		feed.NewAlpacaQuoteSource(
			cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.DataURL,
			eng.QuoteInstruments,
			time.Duration(cfg.Quotes.PollIntervalMS)*time.Millisecond,
			logger,
		),
	}
	if len(cfg.Accounts) > 0 {
		if len(cfg.Accounts) > 1 {
			logger.Warn("alpaca credentials are single-account; streaming trade updates for the first account only",
				"account", cfg.Accounts[0].ID)
		}
		sources = append(sources, feed.NewAlpacaTradeSource(
			cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.BaseURL,
			domain.AccountID(cfg.Accounts[0].ID), logger,
		))
	}
	for _, src := range sources {
		go func(src feed.Source) {
			if err := src.Run(ctx, eng.Dispatch); err != nil && ctx.Err() == nil {
				logger.Error("feed stopped", "source", src.Name(), "error", err)
			}
		}(src)
	}
}

// runAuditArchiver copies each closed-out UTC day of the audit log into the
// Parquet archive shortly after midnight, catching up yesterday at startup.
func runAuditArchiver(ctx context.Context, logger *slog.Logger, st *store.SQLiteStore, arch *store.ParquetArchive) {
	archiveDay := func(day time.Time) {
		entries, err := st.ListAuditDay(ctx, day)
		if err != nil {
			logger.Error("reading audit day", "day", day.Format("2006-01-02"), "error", err)
			return
		}
		if err := arch.ArchiveDay(day, entries); err != nil {
			logger.Error("archiving audit day", "day", day.Format("2006-01-02"), "error", err)
			return
		}
		if len(entries) > 0 {
			logger.Info("archived audit day", "day", day.Format("2006-01-02"), "entries", len(entries))
		}
	}

	archiveDay(time.Now().UTC().AddDate(0, 0, -1))
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 5, 0, 0, time.UTC).Add(24 * time.Hour)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			archiveDay(next.AddDate(0, 0, -1))
		}
	}
}

// watchReload re-reads the config on SIGHUP and swaps in the new rule
// settings. Accounts, broker, and storage changes still require a restart.
func watchReload(ctx context.Context, logger *slog.Logger, cfgPath string, settings *config.SettingsStore) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Error("config reload failed, keeping current settings", "error", err)
				continue
			}
			settings.Replace(cfg.Rules)
		}
	}
}
