package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"papermail/internal/catalog"
	"papermail/internal/config"
	"papermail/internal/database"
	"papermail/internal/feed"
	"papermail/internal/filestore"
	"papermail/internal/mail"
	"papermail/internal/ratelimiter"
	"papermail/internal/scheduler"
	"papermail/internal/selector"
	"papermail/internal/store"
	"papermail/internal/summarizer"
	"papermail/internal/web"
)

const shutdownTimeout = 30 * time.Second

func main() {
	once := flag.Bool("once", false, "run a single dispatch and exit")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.ErrorContext(ctx, "Failed to load config",
			"error", err)

		return
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)

	loc, err := cfg.Location()
	if err != nil {
		log.ErrorContext(ctx, "Failed to resolve dispatch timezone",
			"error", err,
			"timezone", cfg.DispatchTimezone)

		return
	}

	st, closeStore, err := initStore(ctx, cfg, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize store",
			"error", err,
			"driver", cfg.StoreDriver)

		return
	}
	defer closeStore()
	log.InfoContext(ctx, "Store is initialized",
		"driver", cfg.StoreDriver)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load catalog",
			"error", err,
			"catalogPath", cfg.CatalogPath)

		return
	}
	log.InfoContext(ctx, "Catalog is loaded",
		"topics", len(cat.Topics()),
		"weekendSource", cat.Weekend().Name)

	fetcher, err := feed.NewFetcher(feed.Options{
		Timeout:     cfg.FeedTimeout,
		Retries:     cfg.FeedRetries,
		InsecureTLS: cfg.FeedInsecureTLS,
	}, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to create feed fetcher",
			"error", err)

		return
	}

	sel := selector.New(
		cat,
		feed.NewCachedFetcher(fetcher, cfg.FeedCacheTTL),
		selector.NewRand(cfg.RandomSeed),
		log,
	)

	mailer := mail.New(
		mail.Options{
			FromAddress: cfg.EmailAddress,
			FromName:    cfg.EmailFromName,
			BaseURL:     cfg.BaseURL,
		},
		mail.NewSMTPTransport(mail.SMTPOptions{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.EmailAddress,
			Password: cfg.EmailPassword,
			Timeout:  cfg.SMTPTimeout,
		}),
		ratelimiter.New(cfg.MailRatePerSecond, cfg.MailDomainInterval, log),
		initOpenAISummarizer(ctx, summarizer.OpenAIOptions{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.OpenAITimeout,
		}, log),
		log,
	)

	sched := scheduler.New(ctx, scheduler.Options{
		Spec:     cfg.DispatchSpec,
		Location: loc,
		Timeout:  cfg.DispatchTimeout,
		Workers:  cfg.DispatchWorkers,
	}, st, st, sel, mailer, log)

	if *once {
		report, _ := sched.RunOnce(ctx)
		log.InfoContext(ctx, "Single dispatch is finished",
			"sent", report.Sent,
			"failed", report.Failed,
			"uptimeSeconds", time.Since(start).Seconds())

		return
	}

	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err,
			"spec", cfg.DispatchSpec,
			"timezone", loc.String())

		return
	}
	defer sched.Stop()
	log.InfoContext(ctx, "Scheduler is started",
		"spec", cfg.DispatchSpec,
		"timezone", loc.String(),
		"workers", cfg.DispatchWorkers)

	pages := web.New(cat, st, st, sched, sel, mailer.Renderer(), web.Options{
		Brand:          cfg.EmailFromName,
		DeliverTimeout: cfg.SMTPTimeout + cfg.FeedTimeout*time.Duration(cfg.FeedRetries+1),
	}, log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           pages.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorContext(ctx, "HTTP server failed",
				"error", err,
				"addr", cfg.HTTPAddr)
			cancel()
		}
	}()
	log.InfoContext(ctx, "HTTP server is started",
		"addr", cfg.HTTPAddr,
		"baseURL", cfg.BaseURL)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-c:
		log.InfoContext(ctx, "Shutdown signal is received",
			"signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer shutdownCancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		log.ErrorContext(ctx, "Failed to shut down HTTP server",
			"error", err)
	}

	pages.Wait()
	cancel()

	log.InfoContext(ctx, "Exiting...",
		"uptimeSeconds", time.Since(start).Seconds())
}

func initStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Store, func(), error) {
	if cfg.StoreDriver == config.StoreDriverFile {
		st, err := filestore.New(cfg.SubscribersPath, cfg.DeliveryLogPath, log)
		if err != nil {
			return nil, nil, err
		}

		return st, func() {}, nil
	}

	db, err := database.New(ctx, cfg.DBPath, log)
	if err != nil {
		return nil, nil, err
	}

	closeDB := func() {
		if err := db.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close db",
				"error", err,
				"dbPath", cfg.DBPath)
		}
	}

	return db, closeDB, nil
}

func initOpenAISummarizer(ctx context.Context, opts summarizer.OpenAIOptions, log *slog.Logger) summarizer.Summarizer {
	if opts.APIKey == "" {
		log.WarnContext(ctx, "OPENAI_API_KEY is missing so mails go out without a TL;DR",
			"envVar", "OPENAI_API_KEY")

		return nil
	}

	s, err := summarizer.NewOpenAISummarizer(opts)
	if err != nil {
		log.ErrorContext(ctx, "Failed to create OpenAI summarizer so mails go out without a TL;DR",
			"error", err,
			"envVar", "OPENAI_API_KEY")

		return nil
	}

	log.InfoContext(ctx, "OpenAI summarizer is initialized",
		"provider", "openai",
		"model", opts.Model,
		"timeout", opts.Timeout.String())

	return summarizer.NewCached(s, summarizer.DefaultCacheMaxEntries, summarizer.DefaultCacheTTL)
}
