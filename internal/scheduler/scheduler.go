package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"papermail/internal/domain"
	"papermail/internal/store"
)

const (
	DefaultSpec    = "0 7 * * *"
	defaultTimeout = 30 * time.Minute
)

type Selector interface {
	Select(ctx context.Context, sub domain.Subscriber, isWeekend bool) (domain.Selection, bool)
}

type Mailer interface {
	Send(ctx context.Context, recipient string, sel domain.Selection) error
}

type Options struct {
	Spec     string
	Location *time.Location
	Timeout  time.Duration
	Workers  int
	// Now overrides the clock used to decide weekend delivery.
	Now func() time.Time
}

// Report summarizes one dispatch run. NotFound counts deliveries that
// carried the not-found notice and is a subset of Sent.
type Report struct {
	Subscribers int
	Sent        int
	Skipped     int
	NotFound    int
	Failed      int
	Weekend     bool
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeNotFound
	outcomeFailed
)

type Scheduler struct {
	ctx        context.Context
	cron       *cron.Cron
	opts       Options
	prefs      store.Preferences
	deliveries store.DeliveryLog
	selector   Selector
	mailer     Mailer
	running    atomic.Bool
	log        *slog.Logger
}

// New wires a Scheduler. deliveries may be nil.
func New(
	ctx context.Context,
	opts Options,
	prefs store.Preferences,
	deliveries store.DeliveryLog,
	selector Selector,
	mailer Mailer,
	log *slog.Logger,
) *Scheduler {
	if opts.Spec == "" {
		opts.Spec = DefaultSpec
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := cron.New(
		cron.WithLocation(opts.Location),
		cron.WithLogger(cronLogger{log: log}),
		cron.WithChain(cron.Recover(cronLogger{log: log})),
	)

	return &Scheduler{
		ctx:        ctx,
		cron:       c,
		opts:       opts,
		prefs:      prefs,
		deliveries: deliveries,
		selector:   selector,
		mailer:     mailer,
		log:        log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.opts.Spec, s.dispatch); err != nil {
		return fmt.Errorf("add dispatch job %q: %w", s.opts.Spec, err)
	}

	s.cron.Start()

	return nil
}

// Stop halts the timer and waits for a running dispatch to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) dispatch() {
	select {
	case <-s.ctx.Done():
		s.log.InfoContext(s.ctx, "Scheduler context is done",
			"error", s.ctx.Err())
		return
	default:
	}

	s.RunOnce(s.ctx)
}

// RunOnce processes every subscriber once. It returns false without doing
// anything when another run is still in progress.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, bool) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.WarnContext(ctx, "Skipping dispatch, previous run is still in progress")
		return Report{}, false
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	started := s.opts.Now()
	weekend := IsWeekend(started.In(s.opts.Location))

	subs, err := s.prefs.All(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to load subscribers",
			"error", err)
	}

	report := Report{Subscribers: len(subs), Weekend: weekend}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan domain.Subscriber)
	)

	for range min(s.opts.Workers, max(len(subs), 1)) {
		wg.Go(func() {
			for sub := range jobs {
				result := s.deliver(ctx, sub, weekend)

				mu.Lock()
				report.add(result)
				mu.Unlock()
			}
		})
	}

	for _, sub := range subs {
		jobs <- sub
	}
	close(jobs)
	wg.Wait()

	s.log.InfoContext(ctx, "Dispatch finished",
		"subscribers", report.Subscribers,
		"sent", report.Sent,
		"skipped", report.Skipped,
		"notFound", report.NotFound,
		"failed", report.Failed,
		"weekend", report.Weekend,
		"duration", time.Since(started).String())

	return report, true
}

// DeliverNow runs a weekday cycle for a single subscriber, outside the
// timer. Having nothing to send is not an error.
func (s *Scheduler) DeliverNow(ctx context.Context, sub domain.Subscriber) error {
	sel, ok := s.selector.Select(ctx, sub, false)
	if !ok {
		s.log.DebugContext(ctx, "Nothing to deliver",
			"email", sub.Email)
		return nil
	}

	err := s.mailer.Send(ctx, sub.Email, sel)
	s.record(ctx, sub, sel, err)

	if err != nil {
		return fmt.Errorf("deliver to %s: %w", sub.Email, err)
	}

	return nil
}

func (s *Scheduler) deliver(
	ctx context.Context,
	sub domain.Subscriber,
	weekend bool,
) (result outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "Recovered from panic while delivering",
				"panic", r,
				"email", sub.Email)
			result = outcomeFailed
		}
	}()

	if err := ctx.Err(); err != nil {
		s.log.ErrorContext(ctx, "Dispatch deadline reached before delivery",
			"error", err,
			"email", sub.Email)
		return outcomeFailed
	}

	sel, ok := s.selector.Select(ctx, sub, weekend)
	if !ok {
		s.log.DebugContext(ctx, "Skipping subscriber",
			"email", sub.Email)
		return outcomeSkipped
	}

	err := s.mailer.Send(ctx, sub.Email, sel)
	s.record(ctx, sub, sel, err)

	if err != nil {
		s.log.ErrorContext(ctx, "Failed to send mail",
			"error", err,
			"email", sub.Email,
			"source", sel.Source.Name)
		return outcomeFailed
	}

	if sel.Entry.IsNotFound() {
		return outcomeNotFound
	}

	return outcomeSent
}

func (s *Scheduler) record(
	ctx context.Context,
	sub domain.Subscriber,
	sel domain.Selection,
	sendErr error,
) {
	if s.deliveries == nil {
		return
	}

	d := domain.Delivery{
		ID:         uuid.NewString(),
		Email:      sub.Email,
		SourceName: sel.Source.Name,
		Topic:      sel.Source.Topic,
		Title:      sel.Entry.Title,
		Link:       sel.Entry.Link,
		Status:     domain.DeliveryStatusSent,
		CreatedAt:  s.opts.Now().UTC(),
	}

	if sendErr != nil {
		d.Status = domain.DeliveryStatusFailed
		d.Error = sendErr.Error()
	}

	if err := s.deliveries.RecordDelivery(ctx, d); err != nil {
		s.log.ErrorContext(ctx, "Failed to record delivery",
			"error", err,
			"email", sub.Email,
			"status", d.Status)
	}
}

func (r *Report) add(o outcome) {
	switch o {
	case outcomeSent:
		r.Sent++
	case outcomeNotFound:
		r.Sent++
		r.NotFound++
	case outcomeSkipped:
		r.Skipped++
	case outcomeFailed:
		r.Failed++
	}
}

func IsWeekend(t time.Time) bool {
	day := t.Weekday()
	return day == time.Saturday || day == time.Sunday
}

// cronLogger routes cron's own messages into slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
