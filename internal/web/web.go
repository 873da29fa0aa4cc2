// Package web serves the subscription pages.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	netmail "net/mail"
	"slices"
	"strings"
	"sync"
	"time"

	"papermail/internal/catalog"
	"papermail/internal/domain"
	"papermail/internal/mail"
	"papermail/internal/store"
)

const (
	historyLimit           = 5
	defaultDeliverTimeout  = 2 * time.Minute
	maxFormBytes           = 64 << 10
	contentTypeHTML        = "text/html; charset=utf-8"
	subscribedLead         = "you will receive papers from:"
	updatedLead            = "your new selection includes:"
	subscribedHeading      = "Subscribed!"
	updatedHeading         = "Preferences Updated!"
	noTopicsSelectionLabel = "weekend specials only"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pages = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

type Deliverer interface {
	DeliverNow(ctx context.Context, sub domain.Subscriber) error
}

type Sampler interface {
	Sample(ctx context.Context) domain.Selection
}

type Options struct {
	Brand          string
	DeliverTimeout time.Duration
}

type Handler struct {
	catalog   *catalog.Catalog
	prefs     store.Preferences
	history   store.DeliveryHistory
	deliverer Deliverer
	sampler   Sampler
	renderer  *mail.Renderer
	opts      Options
	pending   sync.WaitGroup
	log       *slog.Logger
}

type topicOption struct {
	ID      domain.TopicID
	Name    string
	Checked bool
}

type formPage struct {
	Brand   string
	Email   string
	Topics  []topicOption
	History []domain.Delivery
}

type donePage struct {
	Heading  string
	Email    string
	Lead     string
	Selected string
}

// New builds the page handler. history may be nil.
func New(
	c *catalog.Catalog,
	prefs store.Preferences,
	history store.DeliveryHistory,
	deliverer Deliverer,
	sampler Sampler,
	renderer *mail.Renderer,
	opts Options,
	log *slog.Logger,
) *Handler {
	if opts.DeliverTimeout <= 0 {
		opts.DeliverTimeout = defaultDeliverTimeout
	}

	return &Handler{
		catalog:   c,
		prefs:     prefs,
		history:   history,
		deliverer: deliverer,
		sampler:   sampler,
		renderer:  renderer,
		opts:      opts,
		log:       log,
	}
}

// Wait blocks until welcome deliveries started by subscriptions finish.
func (h *Handler) Wait() {
	h.pending.Wait()
}

func (h *Handler) home(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "index.html", formPage{
		Brand:  h.opts.Brand,
		Topics: h.topicOptions(nil),
	})
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	email, topics, ok := h.parseForm(w, r)
	if !ok {
		return
	}

	if err := h.prefs.Upsert(r.Context(), email, topics); err != nil {
		h.fail(w, r, "Failed to save subscriber", err, "email", email)
		return
	}

	h.log.InfoContext(r.Context(), "Subscriber saved",
		"email", email,
		"topics", topics)

	h.deliverWelcome(r.Context(), domain.Subscriber{Email: email, Topics: topics})

	h.render(w, r, "done.html", donePage{
		Heading:  subscribedHeading,
		Email:    email,
		Lead:     subscribedLead,
		Selected: h.selectedNames(topics),
	})
}

// deliverWelcome sends the first mail in the background so the response
// does not wait on the relay.
func (h *Handler) deliverWelcome(ctx context.Context, sub domain.Subscriber) {
	ctx = context.WithoutCancel(ctx)

	h.pending.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, h.opts.DeliverTimeout)
		defer cancel()

		if err := h.deliverer.DeliverNow(ctx, sub); err != nil {
			h.log.ErrorContext(ctx, "Failed to deliver welcome mail",
				"error", err,
				"email", sub.Email)
		}
	})
}

func (h *Handler) updateForm(w http.ResponseWriter, r *http.Request) {
	email := store.NormalizeEmail(r.URL.Query().Get("email"))
	if email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	sub, err := h.prefs.Get(r.Context(), email)
	if errors.Is(err, domain.ErrSubscriberNotFound) {
		http.Error(w, fmt.Sprintf("No subscription found for %s.", email), http.StatusNotFound)
		return
	}
	if err != nil {
		h.fail(w, r, "Failed to load subscriber", err, "email", email)
		return
	}

	h.render(w, r, "update.html", formPage{
		Brand:   h.opts.Brand,
		Email:   sub.Email,
		Topics:  h.topicOptions(sub.Topics),
		History: h.recentDeliveries(r.Context(), sub.Email),
	})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	email, topics, ok := h.parseForm(w, r)
	if !ok {
		return
	}

	if err := h.prefs.Upsert(r.Context(), email, topics); err != nil {
		h.fail(w, r, "Failed to update subscriber", err, "email", email)
		return
	}

	h.log.InfoContext(r.Context(), "Subscriber updated",
		"email", email,
		"topics", topics)

	h.render(w, r, "done.html", donePage{
		Heading:  updatedHeading,
		Email:    email,
		Lead:     updatedLead,
		Selected: h.selectedNames(topics),
	})
}

func (h *Handler) sample(w http.ResponseWriter, r *http.Request) {
	msg, err := h.renderer.Render("", h.sampler.Sample(r.Context()), "")
	if err != nil {
		h.fail(w, r, "Failed to render sample", err)
		return
	}

	w.Header().Set("Content-Type", contentTypeHTML)
	_, _ = w.Write([]byte(msg.HTML))
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// parseForm reads the email and the topic checkboxes. Unknown topic ids are
// dropped.
func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) (string, []domain.TopicID, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return "", nil, false
	}

	email := store.NormalizeEmail(r.PostForm.Get("email"))
	if !validEmail(email) {
		http.Error(w, "invalid email address", http.StatusBadRequest)
		return "", nil, false
	}

	raw := make([]domain.TopicID, 0, len(r.PostForm["domain"]))
	for _, v := range r.PostForm["domain"] {
		raw = append(raw, domain.TopicID(v))
	}

	requested := store.NormalizeTopics(raw)

	topics := h.catalog.Known(requested)
	if len(topics) < len(requested) {
		h.log.WarnContext(r.Context(), "Dropping unknown topics",
			"email", email,
			"topics", raw)
	}

	return email, topics, true
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}

	addr, err := netmail.ParseAddress(email)

	return err == nil && addr.Address == email
}

func (h *Handler) topicOptions(selected []domain.TopicID) []topicOption {
	sources := h.catalog.Topics()
	out := make([]topicOption, 0, len(sources))

	for _, src := range sources {
		out = append(out, topicOption{
			ID:      src.Topic,
			Name:    src.Name,
			Checked: slices.Contains(selected, src.Topic),
		})
	}

	return out
}

func (h *Handler) selectedNames(topics []domain.TopicID) string {
	if len(topics) == 0 {
		return noTopicsSelectionLabel
	}

	names := make([]string, 0, len(topics))
	for _, id := range topics {
		if src, ok := h.catalog.ByTopic(id); ok {
			names = append(names, src.Name)
		}
	}

	return strings.Join(names, ", ")
}

func (h *Handler) recentDeliveries(ctx context.Context, email string) []domain.Delivery {
	if h.history == nil {
		return nil
	}

	deliveries, err := h.history.RecentDeliveries(ctx, email, historyLimit)
	if err != nil {
		h.log.WarnContext(ctx, "Failed to load delivery history",
			"error", err,
			"email", email)
		return nil
	}

	return deliveries
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", contentTypeHTML)

	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		h.log.ErrorContext(r.Context(), "Failed to render page",
			"error", err,
			"page", name)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error, args ...any) {
	h.log.ErrorContext(r.Context(), msg, append([]any{"error", err}, args...)...)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
