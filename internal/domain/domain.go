package domain

import (
	"errors"
	"time"
)

const (
	NotFoundTitle   = "No articles found"
	NotFoundLink    = "#"
	NotFoundSummary = "No articles are currently available. " +
		"The source site may be under maintenance or temporarily empty. " +
		"We'll get back to you with a paper or article the next day as the schedule runs again."

	WeekendSummaryPrefix = "<b>Weekend Special:</b> "

	DeliveryStatusSent   = "sent"
	DeliveryStatusFailed = "failed"
)

var ErrSubscriberNotFound = errors.New("subscriber not found")

type TopicID string

type Subscriber struct {
	Email  string
	Topics []TopicID
}

type Source struct {
	Name     string
	Topic    TopicID
	Endpoint string
	Weekend  bool
}

type Entry struct {
	Title      string
	Link       string
	Summary    string
	SourceName string
}

// NotFoundEntry is delivered in place of a real entry when a source yields
// nothing, so the subscriber still hears from the service.
func NotFoundEntry(sourceName string) Entry {
	return Entry{
		Title:      NotFoundTitle,
		Link:       NotFoundLink,
		Summary:    NotFoundSummary,
		SourceName: sourceName,
	}
}

func (e Entry) IsNotFound() bool {
	return e.Title == NotFoundTitle && e.Link == NotFoundLink && e.Summary == NotFoundSummary
}

type Selection struct {
	Entry   Entry
	Source  Source
	Weekend bool
}

type Delivery struct {
	ID         string
	Email      string
	SourceName string
	Topic      TopicID
	Title      string
	Link       string
	Status     string
	Error      string
	CreatedAt  time.Time
}
