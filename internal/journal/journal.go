// internal/journal/journal.go
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"libraledger/internal/store"
)

const (
	tableEvents   = "lending_events"
	colID         = "id"
	colBookID     = "book_id"
	colUserID     = "user_id"
	colEventType  = "event_type"
	colPayload    = "payload"
	colOccurredAt = "occurred_at"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrInvalidEventType = errors.New("invalid event type")

type EventType string

const (
	LoanOpened             EventType = "LoanOpened"
	LoanClosed             EventType = "LoanClosed"
	ReservationCompensated EventType = "ReservationCompensated"
	LedgerInconsistency    EventType = "LedgerInconsistency"
)

// Event is one entry of the lending journal.
type Event struct {
	ID         uuid.UUID           `json:"id"`
	BookID     int64               `json:"book_id"`
	UserID     int64               `json:"user_id"`
	Type       EventType           `json:"type"`
	Payload    jsoniter.RawMessage `json:"payload"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// Entry is what callers append; the journal assigns id and timestamp.
type Entry struct {
	BookID  int64
	UserID  int64
	Type    EventType
	Payload any
}

// Store is the part of the store client the journal needs.
type Store interface {
	InsertRecord(ctx context.Context, table string, values goqu.Record) error
	QueryDataset(ctx context.Context, ds *goqu.SelectDataset, each store.RowFunc) error
	From(table ...any) *goqu.SelectDataset
}

// Journal is an append-only audit trail of loan transitions. It never decides an outcome.
type Journal struct {
	store  Store
	tracer trace.Tracer
	now    func() time.Time
}

func New(s Store) *Journal {
	return &Journal{
		store:  s,
		tracer: otel.Tracer("libraledger/journal"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append stores entry with a time-ordered id.
func (j *Journal) Append(ctx context.Context, entry Entry) (Event, error) {
	ctx, span := j.tracer.Start(ctx, "journal.append",
		trace.WithAttributes(
			attribute.Int64("book.id", entry.BookID),
			attribute.Int64("user.id", entry.UserID),
			attribute.String("event.type", string(entry.Type)),
		),
	)
	defer span.End()

	if entry.Type == "" {
		return Event{}, ErrInvalidEventType
	}

	payload := []byte("{}")
	if entry.Payload != nil {
		var err error
		payload, err = json.Marshal(entry.Payload)
		if err != nil {
			return Event{}, fmt.Errorf("failed to marshal event payload: %w", err)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Event{}, fmt.Errorf("generating event id: %w", err)
	}

	event := Event{
		ID:         id,
		BookID:     entry.BookID,
		UserID:     entry.UserID,
		Type:       entry.Type,
		Payload:    payload,
		OccurredAt: j.now(),
	}

	err = j.store.InsertRecord(ctx, tableEvents, goqu.Record{
		colID:         event.ID,
		colBookID:     event.BookID,
		colUserID:     event.UserID,
		colEventType:  string(event.Type),
		colPayload:    string(payload),
		colOccurredAt: event.OccurredAt,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Event{}, fmt.Errorf("append event: %w", err)
	}

	span.SetAttributes(attribute.String("event.id", event.ID.String()))
	return event, nil
}

// LoadForBook returns the journal of one book in the order it was written.
func (j *Journal) LoadForBook(ctx context.Context, bookID int64) ([]Event, error) {
	ctx, span := j.tracer.Start(ctx, "journal.load",
		trace.WithAttributes(attribute.Int64("book.id", bookID)),
	)
	defer span.End()

	ds := j.store.From(tableEvents).
		Select(colID, colBookID, colUserID, colEventType, colPayload, colOccurredAt).
		Where(goqu.C(colBookID).Eq(bookID)).
		Order(goqu.C(colOccurredAt).Asc(), goqu.C(colID).Asc())

	events := make([]Event, 0)
	err := j.store.QueryDataset(ctx, ds, func(row store.Scanner) error {
		var (
			event     Event
			eventType string
			payload   []byte
		)
		if err := row.Scan(&event.ID, &event.BookID, &event.UserID, &eventType, &payload, &event.OccurredAt); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		event.Type = EventType(eventType)
		event.Payload = payload
		events = append(events, event)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}
