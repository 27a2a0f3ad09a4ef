// Package registry holds the admin application's data entities:
// organizations, the events they run, and the registrations attendees
// submit for those events. Stores accept query engine predicates so
// handlers can fold authorization into the same filter.
package registry

import (
	"context"
	"time"

	"openreg.org/internal/query"
)

// Organization owns events and scopes organization roles.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event belongs to exactly one organization.
type Event struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Registration is one attendee's sign-up for an event. Items carry the
// answers to the event's registration form, keyed by schema item.
type Registration struct {
	ID        string             `json:"id"`
	EventID   string             `json:"event_id"`
	Items     []RegistrationItem `json:"items"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// RegistrationItem is a single form answer.
type RegistrationItem struct {
	SchemaItemID string `json:"schema_item_id"`
	Value        string `json:"value"`
}

// Filterable fields, closed per entity.
const (
	OrgFieldID   query.Field = "o.id"
	OrgFieldName query.Field = "o.name"

	EventFieldID    query.Field = "e.id"
	EventFieldOrgID query.Field = "e.organization"
	EventFieldName  query.Field = "e.name"

	RegistrationFieldID      query.Field = "r.id"
	RegistrationFieldEventID query.Field = "r.event"
)

// Wire field maps for request-level queries.
var (
	OrgWireFields = map[string]query.Field{
		"id":   OrgFieldID,
		"name": OrgFieldName,
	}
	EventWireFields = map[string]query.Field{
		"id":              EventFieldID,
		"organization_id": EventFieldOrgID,
		"name":            EventFieldName,
	}
	RegistrationWireFields = map[string]query.Field{
		"id":       RegistrationFieldID,
		"event_id": RegistrationFieldEventID,
	}
)

// OrganizationStore persists organizations.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Query(ctx context.Context, q query.Query) ([]Organization, error)
	Delete(ctx context.Context, ids []string) error
}

// EventStore persists events. Create and Update verify the referenced
// organization exists before writing.
type EventStore interface {
	Upsert(ctx context.Context, events []Event) ([]Event, error)
	Query(ctx context.Context, q query.Query) ([]Event, error)
	Delete(ctx context.Context, ids []string) error
}

// RegistrationStore persists registrations with their form answers.
// Upsert verifies the referenced event exists; Query returns each
// registration with its items attached; Delete removes items with their
// registration.
type RegistrationStore interface {
	Upsert(ctx context.Context, regs []Registration) ([]Registration, error)
	Query(ctx context.Context, q query.Query) ([]Registration, error)
	Delete(ctx context.Context, ids []string) error
}
