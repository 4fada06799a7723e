// Package record defines the envelope every aggregate record is persisted in:
// a dotted name identifying the record kind and type, a JSON payload, and a
// JSON metadata document carrying the causal chain.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
)

// Kind is the first segment of a record name.
type Kind string

const (
	KindCommand      Kind = "cmd"
	KindEvent        Kind = "evt"
	KindNotification Kind = "ntf"
	KindTransfert    Kind = "tft"
)

// ErrInvalidName indicates a record name that does not follow the envelope format.
var ErrInvalidName = errors.New("invalid record name")

// Name builds the record name for a kind, namespace and specific name.
func Name(kind Kind, namespace, name string) string {
	return string(kind) + "." + namespace + "." + name
}

// TransfertName builds the record name of a cross-service transfert.
func TransfertName(name string) string {
	return string(KindTransfert) + "." + name
}

// Envelope is the parsed form of a record name.
type Envelope struct {
	Kind      Kind
	Namespace string
	Name      string
}

// ParseName splits a record name into its envelope parts. Transferts carry no
// namespace.
func ParseName(value string) (Envelope, error) {
	kind, rest, ok := strings.Cut(value, ".")
	if !ok || rest == "" {
		return Envelope{}, fmt.Errorf("%w: %q", ErrInvalidName, value)
	}
	switch Kind(kind) {
	case KindTransfert:
		return Envelope{Kind: KindTransfert, Name: rest}, nil
	case KindCommand, KindEvent, KindNotification:
	default:
		return Envelope{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidName, kind)
	}
	namespace, name, ok := strings.Cut(rest, ".")
	if !ok || namespace == "" || name == "" {
		return Envelope{}, fmt.Errorf("%w: %q", ErrInvalidName, value)
	}
	return Envelope{Kind: Kind(kind), Namespace: namespace, Name: name}, nil
}

// Metadata is the causal chain document attached to every record.
//
// ID is the record's own id. It is not serialized: readers fill it from the
// stored record id.
type Metadata struct {
	ID            *uuid.UUID `json:"-"`
	CorrelationID uuid.UUID  `json:"$correlationId"`
	CausationID   uuid.UUID  `json:"$causationId"`
	IsEvent       bool       `json:"is_event"`
}

// Root starts a new chain at the record with the given id.
func Root(id uuid.UUID, isEvent bool) Metadata {
	return Metadata{ID: &id, CorrelationID: id, CausationID: id, IsEvent: isEvent}
}

// Continue returns metadata for the record id caused by m. The correlation id
// is kept; the causation points at m. A parent without an id roots a new chain.
func (m Metadata) Continue(id uuid.UUID, isEvent bool) Metadata {
	if m.ID == nil {
		return Root(id, isEvent)
	}
	correlation := m.CorrelationID
	if correlation == uuid.Nil {
		correlation = *m.ID
	}
	return Metadata{ID: &id, CorrelationID: correlation, CausationID: *m.ID, IsEvent: isEvent}
}

// Marshal encodes the metadata document.
func (m Metadata) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMetadata reads the metadata of a stored record and sets its id.
func DecodeMetadata(rec eventlog.Record) (Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal(rec.Metadata, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata of %s@%d: %w", rec.StreamID, rec.Revision, err)
	}
	id := rec.ID
	meta.ID = &id
	return meta, nil
}
