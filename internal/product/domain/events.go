package domain

import (
	"encoding/json"
	"fmt"

	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	sharedEvents "github.com/davicafu/productregistry/internal/shared/domain/events"
	sharedUtils "github.com/davicafu/productregistry/internal/shared/infra/utils"
)

const (
	AggregateType      = "Product"
	EventSchemaVersion = 1
)

type EventType string

const (
	EventRegistered         EventType = "ProductRegistered"
	EventRenamed            EventType = "ProductNameUpdated"
	EventDescriptionChanged EventType = "ProductDescriptionUpdated"
	EventRetired            EventType = "ProductRetired"
)

// Event es la unión cerrada de eventos de Product. Solo este paquete puede implementarla.
type Event interface {
	Type() EventType
	isProductEvent()
}

type Registered struct {
	SkuID       string `json:"skuId"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Renamed struct {
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

type DescriptionChanged struct {
	OldDescription string `json:"oldDescription"`
	NewDescription string `json:"newDescription"`
}

type Retired struct{}

func (Registered) Type() EventType         { return EventRegistered }
func (Renamed) Type() EventType            { return EventRenamed }
func (DescriptionChanged) Type() EventType { return EventDescriptionChanged }
func (Retired) Type() EventType            { return EventRetired }

func (Registered) isProductEvent()         {}
func (Renamed) isProductEvent()            {}
func (DescriptionChanged) isProductEvent() {}
func (Retired) isProductEvent()            {}

// Envelope es un evento de Product con su posición en el agregado.
type Envelope = sharedEvents.Envelope[Event]

// DecodeEvent lee primero la etiqueta de tipo y luego decodifica el payload de esa variante.
func DecodeEvent(eventType string, payload json.RawMessage) (Event, error) {
	var (
		evt Event
		err error
	)
	switch EventType(eventType) {
	case EventRegistered:
		evt, err = sharedUtils.UnmarshalAs[Registered](payload)
	case EventRenamed:
		evt, err = sharedUtils.UnmarshalAs[Renamed](payload)
	case EventDescriptionChanged:
		evt, err = sharedUtils.UnmarshalAs[DescriptionChanged](payload)
	case EventRetired:
		evt, err = sharedUtils.UnmarshalAs[Retired](payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedEvent, eventType, err)
	}
	return evt, nil
}

// ToLogEntry serializa el envelope como entrada del event log (sin LogID).
func ToLogEntry(env Envelope) (sharedDomain.EventLogEntry, error) {
	if env.Event == nil {
		return sharedDomain.EventLogEntry{}, fmt.Errorf("%w: nil event", ErrMalformedEvent)
	}
	payload, err := json.Marshal(env.Event)
	if err != nil {
		return sharedDomain.EventLogEntry{}, fmt.Errorf("failed to marshal %s payload: %w", env.Event.Type(), err)
	}
	return sharedDomain.EventLogEntry{
		AggregateType:      env.AggregateType,
		AggregateID:        env.AggregateID,
		AggregateVersion:   env.Sequence,
		EventType:          string(env.Event.Type()),
		EventSchemaVersion: EventSchemaVersion,
		OccurredAt:         env.OccurredAt,
		Payload:            payload,
	}, nil
}

// FromLogEntry reconstruye el envelope tipado de una entrada del event log.
func FromLogEntry(entry sharedDomain.EventLogEntry) (Envelope, error) {
	if entry.AggregateType != AggregateType {
		return Envelope{}, fmt.Errorf("%w: aggregate type %q", ErrMalformedEvent, entry.AggregateType)
	}
	if entry.AggregateVersion < 1 {
		return Envelope{}, fmt.Errorf("%w: sequence %d", ErrMalformedEvent, entry.AggregateVersion)
	}
	evt, err := DecodeEvent(entry.EventType, entry.Payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		AggregateType: entry.AggregateType,
		AggregateID:   entry.AggregateID,
		Sequence:      entry.AggregateVersion,
		OccurredAt:    entry.OccurredAt,
		Event:         evt,
	}, nil
}
