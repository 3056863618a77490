package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CatalogRef referencia un catálogo que contiene el producto.
type CatalogRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// EventRecord es una entrada del historial reproducible de la vista.
type EventRecord struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
	Payload   json.RawMessage `json:"payload"`
}

// ProductView es la proyección de lectura de un producto.
// Version es la última versión del agregado plegada en la vista.
type ProductView struct {
	ID          uuid.UUID     `json:"id"`
	Version     int64         `json:"version"`
	SkuID       string        `json:"skuId"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      Status        `json:"status"`
	Catalogs    []CatalogRef  `json:"catalogs"`
	Events      []EventRecord `json:"events"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// ProductSummary es la forma reducida para listados.
type ProductSummary struct {
	ID       uuid.UUID `json:"id"`
	SkuID    string    `json:"skuId"`
	Name     string    `json:"name"`
	Status   Status    `json:"status"`
	Catalogs int       `json:"catalogs"`
}

func (v *ProductView) Summary() ProductSummary {
	return ProductSummary{
		ID:       v.ID,
		SkuID:    v.SkuID,
		Name:     v.Name,
		Status:   v.Status,
		Catalogs: len(v.Catalogs),
	}
}

// ---------------- Proyección ----------------

// Decision indica qué hacer con un evento según la versión actual de la vista.
type Decision int

const (
	DecisionApply Decision = iota
	DecisionDuplicate
	DecisionGap
)

// Decide compara la secuencia del evento con la vista (nil si aún no existe).
func Decide(view *ProductView, sequence int64) Decision {
	var current int64
	if view != nil {
		current = view.Version
	}
	switch {
	case sequence == current+1:
		return DecisionApply
	case sequence <= current:
		return DecisionDuplicate
	default:
		return DecisionGap
	}
}

// Fold aplica env sobre view y devuelve una vista nueva; view no se modifica.
// El llamador decide antes con Decide si el evento toca.
func Fold(view *ProductView, env Envelope) (*ProductView, error) {
	if env.Event == nil {
		return nil, fmt.Errorf("%w: nil event", ErrMalformedEvent)
	}
	payload, err := json.Marshal(env.Event)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var next ProductView
	switch e := env.Event.(type) {
	case Registered:
		if view != nil {
			return nil, fmt.Errorf("%w: %s on existing view %s", ErrMalformedEvent, e.Type(), env.AggregateID)
		}
		next = ProductView{
			ID:          env.AggregateID,
			SkuID:       e.SkuID,
			Name:        e.Name,
			Description: e.Description,
			Status:      StatusActive,
			Catalogs:    []CatalogRef{},
			CreatedAt:   env.OccurredAt,
		}
	default:
		if view == nil {
			return nil, fmt.Errorf("%w: %s before registration of %s", ErrMalformedEvent, e.Type(), env.AggregateID)
		}
		next = view.clone()
		switch e := e.(type) {
		case Renamed:
			next.Name = e.NewName
		case DescriptionChanged:
			next.Description = e.NewDescription
		case Retired:
			next.Status = StatusRetired
		}
	}

	next.Version = env.Sequence
	next.UpdatedAt = env.OccurredAt
	next.Events = append(next.Events, EventRecord{
		Type:      env.Event.Type(),
		Timestamp: env.OccurredAt,
		Sequence:  env.Sequence,
		Payload:   payload,
	})
	return &next, nil
}

// Replay pliega la historia completa de un agregado desde cero.
func Replay(history []Envelope) (*ProductView, error) {
	var view *ProductView
	for _, env := range history {
		if Decide(view, env.Sequence) != DecisionApply {
			return nil, fmt.Errorf("%w: sequence %d out of order", ErrMalformedEvent, env.Sequence)
		}
		next, err := Fold(view, env)
		if err != nil {
			return nil, err
		}
		view = next
	}
	if view == nil {
		return nil, ErrProductNotFound
	}
	return view, nil
}

func (v *ProductView) clone() ProductView {
	c := *v
	c.Catalogs = append(make([]CatalogRef, 0, len(v.Catalogs)), v.Catalogs...)
	c.Events = append(make([]EventRecord, 0, len(v.Events)+1), v.Events...)
	return c
}
