package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	sharedBus "github.com/davicafu/productregistry/internal/shared/infra/platform/bus"
)

type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusRetired Status = "RETIRED"
)

// Product es el agregado de escritura. Version cuenta los eventos aplicados.
type Product struct {
	ID          uuid.UUID
	Name        string
	Description string
	SkuID       SkuID
	Status      Status
	Version     int64
}

// now trunca a milisegundos para que los instantes sobrevivan a cualquier almacén.
var now = func() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func (p *Product) PartitionKey() string {
	return p.ID.String()
}

// NewProduct registra un producto nuevo. La unicidad del SKU la comprueba quien llama.
func NewProduct(name, description string, sku SkuID) (*Product, Envelope, error) {
	if strings.TrimSpace(name) == "" {
		return nil, Envelope{}, fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	if sku.IsZero() {
		return nil, Envelope{}, fmt.Errorf("%w: sku is required", ErrInvalidSku)
	}

	p := &Product{ID: uuid.New()}
	env := p.record(Registered{SkuID: sku.String(), Name: name, Description: description})
	return p, env, nil
}

// --- Métodos de dominio ---

func (p *Product) Rename(newName string) (Envelope, error) {
	if err := p.ensureActive(); err != nil {
		return Envelope{}, err
	}
	if strings.TrimSpace(newName) == "" {
		return Envelope{}, fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	return p.record(Renamed{OldName: p.Name, NewName: newName}), nil
}

func (p *Product) ChangeDescription(newDescription string) (Envelope, error) {
	if err := p.ensureActive(); err != nil {
		return Envelope{}, err
	}
	return p.record(DescriptionChanged{OldDescription: p.Description, NewDescription: newDescription}), nil
}

// Retire es terminal: después no se admite ningún comando.
func (p *Product) Retire() (Envelope, error) {
	if err := p.ensureActive(); err != nil {
		return Envelope{}, err
	}
	return p.record(Retired{}), nil
}

func (p *Product) ensureActive() error {
	if p.Status == StatusRetired {
		return fmt.Errorf("%w: %s", ErrInvalidState, p.ID)
	}
	return nil
}

func (p *Product) record(evt Event) Envelope {
	p.apply(evt)
	p.Version++
	return Envelope{
		AggregateType: AggregateType,
		AggregateID:   p.ID,
		Sequence:      p.Version,
		OccurredAt:    now(),
		Event:         evt,
	}
}

func (p *Product) apply(evt Event) {
	switch e := evt.(type) {
	case Registered:
		p.SkuID = SkuID{value: e.SkuID}
		p.Name = e.Name
		p.Description = e.Description
		p.Status = StatusActive
	case Renamed:
		p.Name = e.NewName
	case DescriptionChanged:
		p.Description = e.NewDescription
	case Retired:
		p.Status = StatusRetired
	}
}

// Rehydrate reconstruye el agregado a partir de su historia en orden de versión.
func Rehydrate(id uuid.UUID, history []Envelope) (*Product, error) {
	if len(history) == 0 {
		return nil, ErrProductNotFound
	}
	p := &Product{ID: id}
	for _, env := range history {
		if env.Event == nil {
			return nil, fmt.Errorf("%w: nil event at sequence %d", ErrMalformedEvent, env.Sequence)
		}
		if env.Sequence != p.Version+1 {
			return nil, fmt.Errorf("%w: expected sequence %d, got %d", ErrMalformedEvent, p.Version+1, env.Sequence)
		}
		if _, ok := env.Event.(Registered); ok != (p.Version == 0) {
			return nil, fmt.Errorf("%w: %s at sequence %d", ErrMalformedEvent, env.Event.Type(), env.Sequence)
		}
		p.apply(env.Event)
		p.Version = env.Sequence
	}
	return p, nil
}

var _ sharedBus.Keyer = (*Product)(nil)
