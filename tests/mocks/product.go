package mocks

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/google/uuid"

	productDomain "github.com/davicafu/productregistry/internal/product/domain"
	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	"github.com/davicafu/productregistry/internal/shared/infra/platform/persistence"
	sharedQuery "github.com/davicafu/productregistry/internal/shared/infra/platform/query"
)

// InMemoryProductRepo simula el lado de escritura: agregado, event log y outbox
// se actualizan juntos bajo el mismo mutex.
type InMemoryProductRepo struct {
	Products map[uuid.UUID]productDomain.Product
	Events   []sharedDomain.EventLogEntry
	Outbox   []sharedDomain.EventLogEntry

	// ConflictsToInject hace fallar los siguientes Save con ErrConcurrencyConflict.
	ConflictsToInject int
	SaveCalls         int

	mu sync.Mutex
}

func NewInMemoryProductRepo() *InMemoryProductRepo {
	return &InMemoryProductRepo{Products: make(map[uuid.UUID]productDomain.Product)}
}

func (r *InMemoryProductRepo) Save(ctx context.Context, p *productDomain.Product, expectedVersion int64, evt productDomain.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SaveCalls++

	if r.ConflictsToInject > 0 {
		r.ConflictsToInject--
		return fmt.Errorf("%w: injected", sharedDomain.ErrConcurrencyConflict)
	}

	stored, exists := r.Products[p.ID]
	if expectedVersion == 0 {
		if exists {
			return sharedDomain.ErrConcurrencyConflict
		}
		for _, other := range r.Products {
			if other.SkuID == p.SkuID {
				return productDomain.ErrDuplicateSku
			}
		}
	} else if !exists || stored.Version != expectedVersion {
		return sharedDomain.ErrConcurrencyConflict
	}

	entry, err := productDomain.ToLogEntry(evt)
	if err != nil {
		return err
	}
	entry.LogID = int64(len(r.Events) + 1)
	r.Events = append(r.Events, entry)
	r.Outbox = append(r.Outbox, entry)
	r.Products[p.ID] = *p
	return nil
}

func (r *InMemoryProductRepo) FindByID(ctx context.Context, id uuid.UUID) (*productDomain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Products[id]
	if !ok {
		return nil, productDomain.ErrProductNotFound
	}
	return &p, nil
}

func (r *InMemoryProductRepo) ExistsBySku(ctx context.Context, sku productDomain.SkuID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.Products {
		if p.SkuID == sku {
			return true, nil
		}
	}
	return false, nil
}

// Append permite usar el repo como EventLog en tests del lado de lectura.
func (r *InMemoryProductRepo) Append(ctx context.Context, q persistence.DBTX, expectedVersion int64, entry sharedDomain.EventLogEntry) (sharedDomain.EventLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var current int64
	for _, e := range r.Events {
		if e.AggregateType == entry.AggregateType && e.AggregateID == entry.AggregateID && e.AggregateVersion > current {
			current = e.AggregateVersion
		}
	}
	if current != expectedVersion || entry.AggregateVersion != expectedVersion+1 {
		return sharedDomain.EventLogEntry{}, sharedDomain.ErrConcurrencyConflict
	}
	entry.LogID = int64(len(r.Events) + 1)
	r.Events = append(r.Events, entry)
	return entry, nil
}

func (r *InMemoryProductRepo) LoadStream(ctx context.Context, aggregateType string, aggregateID uuid.UUID) ([]sharedDomain.EventLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []sharedDomain.EventLogEntry
	for _, e := range r.Events {
		if e.AggregateType == aggregateType && e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AggregateVersion < out[j].AggregateVersion })
	return out, nil
}

var (
	_ productDomain.ProductRepository = (*InMemoryProductRepo)(nil)
	_ sharedDomain.EventLog           = (*InMemoryProductRepo)(nil)
)

// InMemoryViewRepo simula el View Store con la misma comparación de versión.
type InMemoryViewRepo struct {
	Views map[uuid.UUID]productDomain.ProductView

	// FailWith hace fallar todas las operaciones, para simular caídas.
	FailWith error

	mu sync.Mutex
}

func NewInMemoryViewRepo() *InMemoryViewRepo {
	return &InMemoryViewRepo{Views: make(map[uuid.UUID]productDomain.ProductView)}
}

func (r *InMemoryViewRepo) Save(ctx context.Context, v *productDomain.ProductView, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return r.FailWith
	}

	var current int64
	if stored, ok := r.Views[v.ID]; ok {
		current = stored.Version
	}
	if current != expectedVersion {
		return fmt.Errorf("%w: stored %d, expected %d", productDomain.ErrViewVersionMismatch, current, expectedVersion)
	}
	r.Views[v.ID] = *v
	return nil
}

func (r *InMemoryViewRepo) FindByID(ctx context.Context, id uuid.UUID) (*productDomain.ProductView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return nil, r.FailWith
	}
	v, ok := r.Views[id]
	if !ok {
		return nil, productDomain.ErrProductNotFound
	}
	return &v, nil
}

func (r *InMemoryViewRepo) FindBySku(ctx context.Context, sku string) (*productDomain.ProductView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.Views {
		if v.SkuID == sku {
			return &v, nil
		}
	}
	return nil, productDomain.ErrProductNotFound
}

// Search solo entiende las condiciones sku_id ILIKE y status =.
func (r *InMemoryViewRepo) Search(ctx context.Context, criteria sharedDomain.Criteria, page sharedQuery.OffsetPagination, order sharedQuery.Sort) ([]*productDomain.ProductView, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var conds []sharedDomain.Criterion
	if criteria != nil {
		conds = criteria.ToConditions()
	}

	var matched []*productDomain.ProductView
	for _, v := range r.Views {
		if matchesAll(v, conds) {
			matched = append(matched, &v)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if order.Desc {
			return matched[i].SkuID > matched[j].SkuID
		}
		return matched[i].SkuID < matched[j].SkuID
	})

	total := int64(len(matched))
	if page.Offset >= len(matched) {
		return []*productDomain.ProductView{}, total, nil
	}
	end := page.Offset + page.Limit
	if page.Limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[page.Offset:end], total, nil
}

func matchesAll(v productDomain.ProductView, conds []sharedDomain.Criterion) bool {
	for _, c := range conds {
		switch c.Field {
		case "sku_id":
			re := regexp.MustCompile("(?i)" + sharedDomain.LikeToRegexp(fmt.Sprint(c.Value)))
			if !re.MatchString(v.SkuID) {
				return false
			}
		case "status":
			if string(v.Status) != fmt.Sprint(c.Value) {
				return false
			}
		}
	}
	return true
}

var _ productDomain.ProductViewRepository = (*InMemoryViewRepo)(nil)
