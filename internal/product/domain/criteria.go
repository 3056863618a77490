package domain

import (
	"strings"

	shared "github.com/davicafu/productregistry/internal/shared/domain"
)

// --- Criterios específicos para ProductView ---

// SkuLikeCriteria busca vistas cuyo SKU contenga el patrón, sin distinguir mayúsculas.
// El patrón es literal: % y _ no actúan como comodines.
type SkuLikeCriteria struct {
	Pattern string
}

func (c SkuLikeCriteria) ToConditions() []shared.Criterion {
	if strings.TrimSpace(c.Pattern) == "" {
		return nil
	}
	return []shared.Criterion{
		{Field: "sku_id", Op: shared.OpILike, Value: "%" + shared.EscapeLike(strings.ToUpper(strings.TrimSpace(c.Pattern))) + "%"},
	}
}

// StatusCriteria filtra por estado (ACTIVE, RETIRED).
type StatusCriteria struct {
	Status Status
}

func (c StatusCriteria) ToConditions() []shared.Criterion {
	return []shared.Criterion{
		{Field: "status", Op: shared.OpEq, Value: string(c.Status)},
	}
}
