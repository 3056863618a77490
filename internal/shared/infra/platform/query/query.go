package query

// OffsetPagination para paginación clásica
type OffsetPagination struct {
	Limit  int
	Offset int
}

// PageOf convierte una página (base cero) y tamaño en OffsetPagination.
func PageOf(page, size int) OffsetPagination {
	if page < 0 {
		page = 0
	}
	return OffsetPagination{Limit: size, Offset: page * size}
}

// Sort indica campo y dirección.
type Sort struct {
	Field string // ej. "sku_id", "updated_at"
	Desc  bool
}

// Page es un resultado paginado con el total de coincidencias.
type Page[T any] struct {
	Items []T   `json:"data"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
	Total int64 `json:"total"`
}
