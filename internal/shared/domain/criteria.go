package domain

import (
	"regexp"
	"strings"
)

// ---------------- Operadores ----------------

type Operator string

const (
	OpEq    Operator = "="
	OpGt    Operator = ">"
	OpGte   Operator = ">="
	OpLt    Operator = "<"
	OpLte   Operator = "<="
	OpLike  Operator = "LIKE"
	OpILike Operator = "ILIKE"
)

type LogicalOperator string

const (
	OpAnd LogicalOperator = "AND"
	OpOr  LogicalOperator = "OR"
)

// Criterion describe una condición neutral de filtrado.
// Field es el nombre lógico del campo; cada adapter lo traduce a su columna.
type Criterion struct {
	Field string
	Op    Operator
	Value interface{}
}

// Criteria permite transformar filtros a condiciones neutrales
type Criteria interface {
	ToConditions() []Criterion
}

type CompositeCriteria struct {
	Operator  LogicalOperator
	Criterias []Criteria
}

func (c CompositeCriteria) ToConditions() []Criterion {
	var all []Criterion
	for _, crit := range c.Criterias {
		if crit == nil {
			continue
		}
		all = append(all, crit.ToConditions()...)
	}
	return all
}

// And crea un CompositeCriteria con operador AND
func And(criterias ...Criteria) CompositeCriteria {
	return CompositeCriteria{Operator: OpAnd, Criterias: criterias}
}

// Or crea un CompositeCriteria con operador OR
func Or(criterias ...Criteria) CompositeCriteria {
	return CompositeCriteria{Operator: OpOr, Criterias: criterias}
}

// LogicalOf devuelve el operador lógico a usar al unir las condiciones de c.
// Cualquier criterio que no sea compuesto se une con AND.
func LogicalOf(c Criteria) LogicalOperator {
	if comp, ok := c.(CompositeCriteria); ok && comp.Operator == OpOr {
		return OpOr
	}
	return OpAnd
}

// ---------------- Patrones LIKE ----------------

// LikeEscape es el carácter de escape de los patrones LIKE/ILIKE. Los adapters
// SQL lo declaran con ESCAPE.
const LikeEscape = '\\'

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike devuelve s como literal dentro de un patrón LIKE.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// LikeToRegexp traduce un patrón LIKE (con LikeEscape) a una expresión regular
// anclada equivalente: % es .*, _ es . y lo escapado es literal.
func LikeToRegexp(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == LikeEscape:
			escaped = true
		case r == '%':
			b.WriteString(".*")
		case r == '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if escaped {
		b.WriteString(regexp.QuoteMeta(string(LikeEscape)))
	}
	b.WriteString("$")
	return b.String()
}
