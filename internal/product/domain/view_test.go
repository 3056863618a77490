package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
)

func productHistory(t *testing.T) []Envelope {
	t.Helper()
	p, e1, err := NewProduct("Laptop", "vieja", mustSku(t, "ABC-12345"))
	require.NoError(t, err)
	e2, err := p.Rename("Gaming Laptop")
	require.NoError(t, err)
	e3, err := p.ChangeDescription("nueva")
	require.NoError(t, err)
	e4, err := p.Retire()
	require.NoError(t, err)
	return []Envelope{e1, e2, e3, e4}
}

func TestDecide(t *testing.T) {
	view := &ProductView{Version: 2}

	assert.Equal(t, DecisionApply, Decide(nil, 1))
	assert.Equal(t, DecisionGap, Decide(nil, 2))
	assert.Equal(t, DecisionApply, Decide(view, 3))
	assert.Equal(t, DecisionDuplicate, Decide(view, 2))
	assert.Equal(t, DecisionDuplicate, Decide(view, 1))
	assert.Equal(t, DecisionGap, Decide(view, 4))
}

func TestFold_BuildsViewStepByStep(t *testing.T) {
	history := productHistory(t)

	view, err := Fold(nil, history[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), view.Version)
	assert.Equal(t, "ABC-12345", view.SkuID)
	assert.Equal(t, StatusActive, view.Status)
	assert.NotNil(t, view.Catalogs)
	assert.Empty(t, view.Catalogs)
	assert.Equal(t, history[0].OccurredAt, view.CreatedAt)

	renamed, err := Fold(view, history[1])
	require.NoError(t, err)
	assert.Equal(t, "Gaming Laptop", renamed.Name)
	assert.Equal(t, int64(2), renamed.Version)
	require.Len(t, renamed.Events, 2)
	assert.Equal(t, EventRenamed, renamed.Events[1].Type)
	assert.JSONEq(t, `{"oldName":"Laptop","newName":"Gaming Laptop"}`, string(renamed.Events[1].Payload))

	// La vista original no cambia.
	assert.Equal(t, "Laptop", view.Name)
	assert.Len(t, view.Events, 1)
}

func TestFold_RejectsInconsistentHistory(t *testing.T) {
	history := productHistory(t)

	_, err := Fold(nil, history[1])
	assert.ErrorIs(t, err, ErrMalformedEvent)

	view, err := Fold(nil, history[0])
	require.NoError(t, err)
	_, err = Fold(view, history[0])
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestReplay_MatchesIncrementalFold(t *testing.T) {
	history := productHistory(t)

	// Act: de uno en uno, como llegan
	var incremental *ProductView
	for _, env := range history {
		require.Equal(t, DecisionApply, Decide(incremental, env.Sequence))
		next, err := Fold(incremental, env)
		require.NoError(t, err)
		incremental = next
	}

	// Act: historia completa de golpe
	replayed, err := Replay(history)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, incremental, replayed)
	assert.Equal(t, int64(4), replayed.Version)
	assert.Equal(t, StatusRetired, replayed.Status)
	assert.Equal(t, "nueva", replayed.Description)
}

func TestReplay_Errors(t *testing.T) {
	history := productHistory(t)

	_, err := Replay([]Envelope{history[0], history[2]})
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = Replay(nil)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestProductView_Summary(t *testing.T) {
	view, err := Replay(productHistory(t)[:2])
	require.NoError(t, err)

	summary := view.Summary()

	assert.Equal(t, ProductSummary{ID: view.ID, SkuID: "ABC-12345", Name: "Gaming Laptop", Status: StatusActive, Catalogs: 0}, summary)
}

func TestSkuLikeCriteria_EscapesWildcards(t *testing.T) {
	conds := SkuLikeCriteria{Pattern: " ab_c% "}.ToConditions()

	assert.Equal(t, []sharedDomain.Criterion{{Field: "sku_id", Op: sharedDomain.OpILike, Value: `%AB\_C\%%`}}, conds)
	assert.Nil(t, SkuLikeCriteria{Pattern: "  "}.ToConditions())
}
