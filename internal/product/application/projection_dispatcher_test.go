package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	productDomain "github.com/davicafu/productregistry/internal/product/domain"
	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	"github.com/davicafu/productregistry/tests/mocks"
)

type projectionFixture struct {
	dispatcher  *ProjectionDispatcher
	views       *mocks.InMemoryViewRepo
	cache       *mocks.DummyCache
	broadcaster *Broadcaster
}

func newProjectionFixture() projectionFixture {
	views := mocks.NewInMemoryViewRepo()
	cache := mocks.NewDummyCache()
	broadcaster := NewBroadcaster(16, zap.NewNop())
	return projectionFixture{
		dispatcher:  NewProjectionDispatcher(views, cache, time.Minute, broadcaster, zap.NewNop()),
		views:       views,
		cache:       cache,
		broadcaster: broadcaster,
	}
}

// laptopHistory produce Registered, Renamed y Retired de un mismo producto.
func laptopHistory(t *testing.T) []productDomain.Envelope {
	t.Helper()
	sku, err := productDomain.NewSkuID("ABC-12345")
	require.NoError(t, err)
	p, registered, err := productDomain.NewProduct("Laptop", "14 pulgadas", sku)
	require.NoError(t, err)
	renamed, err := p.Rename("Gaming Laptop")
	require.NoError(t, err)
	retired, err := p.Retire()
	require.NoError(t, err)
	return []productDomain.Envelope{registered, renamed, retired}
}

func TestDispatch_AppliesInOrder(t *testing.T) {
	// Arrange
	f := newProjectionFixture()
	history := laptopHistory(t)
	ctx := context.Background()

	// Act
	for _, env := range history[:2] {
		result, err := f.dispatcher.Dispatch(ctx, env)
		require.NoError(t, err)
		require.Equal(t, ProjectionSuccess, result.Kind)
	}

	// Assert
	view, err := f.views.FindByID(ctx, history[0].AggregateID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), view.Version)
	assert.Equal(t, "Gaming Laptop", view.Name)
	require.Len(t, view.Events, 2)
	assert.Equal(t, productDomain.EventRenamed, view.Events[1].Type)
	assert.JSONEq(t, `{"oldName":"Laptop","newName":"Gaming Laptop"}`, string(view.Events[1].Payload))
	assert.NotNil(t, view.Catalogs)

	var cached productDomain.ProductView
	hit, err := f.cache.Get(ctx, productDomain.CacheKeyByID(view.ID), &cached)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, int64(2), cached.Version)
}

func TestDispatch_DuplicateIsNoOp(t *testing.T) {
	// Arrange
	f := newProjectionFixture()
	history := laptopHistory(t)
	ctx := context.Background()
	_, _ = f.dispatcher.Dispatch(ctx, history[0])
	first, err := f.dispatcher.Dispatch(ctx, history[1])
	require.NoError(t, err)
	require.Equal(t, ProjectionSuccess, first.Kind)
	before, _ := f.views.FindByID(ctx, history[0].AggregateID)

	// Act
	second, err := f.dispatcher.Dispatch(ctx, history[1])

	// Assert
	require.NoError(t, err)
	assert.Equal(t, ProjectionNoOp, second.Kind)
	assert.Equal(t, NoOpDuplicate, second.NoOpReason)
	after, _ := f.views.FindByID(ctx, history[0].AggregateID)
	assert.Equal(t, before, after)
	assert.Equal(t, int64(2), after.Version)
}

func TestDispatch_GapIsNoOpWithoutChanges(t *testing.T) {
	f := newProjectionFixture()
	history := laptopHistory(t)
	ctx := context.Background()
	_, _ = f.dispatcher.Dispatch(ctx, history[0])

	result, err := f.dispatcher.Dispatch(ctx, history[2])

	require.NoError(t, err)
	assert.Equal(t, ProjectionNoOp, result.Kind)
	assert.Equal(t, NoOpGap, result.NoOpReason)
	view, _ := f.views.FindByID(ctx, history[0].AggregateID)
	assert.Equal(t, int64(1), view.Version)
}

func TestDispatch_FirstEventMustBeSequenceOne(t *testing.T) {
	f := newProjectionFixture()
	history := laptopHistory(t)

	result, err := f.dispatcher.Dispatch(context.Background(), history[1])

	require.NoError(t, err)
	assert.Equal(t, NoOpGap, result.NoOpReason)
	assert.Empty(t, f.views.Views)
}

func TestDispatchEntry_MalformedEventsFail(t *testing.T) {
	f := newProjectionFixture()
	base := sharedDomain.EventLogEntry{
		LogID:            1,
		AggregateType:    productDomain.AggregateType,
		AggregateID:      uuid.New(),
		AggregateVersion: 1,
		OccurredAt:       time.Now().UTC(),
	}

	cases := []struct {
		name   string
		mutate func(e *sharedDomain.EventLogEntry)
	}{
		{"tipo desconocido", func(e *sharedDomain.EventLogEntry) {
			e.EventType = "ProductTeleported"
			e.Payload = []byte(`{}`)
		}},
		{"payload ilegible", func(e *sharedDomain.EventLogEntry) {
			e.EventType = string(productDomain.EventRenamed)
			e.Payload = []byte(`{"oldName":`)
		}},
		{"agregado ajeno", func(e *sharedDomain.EventLogEntry) {
			e.AggregateType = "Catalog"
			e.EventType = string(productDomain.EventRetired)
			e.Payload = []byte(`{}`)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry := base
			tc.mutate(&entry)

			result, err := f.dispatcher.DispatchEntry(context.Background(), entry)

			require.NoError(t, err)
			assert.Equal(t, ProjectionFailure, result.Kind)
			assert.NotEmpty(t, result.Reason)
		})
	}
	assert.Empty(t, f.views.Views)
}

func TestDispatchEntry_DecodesAndApplies(t *testing.T) {
	f := newProjectionFixture()
	history := laptopHistory(t)
	entry, err := productDomain.ToLogEntry(history[0])
	require.NoError(t, err)

	result, err := f.dispatcher.DispatchEntry(context.Background(), entry)

	require.NoError(t, err)
	require.Equal(t, ProjectionSuccess, result.Kind)
	assert.Equal(t, "ABC-12345", result.View.SkuID)
}

func TestDispatch_StoreFailureIsReturnedAsError(t *testing.T) {
	f := newProjectionFixture()
	f.views.FailWith = errors.New("mongo no responde")

	_, err := f.dispatcher.Dispatch(context.Background(), laptopHistory(t)[0])

	assert.ErrorContains(t, err, "mongo no responde")
}

func TestDispatch_BroadcastsOnSuccessOnly(t *testing.T) {
	// Arrange
	f := newProjectionFixture()
	history := laptopHistory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, unsubscribe := f.broadcaster.Subscribe(ctx)
	defer unsubscribe()

	// Act
	_, _ = f.dispatcher.Dispatch(ctx, history[0])
	_, _ = f.dispatcher.Dispatch(ctx, history[0])

	// Assert
	select {
	case n := <-ch:
		assert.Equal(t, productDomain.EventRegistered, n.EventType)
		assert.Equal(t, history[0].AggregateID, n.AggregateID)
		assert.Equal(t, history[0].OccurredAt, n.OccurredAt)
	case <-time.After(time.Second):
		t.Fatal("no llegó la notificación")
	}
	assert.Empty(t, ch, "el duplicado no se notifica")
}

func TestReplay_EqualsIncrementalProjection(t *testing.T) {
	f := newProjectionFixture()
	history := laptopHistory(t)
	for _, env := range history {
		_, err := f.dispatcher.Dispatch(context.Background(), env)
		require.NoError(t, err)
	}

	replayed, err := productDomain.Replay(history)
	require.NoError(t, err)

	incremental, _ := f.views.FindByID(context.Background(), history[0].AggregateID)
	assert.Equal(t, replayed, incremental)
}
