package relayer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	sharedDomainEvents "github.com/davicafu/productregistry/internal/shared/domain/events"
	sharedBus "github.com/davicafu/productregistry/internal/shared/infra/platform/bus"
	sharedUtils "github.com/davicafu/productregistry/internal/shared/infra/utils"
	"github.com/davicafu/productregistry/tests/mocks"
)

const testEventType = "ProductNameUpdated"

var testRegistry = map[string]sharedDomainEvents.EventMetadata{
	testEventType: {Topic: "product-events", SchemaVersion: 1},
}

var testBackoff = sharedUtils.BackoffPolicy{Base: time.Second, Max: time.Minute, Multiplier: 2}

func testConfig() Config {
	return Config{
		AggregateType: "Product",
		Interval:      10 * time.Millisecond,
		BatchSize:     10,
		MaxRetries:    3,
		Backoff:       testBackoff,
	}
}

func newMessage(id int64, aggregateID uuid.UUID, version int64, attempts int) sharedDomain.OutboxMessage {
	return sharedDomain.OutboxMessage{
		ID:         id,
		EventLogID: id,
		Attempts:   attempts,
		Entry: sharedDomain.EventLogEntry{
			LogID:            id,
			AggregateType:    "Product",
			AggregateID:      aggregateID,
			AggregateVersion: version,
			EventType:        testEventType,
			Payload:          []byte(`{"oldName":"a","newName":"b"}`),
		},
	}
}

func entryWithVersion(v int64) interface{} {
	return mock.MatchedBy(func(e sharedDomain.EventLogEntry) bool { return e.AggregateVersion == v })
}

func TestOutboxWorker_ProcessBatch_Success(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	projection := mocks.NewMockPublisher("projection")
	kafka := mocks.NewMockPublisher("kafka")
	msg := newMessage(1, uuid.New(), 1, 0)

	repo.On("FetchReady", mock.Anything, "Product", 10, 3).Return([]sharedDomain.OutboxMessage{msg}, nil).Once()
	projection.On("Publish", mock.Anything, msg.Entry).Return(nil).Once()
	kafka.On("Publish", mock.Anything, msg.Entry).Return(nil).Once()
	repo.On("Delete", mock.Anything, msg).Return(nil).Once()

	worker := NewOutboxWorker(repo, []sharedBus.EventBus{projection, kafka}, testRegistry, testConfig(), zap.NewNop())

	// ACT
	n, err := worker.ProcessBatch(context.Background())

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	repo.AssertExpectations(t)
	projection.AssertExpectations(t)
	kafka.AssertExpectations(t)
}

func TestOutboxWorker_ProcessBatch_PublisherFails(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := mocks.NewMockPublisher("projection")
	msg := newMessage(1, uuid.New(), 1, 1)

	repo.On("FetchReady", mock.Anything, "Product", 10, 3).Return([]sharedDomain.OutboxMessage{msg}, nil).Once()
	publisher.On("Publish", mock.Anything, msg.Entry).Return(errors.New("view store is down")).Once()
	repo.On("MarkFailed", mock.Anything, msg,
		"delivery to projection failed: view store is down", testBackoff.Delay(1)).Return(nil).Once()

	worker := NewOutboxWorker(repo, []sharedBus.EventBus{publisher}, testRegistry, testConfig(), zap.NewNop())

	// ACT
	n, err := worker.ProcessBatch(context.Background())

	// ASSERT
	require.NoError(t, err)
	assert.Zero(t, n)
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestOutboxWorker_ProcessBatch_UnknownEventTypeIsMarkedFailed(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := mocks.NewMockPublisher("projection")
	msg := newMessage(1, uuid.New(), 1, 0)
	msg.Entry.EventType = "ProductTeleported"

	repo.On("FetchReady", mock.Anything, "Product", 10, 3).Return([]sharedDomain.OutboxMessage{msg}, nil).Once()
	repo.On("MarkFailed", mock.Anything, msg, mock.AnythingOfType("string"), testBackoff.Delay(0)).Return(nil).Once()

	worker := NewOutboxWorker(repo, []sharedBus.EventBus{publisher}, testRegistry, testConfig(), zap.NewNop())

	// ACT
	_, err := worker.ProcessBatch(context.Background())

	// ASSERT
	require.NoError(t, err)
	repo.AssertExpectations(t)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestOutboxWorker_ProcessBatch_FailureStopsAggregateAndReleasesRest(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := mocks.NewMockPublisher("projection")
	blocked := uuid.New()
	other := uuid.New()
	m1 := newMessage(1, blocked, 1, 0)
	m2 := newMessage(2, blocked, 2, 0)
	m3 := newMessage(3, other, 1, 0)

	repo.On("FetchReady", mock.Anything, "Product", 10, 3).
		Return([]sharedDomain.OutboxMessage{m1, m3, m2}, nil).Once()
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e sharedDomain.EventLogEntry) bool {
		return e.AggregateID == blocked && e.AggregateVersion == 1
	})).Return(errors.New("boom")).Once()
	publisher.On("Publish", mock.Anything, m3.Entry).Return(nil).Once()
	repo.On("MarkFailed", mock.Anything, m1, mock.AnythingOfType("string"), testBackoff.Delay(0)).Return(nil).Once()
	repo.On("Release", mock.Anything, []sharedDomain.OutboxMessage{m2}).Return(nil).Once()
	repo.On("Delete", mock.Anything, m3).Return(nil).Once()

	worker := NewOutboxWorker(repo, []sharedBus.EventBus{publisher}, testRegistry, testConfig(), zap.NewNop())

	// ACT
	n, err := worker.ProcessBatch(context.Background())

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	repo.AssertExpectations(t)
	publisher.AssertExpectations(t)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, m2.Entry)
}

func TestOutboxWorker_ProcessBatch_DeliversAggregateInOrder(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := mocks.NewMockPublisher("projection")
	id := uuid.New()
	msgs := []sharedDomain.OutboxMessage{newMessage(1, id, 1, 0), newMessage(2, id, 2, 0), newMessage(3, id, 3, 0)}

	var seen []int64
	repo.On("FetchReady", mock.Anything, "Product", 10, 3).Return(msgs, nil).Once()
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		seen = append(seen, args.Get(1).(sharedDomain.EventLogEntry).AggregateVersion)
	}).Times(3)
	repo.On("Delete", mock.Anything, mock.Anything).Return(nil).Times(3)

	worker := NewOutboxWorker(repo, []sharedBus.EventBus{publisher}, testRegistry, testConfig(), zap.NewNop())

	// ACT
	n, err := worker.ProcessBatch(context.Background())

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{1, 2, 3}, seen)
}

func TestOutboxWorker_ProcessBatch_LastAttemptGoesToDeadLetters(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := mocks.NewMockPublisher("kafka")
	sink := new(mocks.MockDeadLetterSink)
	msg := newMessage(7, uuid.New(), 4, 2)

	repo.On("FetchReady", mock.Anything, "Product", 10, 3).Return([]sharedDomain.OutboxMessage{msg}, nil).Once()
	publisher.On("Publish", mock.Anything, entryWithVersion(4)).Return(errors.New("broker unreachable")).Once()
	repo.On("MarkFailed", mock.Anything, msg, mock.AnythingOfType("string"), testBackoff.Delay(2)).Return(nil).Once()
	sink.On("Record", mock.Anything, mock.MatchedBy(func(m sharedDomain.OutboxMessage) bool {
		return m.ID == 7 && m.Attempts == 3
	}), "delivery to kafka failed: broker unreachable").Return(nil).Once()

	worker := NewOutboxWorker(repo, []sharedBus.EventBus{publisher}, testRegistry, testConfig(), zap.NewNop()).
		WithDeadLetterSink(sink)

	// ACT
	_, err := worker.ProcessBatch(context.Background())

	// ASSERT
	require.NoError(t, err)
	repo.AssertExpectations(t)
	sink.AssertExpectations(t)
}

func TestOutboxWorker_ProcessBatch_ShutdownReleasesWithoutCountingAttempt(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	publisher := mocks.NewMockPublisher("projection")
	id := uuid.New()
	m1 := newMessage(1, id, 1, 0)
	m2 := newMessage(2, id, 2, 0)
	ctx, cancel := context.WithCancel(context.Background())

	repo.On("FetchReady", mock.Anything, "Product", 10, 3).Return([]sharedDomain.OutboxMessage{m1, m2}, nil).Once()
	publisher.On("Publish", mock.Anything, m1.Entry).Run(func(mock.Arguments) { cancel() }).
		Return(context.Canceled).Once()
	repo.On("Release", mock.Anything, []sharedDomain.OutboxMessage{m1, m2}).Return(nil).Once()

	worker := NewOutboxWorker(repo, []sharedBus.EventBus{publisher}, testRegistry, testConfig(), zap.NewNop())

	// ACT
	n, err := worker.ProcessBatch(ctx)

	// ASSERT
	require.NoError(t, err)
	assert.Zero(t, n)
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOutboxWorker_ProcessBatch_FetchError(t *testing.T) {
	repo := new(mocks.MockOutboxRepository)
	repo.On("FetchReady", mock.Anything, "Product", 10, 3).Return(nil, errors.New("db locked")).Once()

	worker := NewOutboxWorker(repo, nil, testRegistry, testConfig(), zap.NewNop())

	_, err := worker.ProcessBatch(context.Background())
	assert.EqualError(t, err, "db locked")
}

func TestOutboxWorker_Start_StopsOnCancel(t *testing.T) {
	repo := new(mocks.MockOutboxRepository)
	repo.On("FetchReady", mock.Anything, "Product", 10, 3).Return([]sharedDomain.OutboxMessage{}, nil)

	worker := NewOutboxWorker(repo, nil, testRegistry, testConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("el worker no se detuvo tras cancelar el contexto")
	}
	repo.AssertCalled(t, "FetchReady", mock.Anything, "Product", 10, 3)
}

func TestGroupByAggregate_PreservesOrderWithinAggregate(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	msgs := []sharedDomain.OutboxMessage{
		newMessage(1, a, 1, 0), newMessage(2, b, 1, 0), newMessage(3, a, 2, 0), newMessage(4, b, 2, 0),
	}

	groups := groupByAggregate(msgs)

	require.Len(t, groups, 2)
	assert.Equal(t, []int64{1, 3}, []int64{groups[0][0].ID, groups[0][1].ID})
	assert.Equal(t, []int64{2, 4}, []int64{groups[1][0].ID, groups[1][1].ID})
}
