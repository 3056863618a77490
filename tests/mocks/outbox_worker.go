package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
)

// MockOutboxRepository simula el lado de lectura del outbox.
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) FetchReady(ctx context.Context, aggregateType string, limit, maxRetries int) ([]sharedDomain.OutboxMessage, error) {
	args := m.Called(ctx, aggregateType, limit, maxRetries)
	msgs, _ := args.Get(0).([]sharedDomain.OutboxMessage)
	return msgs, args.Error(1)
}

func (m *MockOutboxRepository) Delete(ctx context.Context, msg sharedDomain.OutboxMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, msg sharedDomain.OutboxMessage, errDescription string, backoff time.Duration) error {
	return m.Called(ctx, msg, errDescription, backoff).Error(0)
}

// Release recibe el slice completo como un único argumento.
func (m *MockOutboxRepository) Release(ctx context.Context, msgs ...sharedDomain.OutboxMessage) error {
	return m.Called(ctx, msgs).Error(0)
}

var _ sharedDomain.OutboxRepository = (*MockOutboxRepository)(nil)

// MockPublisher simula un consumidor del dispatcher.
type MockPublisher struct {
	mock.Mock
	name string
}

func NewMockPublisher(name string) *MockPublisher {
	return &MockPublisher{name: name}
}

func (m *MockPublisher) Publish(ctx context.Context, event interface{}) error {
	return m.Called(ctx, event).Error(0)
}

func (m *MockPublisher) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

// MockDeadLetterSink simula el registro de mensajes agotados.
type MockDeadLetterSink struct {
	mock.Mock
}

func (m *MockDeadLetterSink) Record(ctx context.Context, msg sharedDomain.OutboxMessage, reason string) error {
	return m.Called(ctx, msg, reason).Error(0)
}
