package filesystem

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
)

func deadMessage(id int64) sharedDomain.OutboxMessage {
	return sharedDomain.OutboxMessage{
		ID:         id,
		EventLogID: id,
		Attempts:   5,
		LastError:  "delivery to projection failed: boom",
		Entry: sharedDomain.EventLogEntry{
			LogID:            id,
			AggregateType:    "Product",
			AggregateID:      uuid.New(),
			AggregateVersion: 1,
			EventType:        "ProductRetired",
			Payload:          json.RawMessage(`{}`),
		},
	}
}

func TestJSONDeadLetterJournal_RecordAndForget(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "dead_letters.json")
	journal := NewJSONDeadLetterJournal(path)
	ctx := context.Background()

	// Act
	require.NoError(t, journal.Record(ctx, deadMessage(1), "boom"))
	require.NoError(t, journal.Record(ctx, deadMessage(2), "bang"))

	// Assert
	entries, err := journal.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Message.ID)
	assert.Equal(t, "bang", entries[1].Reason)
	assert.Equal(t, "ProductRetired", entries[1].Message.Entry.EventType)
	assert.False(t, entries[0].RecordedAt.IsZero())

	require.NoError(t, journal.Forget(ctx, 1))
	entries, err = journal.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].Message.ID)
}

func TestJSONDeadLetterJournal_MissingOrEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dead_letters.json")
	journal := NewJSONDeadLetterJournal(path)

	entries, err := journal.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, os.WriteFile(path, nil, 0644))
	entries, err = journal.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.NoError(t, journal.Forget(context.Background(), 42))
}

func TestJSONDeadLetterJournal_ConcurrentRecords(t *testing.T) {
	// Arrange
	journal := NewJSONDeadLetterJournal(filepath.Join(t.TempDir(), "dead_letters.json"))
	ctx := context.Background()

	// Act
	var wg sync.WaitGroup
	for i := int64(1); i <= 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, journal.Record(ctx, deadMessage(i), "boom"))
		}()
	}
	wg.Wait()

	// Assert
	entries, err := journal.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}
