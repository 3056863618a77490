package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogEntryRoundTrip_AllVariants(t *testing.T) {
	p, registered, err := NewProduct("Laptop", "vieja", mustSku(t, "ABC-12345"))
	require.NoError(t, err)
	renamed, _ := p.Rename("Gaming Laptop")
	described, _ := p.ChangeDescription("nueva")
	retired, _ := p.Retire()

	for _, env := range []Envelope{registered, renamed, described, retired} {
		t.Run(string(env.Event.Type()), func(t *testing.T) {
			entry, err := ToLogEntry(env)
			require.NoError(t, err)
			assert.Equal(t, string(env.Event.Type()), entry.EventType)
			assert.Equal(t, EventSchemaVersion, entry.EventSchemaVersion)
			assert.Equal(t, env.Sequence, entry.AggregateVersion)

			decoded, err := FromLogEntry(entry)
			require.NoError(t, err)
			assert.Equal(t, env, decoded)
		})
	}
}

func TestToLogEntry_PayloadShape(t *testing.T) {
	_, env, err := NewProduct("Laptop", "desc", mustSku(t, "ABC-12345"))
	require.NoError(t, err)

	entry, err := ToLogEntry(env)

	require.NoError(t, err)
	assert.JSONEq(t, `{"skuId":"ABC-12345","name":"Laptop","description":"desc"}`, string(entry.Payload))
}

func TestDecodeEvent_Errors(t *testing.T) {
	testCases := []struct {
		name      string
		eventType string
		payload   string
		wantErr   error
	}{
		{name: "tipo desconocido", eventType: "ProductExploded", payload: `{}`, wantErr: ErrUnknownEventType},
		{name: "payload ilegible", eventType: string(EventRenamed), payload: `{"oldName":`, wantErr: ErrMalformedEvent},
		{name: "campo ajeno", eventType: string(EventRenamed), payload: `{"skuId":"ABC-12345"}`, wantErr: ErrMalformedEvent},
		{name: "payload vacío", eventType: string(EventRetired), payload: ``, wantErr: ErrMalformedEvent},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			evt, err := DecodeEvent(tc.eventType, json.RawMessage(tc.payload))
			assert.Nil(t, evt)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestFromLogEntry_RejectsForeignAggregate(t *testing.T) {
	_, env, err := NewProduct("Laptop", "", mustSku(t, "ABC-12345"))
	require.NoError(t, err)
	entry, err := ToLogEntry(env)
	require.NoError(t, err)

	entry.AggregateType = "Catalog"
	_, err = FromLogEntry(entry)

	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestNewEventRegistry_CoversEveryVariant(t *testing.T) {
	registry := NewEventRegistry()

	for _, et := range []EventType{EventRegistered, EventRenamed, EventDescriptionChanged, EventRetired} {
		meta, ok := registry[string(et)]
		assert.True(t, ok, "falta %s", et)
		assert.Equal(t, ProductTopic, meta.Topic)
	}
	assert.Len(t, registry, 4)
}
