package domain

import (
	sharedEvents "github.com/davicafu/productregistry/internal/shared/domain/events"
)

const ProductTopic = "product-events"

func NewEventRegistry() map[string]sharedEvents.EventMetadata {
	registry := make(map[string]sharedEvents.EventMetadata)
	for _, t := range []EventType{EventRegistered, EventRenamed, EventDescriptionChanged, EventRetired} {
		registry[string(t)] = sharedEvents.EventMetadata{
			Topic:         ProductTopic,
			SchemaVersion: EventSchemaVersion,
		}
	}
	return registry
}
