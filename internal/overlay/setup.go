package overlay

import (
	"context"
	"fmt"

	"github.com/sinain/sinain-core/internal/buffer"
	"github.com/sinain/sinain-core/internal/events"
	eventbus "github.com/sinain/sinain-core/internal/events/bus"
)

// AttachBus subscribes the hub to the event subjects it fans out. Data
// published by in-process producers arrives as typed values; anything else
// is decoded through JSON.
func AttachBus(hub *Hub, bus eventbus.EventBus) error {
	subs := map[string]eventbus.EventHandler{
		events.FeedItemPushed: func(_ context.Context, ev *eventbus.Event) error {
			var item buffer.FeedItem
			if err := decodeData(ev.Data, &item); err != nil {
				return err
			}
			hub.BroadcastFeed(item)
			return nil
		},
		events.StatusChanged: func(context.Context, *eventbus.Event) error {
			hub.BroadcastStatus()
			return nil
		},
		events.SpawnTaskUpdated: func(_ context.Context, ev *eventbus.Event) error {
			var task SpawnTask
			if err := decodeData(ev.Data, &task); err != nil {
				return err
			}
			hub.BroadcastSpawnTask(task)
			return nil
		},
		events.ProfilingUpdated: func(_ context.Context, ev *eventbus.Event) error {
			var msg ProfilingMessage
			if err := decodeData(ev.Data, &msg); err != nil {
				return err
			}
			hub.BroadcastProfiling(msg)
			return nil
		},
	}

	for subject, handler := range subs {
		if _, err := bus.Subscribe(subject, handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
	}
	return nil
}

// decodeData converts an event payload into target, accepting both direct
// typed values and JSON-roundtripped maps.
func decodeData(data interface{}, target interface{}) error {
	switch v := data.(type) {
	case buffer.FeedItem:
		if t, ok := target.(*buffer.FeedItem); ok {
			*t = v
			return nil
		}
	case SpawnTask:
		if t, ok := target.(*SpawnTask); ok {
			*t = v
			return nil
		}
	case ProfilingMessage:
		if t, ok := target.(*ProfilingMessage); ok {
			*t = v
			return nil
		}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
