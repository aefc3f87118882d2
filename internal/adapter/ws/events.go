package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/AgentForge/internal/port/messagequeue"
)

// EventTriggerRun is sent once per recorded trigger run.
const EventTriggerRun = "trigger.run"

// BroadcastEvent marshals a typed event and sends it to a workspace.
func (h *Hub) BroadcastEvent(ctx context.Context, workspace, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, workspace, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// Relay forwards trigger run events from the queue to connected clients
// until the returned cancel func is called.
func (h *Hub) Relay(ctx context.Context, q messagequeue.Queue) (func(), error) {
	cancel, err := q.Subscribe(ctx, messagequeue.SubjectTriggerRun, h.handleRun)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectTriggerRun, err)
	}
	return cancel, nil
}

func (h *Hub) handleRun(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.TriggerRunPayload
	if err := json.Unmarshal(data, &p); err != nil {
		// Redelivery cannot fix a malformed event.
		slog.WarnContext(ctx, "drop malformed run event", "error", err)
		return nil
	}
	if p.Workspace == "" {
		return nil
	}
	h.BroadcastEvent(ctx, p.Workspace, EventTriggerRun, p)
	return nil
}
