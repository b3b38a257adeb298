package httpapi

import (
	"time"

	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/gateway"
)

type commandRequest struct {
	EntityType              string            `json:"entity_type"`
	Operation               string            `json:"operation"`
	Payload                 map[string]any    `json:"payload"`
	RelatedEntitiesLocalIDs map[string]string `json:"related_entities_local_ids"`
}

func (r commandRequest) toDomain() command.Request {
	return command.Request{
		EntityType:              command.EntityType(r.EntityType),
		Operation:               command.Operation(r.Operation),
		Payload:                 command.Payload(r.Payload),
		RelatedEntitiesLocalIDs: r.RelatedEntitiesLocalIDs,
	}
}

type ackView struct {
	CommandID string `json:"command_id"`
	LocalID   string `json:"local_id,omitempty"`
	Status    string `json:"status"`
}

type submitResponse struct {
	Commands []ackView `json:"commands"`
}

type commandView struct {
	CommandID               string            `json:"command_id"`
	Seq                     int64             `json:"seq"`
	ProjectID               string            `json:"project_id"`
	UserID                  string            `json:"user_id"`
	EntityType              string            `json:"entity_type"`
	Operation               string            `json:"operation"`
	Payload                 map[string]any    `json:"payload"`
	RelatedEntitiesLocalIDs map[string]string `json:"related_entities_local_ids,omitempty"`
	Status                  string            `json:"status"`
	FailReason              string            `json:"fail_reason,omitempty"`
	CorrelationID           string            `json:"correlation_id,omitempty"`
	EntityID                string            `json:"entity_id,omitempty"`
	CreatedAt               string            `json:"created_at"`
	UpdatedAt               string            `json:"updated_at"`
}

type listResponse struct {
	Commands     []commandView `json:"commands"`
	NextAfterSeq int64         `json:"next_after_seq,omitempty"`
}

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Detail   string            `json:"detail,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func ackViews(acks []gateway.Ack) []ackView {
	views := make([]ackView, len(acks))
	for i, ack := range acks {
		views[i] = ackView{CommandID: ack.CommandID, LocalID: ack.LocalID, Status: string(ack.Status)}
	}
	return views
}

func newCommandView(cmd command.Command) commandView {
	payload := map[string]any(cmd.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	return commandView{
		CommandID:               cmd.ID,
		Seq:                     cmd.Seq,
		ProjectID:               cmd.ProjectID,
		UserID:                  cmd.UserID,
		EntityType:              string(cmd.EntityType),
		Operation:               string(cmd.Operation),
		Payload:                 payload,
		RelatedEntitiesLocalIDs: cmd.RelatedEntitiesLocalIDs,
		Status:                  string(cmd.Status),
		FailReason:              string(cmd.FailReason),
		CorrelationID:           cmd.CorrelationID,
		EntityID:                cmd.EntityID,
		CreatedAt:               formatTime(cmd.CreatedAt),
		UpdatedAt:               formatTime(cmd.UpdatedAt),
	}
}

func commandViews(cmds []command.Command) []commandView {
	views := make([]commandView, len(cmds))
	for i, cmd := range cmds {
		views[i] = newCommandView(cmd)
	}
	return views
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339Nano)
}
