package entities

import (
	"context"

	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/domain/registry"
)

func validateTaskUpdate(op command.Operation, data command.Payload) (command.Payload, error) {
	return validated(op, data,
		func(p command.Payload) error { return stringField(p, op, FieldTask, true, 0) },
		func(p command.Payload) error { return stringField(p, op, "comment", true, 2000) },
		func(p command.Payload) error { return intField(p, "percent_complete", 0, 100) },
	)
}

// handleTaskUpdate posts a task.update_posted message for new updates.
func handleTaskUpdate(ctx context.Context, hc registry.HandlerContext, cmd command.Command) (registry.Result, error) {
	result, err := registry.Apply(ctx, hc)
	if err != nil {
		return registry.Result{}, err
	}
	if hc.Operation != command.OperationCreate || hc.Outbox == nil {
		return result, nil
	}
	message := map[string]any{
		"task_id":    result.Entity.ParentID,
		"update_id":  result.Entity.ID,
		"author":     cmd.UserID,
		"command_id": cmd.ID,
	}
	if percent, ok := result.Entity.Data.Int64("percent_complete"); ok {
		message["percent_complete"] = percent
	}
	if err := hc.Outbox.Enqueue(ctx, TopicTaskUpdatePosted, message); err != nil {
		return registry.Result{}, err
	}
	return result, nil
}
