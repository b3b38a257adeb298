package entities

import (
	"context"

	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/domain/registry"
)

// Task statuses.
const (
	TaskOpen       = "open"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
)

var taskStatuses = []string{TaskOpen, TaskInProgress, TaskDone}

func validateTask(op command.Operation, data command.Payload) (command.Payload, error) {
	return validated(op, data,
		func(p command.Payload) error { return stringField(p, op, "title", true, 200) },
		func(p command.Payload) error { return enumField(p, op, "status", taskStatuses, TaskOpen) },
		func(p command.Payload) error { return stringField(p, op, "assignee", false, 120) },
		func(p command.Payload) error { return dateField(p, op, "due_date", false) },
	)
}

// handleTask stamps the acting user and command onto the task, checks
// expected_version on UPDATE, and announces completion.
func handleTask(ctx context.Context, hc registry.HandlerContext, cmd command.Command) (registry.Result, error) {
	previousStatus := ""
	switch hc.Operation {
	case command.OperationCreate, command.OperationUpdate:
		if hc.Operation == command.OperationUpdate {
			current, err := hc.Model.Get(ctx, hc.Entities, hc.Scope, hc.TargetID)
			if err != nil {
				return registry.Result{}, err
			}
			if err := registry.CheckExpectedVersion(current, hc.Data); err != nil {
				return registry.Result{}, err
			}
			previousStatus = current.Data.String("status")
		}
		data := hc.Data.Clone()
		data["last_modified_by"] = cmd.UserID
		data["last_command_id"] = cmd.ID
		hc.Data = data
	}

	result, err := registry.Apply(ctx, hc)
	if err != nil {
		return registry.Result{}, err
	}
	if hc.Operation != command.OperationCreate && hc.Operation != command.OperationUpdate {
		return result, nil
	}
	if result.Entity.Data.String("status") == TaskDone && previousStatus != TaskDone && hc.Outbox != nil {
		if err := hc.Outbox.Enqueue(ctx, TopicTaskCompleted, map[string]any{
			"task_id":      result.Entity.ID,
			"completed_by": cmd.UserID,
			"command_id":   cmd.ID,
		}); err != nil {
			return registry.Result{}, err
		}
	}
	return result, nil
}
