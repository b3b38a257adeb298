package entities

import (
	"context"

	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/domain/registry"
)

// Issue statuses.
const (
	IssueOpen     = "open"
	IssueResolved = "resolved"
)

var (
	issueSeverities = []string{"low", "medium", "high", "critical"}
	issueStatuses   = []string{IssueOpen, IssueResolved}
)

func validateIssue(op command.Operation, data command.Payload) (command.Payload, error) {
	return validated(op, data,
		func(p command.Payload) error { return stringField(p, op, "title", true, 200) },
		func(p command.Payload) error { return stringField(p, op, "description", false, 4000) },
		func(p command.Payload) error { return enumField(p, op, "severity", issueSeverities, "medium") },
		func(p command.Payload) error { return enumField(p, op, "status", issueStatuses, IssueOpen) },
		func(p command.Payload) error { return stringField(p, op, "assignee", false, 120) },
	)
}

// handleIssue enforces expected_version, refuses reassigning resolved
// issues, and announces assignee changes.
func handleIssue(ctx context.Context, hc registry.HandlerContext) (registry.Result, error) {
	previousAssignee := ""
	if hc.Operation == command.OperationUpdate {
		current, err := hc.Model.Get(ctx, hc.Entities, hc.Scope, hc.TargetID)
		if err != nil {
			return registry.Result{}, err
		}
		if err := registry.CheckExpectedVersion(current, hc.Data); err != nil {
			return registry.Result{}, err
		}
		previousAssignee = current.Data.String("assignee")
		resolved := current.Data.String("status") == IssueResolved
		reopening := hc.Data.Has("status") && hc.Data.String("status") != IssueResolved
		if resolved && !reopening && hc.Data.Has("assignee") && hc.Data.String("assignee") != previousAssignee {
			return registry.Result{}, command.Conflict("issue %s is resolved and cannot be reassigned", current.ID)
		}
	}

	result, err := registry.Apply(ctx, hc)
	if err != nil {
		return registry.Result{}, err
	}
	if hc.Operation != command.OperationCreate && hc.Operation != command.OperationUpdate {
		return result, nil
	}
	assignee := result.Entity.Data.String("assignee")
	if assignee == "" || assignee == previousAssignee || hc.Outbox == nil {
		return result, nil
	}
	if err := hc.Outbox.Enqueue(ctx, TopicIssueAssigned, map[string]any{
		"issue_id": result.Entity.ID,
		"assignee": assignee,
		"severity": result.Entity.Data.String("severity"),
	}); err != nil {
		return registry.Result{}, err
	}
	return result, nil
}
