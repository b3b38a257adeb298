package entities

import (
	"fmt"

	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/domain/registry"
)

// Parent payload fields.
const (
	FieldTask  = "task"
	FieldIssue = "issue"
)

// Outbox topics produced by entity handlers.
const (
	TopicTaskUpdatePosted = "task.update_posted"
	TopicTaskCompleted    = "task.completed"
	TopicIssueAssigned    = "issue.assigned"
)

// Descriptors returns the registry rows for every entity type.
func Descriptors() []registry.Descriptor {
	return []registry.Descriptor{
		{
			EntityType:      command.EntityTask,
			Model:           registry.NewModel(command.EntityTask, ""),
			Validator:       registry.ValidatorFunc(validateTask),
			Handler:         registry.CommandHandler(handleTask),
			SupportsRestore: true,
		},
		{
			EntityType:       command.EntityTaskUpdate,
			Model:            registry.NewModel(command.EntityTaskUpdate, FieldTask),
			Validator:        registry.ValidatorFunc(validateTaskUpdate),
			Handler:          registry.CommandHandler(handleTaskUpdate),
			ParentEntityType: command.EntityTask,
			ParentField:      FieldTask,
		},
		{
			EntityType:      command.EntityIssue,
			Model:           registry.NewModel(command.EntityIssue, ""),
			Validator:       registry.ValidatorFunc(validateIssue),
			Handler:         registry.ContextHandler(handleIssue),
			SupportsRestore: true,
		},
		{
			EntityType:       command.EntityIssueComment,
			Model:            registry.NewModel(command.EntityIssueComment, FieldIssue),
			Validator:        registry.ValidatorFunc(validateIssueComment),
			ParentEntityType: command.EntityIssue,
			ParentField:      FieldIssue,
		},
		{
			EntityType: command.EntityDailyLog,
			Model:      registry.NewModel(command.EntityDailyLog, ""),
			Validator:  registry.ValidatorFunc(validateDailyLog),
		},
	}
}

// NewRegistry builds the registry and fails unless every entity type has a row.
func NewRegistry() (*registry.Registry, error) {
	reg, err := registry.New(Descriptors()...)
	if err != nil {
		return nil, fmt.Errorf("build entity registry: %w", err)
	}
	if err := reg.RequireComplete(command.EntityTypes()...); err != nil {
		return nil, err
	}
	return reg, nil
}
