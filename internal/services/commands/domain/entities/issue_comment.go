package entities

import "github.com/louisbranch/sitesync/internal/services/commands/domain/command"

func validateIssueComment(op command.Operation, data command.Payload) (command.Payload, error) {
	return validated(op, data,
		func(p command.Payload) error { return stringField(p, op, FieldIssue, true, 0) },
		func(p command.Payload) error { return stringField(p, op, "body", true, 4000) },
	)
}
