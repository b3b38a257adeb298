package entities

import "github.com/louisbranch/sitesync/internal/services/commands/domain/command"

func validateDailyLog(op command.Operation, data command.Payload) (command.Payload, error) {
	return validated(op, data,
		func(p command.Payload) error { return dateField(p, op, "date", true) },
		func(p command.Payload) error { return stringField(p, op, "weather", false, 120) },
		func(p command.Payload) error { return intField(p, "crew_count", 0, 10000) },
		func(p command.Payload) error { return stringField(p, op, "notes", false, 8000) },
	)
}
