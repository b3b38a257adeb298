package entities

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
)

const dateLayout = "2006-01-02"

// stringField normalizes data[field]. On CREATE a required field must be a
// non-empty string; on UPDATE it may be absent but never cleared.
func stringField(data command.Payload, op command.Operation, field string, required bool, maxLen int) error {
	raw, present := data[field]
	if !present {
		if required && op == command.OperationCreate {
			return command.Invalid(field, "is required")
		}
		return nil
	}
	if raw == nil {
		if required {
			return command.Invalid(field, "cannot be cleared")
		}
		return nil
	}
	value, ok := raw.(string)
	if !ok {
		return command.Invalid(field, "must be a string")
	}
	value = strings.TrimSpace(value)
	if value == "" && required {
		return command.Invalid(field, "is required")
	}
	if maxLen > 0 && utf8.RuneCountInString(value) > maxLen {
		return command.Invalid(field, "must be at most %d characters", maxLen)
	}
	data[field] = value
	return nil
}

// enumField checks data[field] against allowed and applies fallback on CREATE.
func enumField(data command.Payload, op command.Operation, field string, allowed []string, fallback string) error {
	raw, present := data[field]
	if !present || raw == nil {
		if op == command.OperationCreate && fallback != "" {
			data[field] = fallback
			return nil
		}
		if present && op == command.OperationUpdate {
			return command.Invalid(field, "cannot be cleared")
		}
		return nil
	}
	value, ok := raw.(string)
	if !ok {
		return command.Invalid(field, "must be a string")
	}
	value = strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range allowed {
		if value == candidate {
			data[field] = value
			return nil
		}
	}
	return command.Invalid(field, "must be one of %s", strings.Join(allowed, ", "))
}

// dateField requires a YYYY-MM-DD calendar date.
func dateField(data command.Payload, op command.Operation, field string, required bool) error {
	if err := stringField(data, op, field, required, 0); err != nil {
		return err
	}
	value := data.String(field)
	if value == "" {
		return nil
	}
	if _, err := time.Parse(dateLayout, value); err != nil {
		return command.Invalid(field, "must be a date in YYYY-MM-DD form")
	}
	return nil
}

// intField checks an optional integer within [min, max].
func intField(data command.Payload, field string, min, max int64) error {
	if !data.Has(field) {
		return nil
	}
	value, ok := data.Int64(field)
	if !ok {
		return command.Invalid(field, "must be an integer")
	}
	if value < min || value > max {
		return command.Invalid(field, "must be between %d and %d", min, max)
	}
	data[field] = value
	return nil
}

// validated runs checks over a copy of data for CREATE and UPDATE.
func validated(op command.Operation, data command.Payload, checks ...func(command.Payload) error) (command.Payload, error) {
	out := data.Clone()
	if out == nil {
		out = command.Payload{}
	}
	if op != command.OperationCreate && op != command.OperationUpdate {
		return out, nil
	}
	for _, check := range checks {
		if err := check(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}
