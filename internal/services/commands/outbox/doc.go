// Package outbox publishes side-effect messages written by committed commands.
//
// Handlers enqueue rows inside the command transaction, so a row exists only
// when its command was PROCESSED. The relay claims due rows, hands them to a
// Publisher, and deletes them on success. Failures are rescheduled with
// exponential backoff until MaxAttempts, after which the row is parked as dead.
package outbox
