// Package command defines the offline command envelope, its lifecycle enums,
// and the failure taxonomy used to classify per-command outcomes.
//
// A command is created PENDING by submission and transitions exactly once to
// PROCESSED, FAILED, or CONFLICTED. Terminal records are never revisited.
package command
