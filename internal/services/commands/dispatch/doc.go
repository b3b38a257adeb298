// Package dispatch runs per-project command queues on a bounded worker pool.
//
// A project is IDLE or RUNNING. Enqueue starts a worker for an IDLE project
// and only marks a RUNNING one dirty; the worker drains again before going
// IDLE when it sees the mark. A periodic sweep re-enqueues every project with
// PENDING commands, which covers restarts and leases held by other instances.
package dispatch
