// Package engine executes one project's PENDING commands in sequence order.
//
// Each command resolves its parent local reference, runs validation and its
// business handler inside a transaction of its own, and records exactly one
// terminal outcome. A failing command never affects the commands around it.
package engine
