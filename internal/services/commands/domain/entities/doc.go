// Package entities declares the construction-project entity catalogue:
// tasks, task updates, issues, issue comments, and daily logs.
package entities
