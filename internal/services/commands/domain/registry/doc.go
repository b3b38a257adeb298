// Package registry holds the closed table of entity descriptors that drive
// command dispatch.
//
// Each descriptor binds an entity type to its model accessor, payload
// validator, optional business handler, optional parent link, and restore
// capability. The table is built once at startup and checked for
// completeness against command.EntityTypes.
package registry
