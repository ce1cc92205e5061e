// Package postgres provides the PostgreSQL implementation of the task
// store. All state transitions are expressed as single-statement
// conditional updates so concurrent workers coordinating through the same
// table never need advisory locks.
package postgres
