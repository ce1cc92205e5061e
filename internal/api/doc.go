// Package api contains the HTTP handlers of the task service: task
// creation and lifecycle endpoints, batch status, and the operational
// surface. Handlers translate between the wire format and the domain,
// delegating all state transitions to the task store and the engine.
package api
