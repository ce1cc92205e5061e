// Package events carries task status snapshots from the processor to
// whoever observes them. The processor emits through the Emitter interface;
// the status hub, the redis status cache, and the metrics collector register
// as handlers, which keeps the engine free of direct dependencies on its
// observers.
package events
