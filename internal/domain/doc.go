// Package domain contains the core business entities of the task engine:
// the task record, its status machine, and the derived batch and queue
// aggregates. It is independent of any specific infrastructure or delivery
// mechanism.
package domain
