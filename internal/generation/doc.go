// Package generation defines the boundary between the job engine and the
// external image generation service: the Generator interface, its request
// and artifact types, and the error taxonomy the processor maps onto failed
// task records.
package generation
