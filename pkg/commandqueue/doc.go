// Package commandqueue serializes work per lane.
//
// Each call session gets its own lane (SessionLane), so turns of one call
// never overlap while different calls run concurrently. Tasks in a lane run
// in FIFO order up to the lane's concurrency limit.
package commandqueue
