// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// Goroutines started here recover from panics, respect context cancellation
// and optional timeouts, and log failures through the context logger.
//
// # Key Functions
//
// SafeGo: Execute a function in a goroutine with safety features
//
//	async.SafeGo(ctx, 10*time.Second, "price preview", func(ctx context.Context) error {
//		return fetch(ctx)
//	})
//
// Batch: Bounded concurrent processing of a slice, stopping at the first error
//
//	err := async.Batch(ctx, passengerIDs, 4, "disable automation", func(ctx context.Context, id string) error {
//		return passengers.SetAutomation(ctx, id, false)
//	})
package async
