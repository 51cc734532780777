// Package async provides safe concurrent execution primitives for background
// work: fire-and-forget tasks with panic recovery, a bounded worker pool for
// imports and webhook deliveries, and a limited-concurrency Batch helper.
//
//	pool := async.NewWorkerPool(ctx, 4, 256, "imports", 10*time.Minute)
//	if err := pool.TrySubmit(job); errors.Is(err, async.ErrQueueFull) {
//		// leave the task PENDING for the next sweep
//	}
package async
