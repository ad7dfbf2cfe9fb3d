// Package async provides safe concurrent execution primitives for background tasks.
//
// SafeGo runs a single task in a goroutine with panic recovery and a timeout:
//
//	async.SafeGo(ctx, 5*time.Second, "audit write", func(ctx context.Context) error {
//		return store.Append(ctx, entry)
//	})
//
// WorkerPool bounds the number of concurrent tasks. TrySubmit never blocks,
// which lets callers fall back to SafeGo when the queue is saturated:
//
//	pool := async.NewWorkerPoolWithQueue(ctx, 4, 1024, "audit writer", 10*time.Second)
//	if !pool.TrySubmit(task) {
//		async.SafeGo(ctx, 10*time.Second, "audit writer overflow", task)
//	}
//
// Batch fans a slice out over a temporary pool and collects the errors:
//
//	errs := async.Batch(ctx, chunks, 4, "archive upload", 30*time.Second, upload)
package async
