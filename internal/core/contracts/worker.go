package contracts

import "context"

type AsyncWorker interface {
	// Run blocks until ctx is cancelled, doing periodic work.
	Run(ctx context.Context) error
}
