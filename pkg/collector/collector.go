package collector

import (
	"context"

	"github.com/JakubPetorvec/PVFSWeight/internal/tasks"
)

// Options re-exposes the tasks.Options type for external callers.
type Options = tasks.Options

// Run starts the weighing service with the given options using the internal tasks implementation.
func Run(ctx context.Context, opts Options) error {
	return tasks.InitAndRunWeighd(ctx, opts)
}
