package tool

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/alanbriolat/video-fetcher/generic"
	sync_ "github.com/alanbriolat/video-fetcher/internal/sync"
)

// Resolver remembers the last tool a Registry resolved, for as long as that file still exists.
type Resolver struct {
	registry *Registry
	cached   *sync_.Mutexed[generic.Option[ResolvedTool]]
	log      *zap.SugaredLogger
}

func NewResolver(registry *Registry) *Resolver {
	return &Resolver{
		registry: registry,
		cached:   sync_.NewMutexed(generic.None[ResolvedTool]()),
		log:      zap.S().Named("tool"),
	}
}

// Resolve returns the cached tool, or resolves it again. Concurrent callers wait for one resolution, so the tool is
// never installed twice at once.
func (r *Resolver) Resolve(ctx context.Context) (ResolvedTool, error) {
	var result ResolvedTool
	err := r.cached.Locked(func(cached *generic.Option[ResolvedTool]) error {
		if tool, ok := cached.Get(); ok {
			if _, err := os.Stat(tool.Path); err == nil {
				result = tool
				return nil
			}
			r.log.Infof("cached %v at %v has gone away", ToolName, tool.Path)
			*cached = generic.None[ResolvedTool]()
		}
		tool, err := r.registry.Resolve(ctx)
		if err != nil {
			return err
		}
		r.log.Debugw("resolved tool", "path", tool.Path, "locator", tool.Locator)
		*cached = generic.Some(tool)
		result = tool
		return nil
	})
	return result, err
}

// Forget drops the cached tool.
func (r *Resolver) Forget() {
	r.cached.Set(generic.None[ResolvedTool]())
}
