package video_fetcher

import (
	"context"
	"io"
)

// A context-aware io.Reader wrapper, so that long copies (e.g. io.Copy of an HTTP body) stop once ctx is done.
type readerContext struct {
	ctx context.Context
	r   io.Reader
}

func NewContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &readerContext{ctx: ctx, r: r}
}

func (r *readerContext) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
