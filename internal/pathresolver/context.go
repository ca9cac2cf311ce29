package pathresolver

import "context"

type ctxKey int

const resolvedKey ctxKey = 1

func WithResolved(ctx context.Context, r *Resolved) context.Context {
	return context.WithValue(ctx, resolvedKey, r)
}

func FromContext(ctx context.Context) (*Resolved, bool) {
	r, ok := ctx.Value(resolvedKey).(*Resolved)
	return r, ok
}
