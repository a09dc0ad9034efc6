package store

import "context"

// Observe calls load once straight away and again after every change under
// prefix, always from the same goroutine. The context passed to load is
// cancelled by stop, which does not wait for an in-flight load to return.
func Observe(s Store, prefix string, load func(ctx context.Context)) (stop func(), err error) {
	ctx, cancel := context.WithCancel(context.Background())
	w, err := s.Watch(ctx, prefix)
	if err != nil {
		cancel()
		return nil, err
	}
	go func() {
		load(ctx)
		for range w.Events() {
			if ctx.Err() != nil {
				return
			}
			load(ctx)
		}
	}()
	return func() {
		cancel()
		w.Stop()
	}, nil
}
