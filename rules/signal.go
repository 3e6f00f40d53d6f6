package rules

// Signal is a fire-and-forget notification with any number of subscribers.
// Handlers run synchronously in subscription order.
type Signal[T any] struct {
	handlers []func(T)
}

// Subscribe registers fn to be called on every Emit.
func (s *Signal[T]) Subscribe(fn func(T)) {
	s.handlers = append(s.handlers, fn)
}

// Once registers fn for the next Emit only.
func (s *Signal[T]) Once(fn func(T)) {
	fired := false
	s.Subscribe(func(v T) {
		if fired {
			return
		}
		fired = true
		fn(v)
	})
}

// Emit calls every handler with v.
func (s *Signal[T]) Emit(v T) {
	for _, fn := range s.handlers {
		fn(v)
	}
}
