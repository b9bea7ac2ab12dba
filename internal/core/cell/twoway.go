package cell

// TwoWay reads from a source cell and redirects writes to a handler. The
// source only changes when the handler's effect comes back through whatever
// feeds it, so a write is a round trip rather than a local assignment.
type TwoWay[T any] struct {
	source Readable[T]
	write  func(T) error
}

func NewTwoWay[T any](source Readable[T], write func(T) error) *TwoWay[T] {
	return &TwoWay[T]{source: source, write: write}
}

func (c *TwoWay[T]) Get() T {
	return c.source.Get()
}

func (c *TwoWay[T]) Subscribe(fn func(T)) Subscription {
	return c.source.Subscribe(fn)
}

// Set passes value to the write handler and returns its error.
func (c *TwoWay[T]) Set(value T) error {
	return c.write(value)
}
