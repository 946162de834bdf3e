package pubsub

type TrySenderCloser[T any] interface {
	TrySender[T]
	Closer
}

// NewLossySender never blocks the caller on a slow receiver. A message that doesn't fit is dropped if droppable
// accepts it; otherwise the receiver is too far behind to be useful, and the channel is closed.
func NewLossySender[T any](c TrySenderCloser[T], droppable func(T) bool) SenderCloser[T] {
	return &lossySender[T]{
		TrySenderCloser: c,
		droppable:       droppable,
	}
}

type lossySender[T any] struct {
	TrySenderCloser[T]
	droppable func(T) bool
}

func (s *lossySender[T]) Send(msg T) bool {
	sent, open := s.TrySend(msg)
	switch {
	case sent:
		return true
	case !open:
		return false
	case s.droppable != nil && s.droppable(msg):
		return true
	default:
		s.Close()
		return false
	}
}
