package events

// DefaultCapacity is the bus buffer size used when none is given. At the
// consumer's drain cadence (one drain per frame tick) this absorbs bursts
// from chatty log streams without blocking producers.
const DefaultCapacity = 1024

// Bus is a multi-producer, single-consumer conduit. Any number of workers
// publish; exactly one consumer drains. A single underlying channel preserves
// per-producer FIFO order.
type Bus struct {
	ch chan Event
}

// NewBus creates a bus with the given buffer capacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{ch: make(chan Event, capacity)}
}

// Publish delivers an event to the consumer. It blocks only when the buffer
// is full, which backpressures the producing worker, never the consumer.
func (b *Bus) Publish(ev Event) {
	b.ch <- ev
}

// TryPublish delivers an event unless the buffer is full. Used by producers
// that prefer dropping over blocking (none in-tree today, but part of the
// bus contract).
func (b *Bus) TryPublish(ev Event) bool {
	select {
	case b.ch <- ev:
		return true
	default:
		return false
	}
}

// Drain returns every event currently buffered, in arrival order, without
// blocking. The consumer calls this once per tick; an empty slice means a
// quiet tick.
func (b *Bus) Drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-b.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Len reports the number of buffered events. Diagnostic only.
func (b *Bus) Len() int {
	return len(b.ch)
}
