package session

// IDAllocator hands out the correlation ids used for broker-to-client
// deliveries. Ids run 0..65535 and then wrap to 0.
//
// An allocator belongs to one session and is only used from that
// session's goroutine; it is not safe for concurrent use.
type IDAllocator struct {
	next uint16
}

// NewIDAllocator returns an allocator whose first id is start.
func NewIDAllocator(start uint16) *IDAllocator {
	return &IDAllocator{next: start}
}

// Next returns the current id and advances the counter.
// After 65535 the counter wraps to 0.
func (a *IDAllocator) Next() uint16 {
	id := a.next
	a.next++
	return id
}
