package mqtt

import log "github.com/sirupsen/logrus"

// bufferedMsg is a formatted message waiting for the broker.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer holds messages published while the broker is unreachable.
// When full the oldest message is overwritten. The publisher serialises
// access with its own mutex.
type ringBuffer struct {
	slots   []bufferedMsg
	oldest  int
	size    int
	dropped int

	// overflow is set on the first drop and cleared by drainAll so the
	// warning is logged once per outage.
	overflow bool
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{slots: make([]bufferedMsg, max(capacity, 1))}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	n := len(r.slots)
	if r.size < n {
		r.slots[(r.oldest+r.size)%n] = msg
		r.size++
		return
	}

	if !r.overflow {
		log.Warnf("mqtt: offline buffer full (%d messages), dropping oldest", n)
		r.overflow = true
	}
	r.slots[r.oldest] = msg
	r.oldest = (r.oldest + 1) % n
	r.dropped++
}

// drainAll empties the buffer and returns its contents oldest first.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.size == 0 {
		return nil
	}
	out := make([]bufferedMsg, 0, r.size)
	for i := 0; i < r.size; i++ {
		j := (r.oldest + i) % len(r.slots)
		out = append(out, r.slots[j])
		r.slots[j] = bufferedMsg{}
	}
	r.oldest, r.size, r.overflow = 0, 0, false
	return out
}

func (r *ringBuffer) len() int {
	return r.size
}
