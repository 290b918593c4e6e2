package fleetproto

// MaxFrame is the maximum notification payload the link endpoint's
// sensor-data characteristic can carry in a single write.
const MaxFrame = 20

// FragPrefix marks every fragment except the last one of a split message.
const FragPrefix = '+'

// Fragment splits payload into a sequence of link-endpoint frames. Messages
// that fit in MaxFrame bytes are returned as a single unprefixed frame.
// Longer messages are split so every frame but the last is exactly MaxFrame
// bytes, begins with FragPrefix, and carries MaxFrame-1 bytes of payload;
// the final frame is unprefixed and <= MaxFrame bytes.
func Fragment(payload []byte, maxFrame int) [][]byte {
	if len(payload) <= maxFrame {
		out := make([]byte, len(payload))
		copy(out, payload)
		return [][]byte{out}
	}

	chunkSize := maxFrame - 1
	var frames [][]byte
	for len(payload) > chunkSize {
		frame := make([]byte, 0, maxFrame)
		frame = append(frame, FragPrefix)
		frame = append(frame, payload[:chunkSize]...)
		frames = append(frames, frame)
		payload = payload[chunkSize:]
	}
	last := make([]byte, len(payload))
	copy(last, payload)
	frames = append(frames, last)
	return frames
}

// Reassembler accumulates link-endpoint frames the way StreamFramer
// accumulates partial stream reads, but keyed on the FragPrefix convention
// instead of a magic+length header: every FragPrefix-prefixed frame (stripped
// of the prefix) is buffered, and the first unprefixed frame commits the
// message.
type Reassembler struct {
	buf []byte
}

// Feed appends one received frame. It returns the complete message and true
// once an unprefixed (final) frame arrives; otherwise it returns nil, false
// and the frame's payload is buffered for the next call.
func (r *Reassembler) Feed(frame []byte) ([]byte, bool) {
	if len(frame) == 0 {
		msg := r.buf
		r.buf = nil
		return msg, true
	}

	if frame[0] == FragPrefix {
		r.buf = append(r.buf, frame[1:]...)
		return nil, false
	}

	r.buf = append(r.buf, frame...)
	msg := r.buf
	r.buf = nil
	return msg, true
}

// Reset discards any partially-assembled message.
func (r *Reassembler) Reset() {
	r.buf = nil
}
