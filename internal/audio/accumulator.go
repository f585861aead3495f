package audio

// Accumulator collects the PCM of one agent turn. It is not safe for
// concurrent use; the owning session serializes access.
type Accumulator struct {
	buf []byte
}

// NewAccumulator returns an accumulator with room for capacity bytes.
func NewAccumulator(capacity int) *Accumulator {
	return &Accumulator{buf: make([]byte, 0, capacity)}
}

// Append copies chunk onto the end of the turn.
func (a *Accumulator) Append(chunk []byte) {
	a.buf = append(a.buf, chunk...)
}

// Len is the number of buffered PCM bytes.
func (a *Accumulator) Len() int { return len(a.buf) }

// Finalize frames everything buffered so far as a WAV file. The buffer is
// left as is; call Clear once the result has been consumed.
func (a *Accumulator) Finalize(f Format) []byte {
	return EncodeWAV(a.buf, f)
}

// Clear empties the buffer, keeping its capacity for the next turn.
func (a *Accumulator) Clear() {
	a.buf = a.buf[:0]
}
