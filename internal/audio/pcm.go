package audio

import "encoding/binary"

// Int16ToBytes encodes samples as little-endian linear16.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 decodes little-endian linear16. A trailing odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Duration in milliseconds of n bytes of f.
func DurationMillis(n int, f Format) int {
	if f.ByteRate() == 0 {
		return 0
	}
	return n * 1000 / f.ByteRate()
}
