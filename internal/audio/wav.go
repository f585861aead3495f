package audio

import (
	"encoding/binary"
	"errors"
)

// WAVHeaderSize is the length of the canonical RIFF/WAVE PCM header.
const WAVHeaderSize = 44

// riffOverhead is the part of the header counted in the RIFF chunk size.
const riffOverhead = WAVHeaderSize - 8

var ErrNotWAV = errors.New("not a PCM WAV header")

// WAVHeader is the decoded form of a canonical 44-byte header.
type WAVHeader struct {
	ChunkSize uint32
	Format    Format
	DataSize  uint32
}

// EncodeWAV prefixes pcm with a header describing it. pcm is copied.
func EncodeWAV(pcm []byte, f Format) []byte {
	out := make([]byte, WAVHeaderSize+len(pcm))
	putHeader(out, uint32(len(pcm)), f)
	copy(out[WAVHeaderSize:], pcm)
	return out
}

// putHeader writes the header for dataSize bytes of f into dst[:44].
// chunkSize is always dataSize + 36.
func putHeader(dst []byte, dataSize uint32, f Format) {
	le := binary.LittleEndian
	copy(dst[0:4], "RIFF")
	le.PutUint32(dst[4:8], dataSize+riffOverhead)
	copy(dst[8:12], "WAVE")
	copy(dst[12:16], "fmt ")
	le.PutUint32(dst[16:20], 16) // fmt sub-chunk size for PCM
	le.PutUint16(dst[20:22], 1)  // PCM
	le.PutUint16(dst[22:24], uint16(f.Channels))
	le.PutUint32(dst[24:28], uint32(f.SampleRate))
	le.PutUint32(dst[28:32], uint32(f.ByteRate()))
	le.PutUint16(dst[32:34], uint16(f.BlockAlign()))
	le.PutUint16(dst[34:36], uint16(f.BitsPerSample))
	copy(dst[36:40], "data")
	le.PutUint32(dst[40:44], dataSize)
}

// ParseWAVHeader decodes the first 44 bytes of b.
func ParseWAVHeader(b []byte) (WAVHeader, error) {
	if len(b) < WAVHeaderSize ||
		string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" ||
		string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
		return WAVHeader{}, ErrNotWAV
	}
	le := binary.LittleEndian
	if le.Uint16(b[20:22]) != 1 {
		return WAVHeader{}, ErrNotWAV
	}
	return WAVHeader{
		ChunkSize: le.Uint32(b[4:8]),
		Format: Format{
			SampleRate:    int(le.Uint32(b[24:28])),
			BitsPerSample: int(le.Uint16(b[34:36])),
			Channels:      int(le.Uint16(b[22:24])),
		},
		DataSize: le.Uint32(b[40:44]),
	}, nil
}

// Valid reports whether the size fields agree with each other and with the
// total length of the file they came from.
func (h WAVHeader) Valid(total int) bool {
	return h.ChunkSize == h.DataSize+riffOverhead && int(h.DataSize) == total-WAVHeaderSize
}
