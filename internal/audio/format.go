// Package audio frames raw PCM into playable containers.
package audio

import "fmt"

// Format describes interleaved linear PCM.
type Format struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
}

// BlockAlign is the size in bytes of one frame across all channels.
func (f Format) BlockAlign() int { return f.Channels * f.BitsPerSample / 8 }

// ByteRate is the number of bytes per second of audio.
func (f Format) ByteRate() int { return f.SampleRate * f.BlockAlign() }

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dbit/%dch", f.SampleRate, f.BitsPerSample, f.Channels)
}

// Linear16 is 16-bit little-endian PCM at rate with the given channel count.
func Linear16(rate, channels int) Format {
	return Format{SampleRate: rate, BitsPerSample: 16, Channels: channels}
}
