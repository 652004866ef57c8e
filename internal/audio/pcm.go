package audio

import (
	"encoding/binary"
	"fmt"
)

// MeanAbsAmplitude returns the mean absolute amplitude of PCM-16 samples,
// normalized to [0, 1]. An empty slice is silent.
func MeanAbsAmplitude(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}

	return sum / float64(len(samples)) / 32768.0
}

// SamplesToBytes serializes PCM-16 samples as little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	return buf
}

// BytesToSamples deserializes little-endian bytes back to PCM-16 samples.
func BytesToSamples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even, got %d bytes", len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}

	return samples, nil
}
