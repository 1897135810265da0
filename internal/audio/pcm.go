package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleAt returns the normalized amplitude of sample i in pcm. 16-bit
// samples are signed little-endian scaled by 1/32768; 8-bit samples are
// unsigned and centred on zero.
func SampleAt(pcm []byte, bitsPerSample, i int) float64 {
	switch bitsPerSample {
	case 16:
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	case 8:
		return float64(pcm[i])/255.0 - 0.5
	default:
		return 0
	}
}

// DecodeSamples converts interleaved PCM bytes to normalized float samples.
// A trailing partial sample is ignored.
func DecodeSamples(pcm []byte, bitsPerSample int) ([]float64, error) {
	if bitsPerSample != 8 && bitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported sample width: %d bits", bitsPerSample)
	}

	n := len(pcm) / (bitsPerSample / 8)
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = SampleAt(pcm, bitsPerSample, i)
	}
	return samples, nil
}

// MeanAbsEnergy returns the mean absolute amplitude of samples
func MeanAbsEnergy(samples []float64) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, s := range samples {
		sum += math.Abs(s)
	}
	return sum / float64(len(samples))
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, s := range samples {
		sum += s * s
	}

	return math.Sqrt(sum / float64(len(samples)))
}
