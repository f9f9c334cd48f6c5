package audio

import "math"

// PCM conversion helpers for 16-bit little-endian audio. Playback needs only
// cheap conversions: channel fan-out by duplication and nearest-neighbour
// resampling. Anything higher quality belongs in the providers, not here.

// MonoToChannels duplicates each mono int16 sample across n output channels.
// n <= 1 returns pcm unchanged.
func MonoToChannels(pcm []byte, n int) []byte {
	if n <= 1 {
		return pcm
	}
	samples := len(pcm) / 2
	out := make([]byte, samples*2*n)
	for i := 0; i < samples; i++ {
		lo, hi := pcm[i*2], pcm[i*2+1]
		base := i * 2 * n
		for c := 0; c < n; c++ {
			out[base+c*2] = lo
			out[base+c*2+1] = hi
		}
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono
// output. Uses int32 arithmetic to prevent overflow and clamps to int16.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleNearestMono16 converts mono int16 PCM from srcRate to dstRate by
// nearest-neighbour sample picking. Equal rates return pcm unchanged.
func ResampleNearestMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := srcSamples * dstRate / srcRate
	out := make([]byte, dstSamples*2)
	for i := 0; i < dstSamples; i++ {
		j := i * srcRate / dstRate
		if j >= srcSamples {
			j = srcSamples - 1
		}
		out[i*2] = pcm[j*2]
		out[i*2+1] = pcm[j*2+1]
	}
	return out
}

// Float32ToInt16 converts 32-bit float PCM (little-endian, [-1, 1]) to
// int16 PCM, clamping out-of-range values.
func Float32ToInt16(pcm []byte) []byte {
	samples := len(pcm) / 4
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		bits := uint32(pcm[i*4]) | uint32(pcm[i*4+1])<<8 | uint32(pcm[i*4+2])<<16 | uint32(pcm[i*4+3])<<24
		f := math.Float32frombits(bits)
		v := int32(f * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Silence overwrites buf with int16 silence.
func Silence(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
