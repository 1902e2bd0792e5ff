// Package audio holds the PCM formats exchanged with clients and the model,
// and wraps raw PCM in WAV containers for playback and storage.
package audio

import "encoding/binary"

const (
	// InputSampleRate is the rate of PCM16 mono audio captured from clients.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of PCM16 mono audio produced by the model.
	OutputSampleRate = 24000

	BitsPerSample = 16
	Channels      = 1

	wavHeaderSize = 44
)

// PCMToWAV wraps raw little-endian PCM with a 44-byte RIFF/WAVE header.
func PCMToWAV(pcm []byte, sampleRate, bitsPerSample, channels int) []byte {
	dataLen := len(pcm)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	out := make([]byte, wavHeaderSize, wavHeaderSize+dataLen)

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataLen))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], uint16(bitsPerSample))

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataLen))

	return append(out, pcm...)
}

// MonoWAV wraps PCM16 mono audio at the given sample rate.
func MonoWAV(pcm []byte, sampleRate int) []byte {
	return PCMToWAV(pcm, sampleRate, BitsPerSample, Channels)
}

// Concat joins ordered chunks into one buffer.
func Concat(chunks [][]byte) []byte {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// DurationMS returns the playback length in milliseconds of PCM16 mono audio.
func DurationMS(pcmBytes, sampleRate int) int64 {
	if sampleRate <= 0 {
		return 0
	}
	samples := int64(pcmBytes) / (BitsPerSample / 8)
	return samples * 1000 / int64(sampleRate)
}
