package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrNotWAV = errors.New("unsupported wav header")

type wavFormat struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    int
	bitsPerSample uint16
}

// DecodeWAVPCM16 extracts PCM16LE samples from a RIFF/WAVE payload. Multi
// channel audio is downmixed to mono by averaging each frame.
func DecodeWAVPCM16(data []byte) ([]byte, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, ErrNotWAV
	}

	var (
		format  *wavFormat
		samples []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, 0, fmt.Errorf("invalid wav chunk %q size %d", id, size)
		}
		body := data[off : off+size]
		switch id {
		case "fmt ":
			if len(body) < 16 {
				return nil, 0, fmt.Errorf("invalid wav fmt chunk")
			}
			format = &wavFormat{
				audioFormat:   binary.LittleEndian.Uint16(body[0:2]),
				channels:      binary.LittleEndian.Uint16(body[2:4]),
				sampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
				bitsPerSample: binary.LittleEndian.Uint16(body[14:16]),
			}
		case "data":
			samples = body
		}
		// Chunks are word aligned.
		off += size + size%2
	}

	switch {
	case format == nil:
		return nil, 0, fmt.Errorf("wav fmt chunk missing")
	case len(samples) == 0:
		return nil, 0, fmt.Errorf("wav data chunk missing")
	case format.audioFormat != 1:
		return nil, 0, fmt.Errorf("unsupported wav audio format %d", format.audioFormat)
	case format.bitsPerSample != 16:
		return nil, 0, fmt.Errorf("unsupported wav bits_per_sample %d", format.bitsPerSample)
	case format.channels == 0:
		return nil, 0, fmt.Errorf("invalid wav channels=0")
	}
	sampleRate := format.sampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	if format.channels == 1 {
		n := len(samples) &^ 1
		return append([]byte(nil), samples[:n]...), sampleRate, nil
	}
	return downmix(samples, int(format.channels)), sampleRate, nil
}

func downmix(samples []byte, channels int) []byte {
	frameBytes := channels * 2
	frames := len(samples) / frameBytes
	mono := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		frame := samples[i*frameBytes : (i+1)*frameBytes]
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += int(int16(binary.LittleEndian.Uint16(frame[ch*2:])))
		}
		binary.LittleEndian.PutUint16(mono[i*2:], uint16(int16(sum/channels)))
	}
	return mono
}
