package audio

import (
	"encoding/binary"
	"io"
)

const wavHeaderSize = 44

// WriteWAV writes pcm as a mono 16-bit little-endian WAV stream.
func WriteWAV(w io.Writer, pcm []int16, sampleRate int) error {
	dataLen := len(pcm) * 2
	buf := make([]byte, wavHeaderSize+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(wavHeaderSize-8+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))

	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[wavHeaderSize+i*2:], uint16(s))
	}
	_, err := w.Write(buf)
	return err
}
