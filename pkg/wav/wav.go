// Package wav frames raw PCM byte chunks into a self-describing WAV
// container.
//
// The container is a derived artifact: it is recomputed in full from an
// ordered chunk sequence and a format descriptor each time, and is never
// itself a source of truth.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size of the RIFF/WAVE header produced by Encode.
const HeaderSize = 44

// Header is the 44-byte RIFF/WAVE header for a PCM data chunk. All
// multi-byte fields are little-endian.
type Header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // total size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // payload length in bytes
}

// Format describes the PCM sample layout of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// Validate reports whether the format fields are usable for encoding.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("wav: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("wav: channel count must be positive, got %d", f.Channels)
	}
	if f.BitDepth <= 0 {
		return fmt.Errorf("wav: bit depth must be positive, got %d", f.BitDepth)
	}
	return nil
}

// Encode concatenates the PCM chunks in the order given and prefixes them
// with a RIFF/WAVE header describing format. It is pure and deterministic;
// an empty chunk sequence yields a structurally valid container with a
// zero-length data chunk.
func Encode(chunks [][]byte, format Format) ([]byte, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	var dataSize int
	for _, c := range chunks {
		dataSize += len(c)
	}

	header := Header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.SampleRate * format.Channels * format.BitDepth / 8),
		BlockAlign:    uint16(format.Channels * format.BitDepth / 8),
		BitsPerSample: uint16(format.BitDepth),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+dataSize))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("wav: write header: %w", err)
	}
	for _, c := range chunks {
		buf.Write(c)
	}
	return buf.Bytes(), nil
}

// ReadHeader parses the header of an encoded container. It validates the
// RIFF/WAVE magic and the fmt/data sub-chunk identifiers.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("wav: container too short: %d bytes", len(data))
	}

	var h Header
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return Header{}, fmt.Errorf("wav: read header: %w", err)
	}
	if string(h.ChunkID[:]) != "RIFF" || string(h.Format[:]) != "WAVE" {
		return Header{}, fmt.Errorf("wav: not a RIFF/WAVE container")
	}
	if string(h.Subchunk1ID[:]) != "fmt " {
		return Header{}, fmt.Errorf("wav: missing fmt chunk")
	}
	if string(h.Subchunk2ID[:]) != "data" {
		return Header{}, fmt.Errorf("wav: missing data chunk")
	}
	return h, nil
}
