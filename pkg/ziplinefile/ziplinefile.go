// Package ziplinefile reads and writes the framed container that carries a
// module's compiled bytecode on disk and over the wire.
package ziplinefile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic identifies the container format. Spells "ZIPL" in ASCII.
const Magic uint32 = 0x5A49504C

// CurrentVersion is the container version this writer emits and the only
// version this reader accepts.
const CurrentVersion uint32 = 1

const headerSize = 12

var (
	// ErrMalformedFile reports broken framing: bad magic, short reads,
	// or a length field that disagrees with the payload.
	ErrMalformedFile = errors.New("malformed zipline file")

	// ErrUnsupportedVersion reports a container whose version tag this
	// reader does not understand.
	ErrUnsupportedVersion = errors.New("unsupported zipline file version")
)

// File is a decoded module container.
type File struct {
	Version  uint32
	Bytecode []byte
}

// Encode frames bytecode into the current container version.
func Encode(bytecode []byte) []byte {
	out := make([]byte, headerSize+len(bytecode))
	binary.BigEndian.PutUint32(out[0:4], Magic)
	binary.BigEndian.PutUint32(out[4:8], CurrentVersion)
	binary.BigEndian.PutUint32(out[8:12], uint32(len(bytecode)))
	copy(out[headerSize:], bytecode)
	return out
}

// Decode parses a framed container. It rejects unknown magic and short
// reads with ErrMalformedFile and unknown versions with
// ErrUnsupportedVersion.
func Decode(data []byte) (*File, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the %d-byte header", ErrMalformedFile, len(data), headerSize)
	}
	if magic := binary.BigEndian.Uint32(data[0:4]); magic != Magic {
		return nil, fmt.Errorf("%w: bad magic 0x%08X", ErrMalformedFile, magic)
	}
	version := binary.BigEndian.Uint32(data[4:8])
	if version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	length := binary.BigEndian.Uint32(data[8:12])
	if uint64(length) != uint64(len(data)-headerSize) {
		return nil, fmt.Errorf("%w: declared %d bytecode bytes, found %d", ErrMalformedFile, length, len(data)-headerSize)
	}
	return &File{
		Version:  version,
		Bytecode: data[headerSize:],
	}, nil
}
