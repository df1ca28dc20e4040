package ziplinefile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	bytecode := []byte("compiled quickjs bytecode")

	f, err := Decode(Encode(bytecode))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if f.Version != CurrentVersion {
		t.Errorf("version mismatch: got %d, want %d", f.Version, CurrentVersion)
	}
	if !bytes.Equal(f.Bytecode, bytecode) {
		t.Errorf("bytecode mismatch: got %q", f.Bytecode)
	}
}

func TestDecode_EmptyBytecode(t *testing.T) {
	f, err := Decode(Encode(nil))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(f.Bytecode) != 0 {
		t.Errorf("expected empty bytecode, got %d bytes", len(f.Bytecode))
	}
}

func TestDecode_ShortRead(t *testing.T) {
	full := Encode([]byte("payload"))

	for _, n := range []int{0, 3, 11, len(full) - 1} {
		if _, err := Decode(full[:n]); !errors.Is(err, ErrMalformedFile) {
			t.Errorf("truncation to %d bytes: expected ErrMalformedFile, got %v", n, err)
		}
	}
}

func TestDecode_BadMagic(t *testing.T) {
	data := Encode([]byte("payload"))
	binary.BigEndian.PutUint32(data[0:4], 0xDEADBEEF)

	if _, err := Decode(data); !errors.Is(err, ErrMalformedFile) {
		t.Errorf("expected ErrMalformedFile, got %v", err)
	}
}

func TestDecode_UnknownVersion(t *testing.T) {
	data := Encode([]byte("payload"))
	binary.BigEndian.PutUint32(data[4:8], CurrentVersion+1)

	if _, err := Decode(data); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestDecode_LengthMismatch(t *testing.T) {
	data := Encode([]byte("payload"))
	binary.BigEndian.PutUint32(data[8:12], 3)

	if _, err := Decode(data); !errors.Is(err, ErrMalformedFile) {
		t.Errorf("expected ErrMalformedFile, got %v", err)
	}
}
