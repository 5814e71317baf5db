// Package blob implements the binary container shared by training
// checkpoints and deployment artifacts: a 4-byte magic tag, a format
// version, a section count, little-endian float64 sections and a CRC-32C
// trailer. Sections carry no names; the YAML sidecar next to each blob
// defines their order and meaning.
package blob

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
)

const (
	headerSize  = 12 // magic(4) + version(2) + reserved(2) + nsections(4)
	trailerSize = 4  // crc32
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ErrCorrupt marks containers that fail checksum or structural checks. A
// wrong magic or version is reported as a plain error: that is a different
// file, not a damaged one.
var ErrCorrupt = errors.New("corrupt blob")

// Writer accumulates sections and finalizes the container.
type Writer struct {
	buf      []byte
	finished bool
}

// NewWriter starts a container with the given 4-byte magic and version.
func NewWriter(magic string, version uint16) (*Writer, error) {
	if len(magic) != 4 {
		return nil, fmt.Errorf("blob magic must be 4 bytes, got %q", magic)
	}
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint16(buf[4:6], version)
	return &Writer{buf: buf}, nil
}

// Section appends one float64 section.
func (w *Writer) Section(v []float64) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(v)))
	w.buf = append(w.buf, lenBuf[:]...)
	var fb [8]byte
	for _, f := range v {
		binary.LittleEndian.PutUint64(fb[:], math.Float64bits(f))
		w.buf = append(w.buf, fb[:]...)
	}
	n := binary.LittleEndian.Uint32(w.buf[8:12])
	binary.LittleEndian.PutUint32(w.buf[8:12], n+1)
}

// Finish seals the container with its checksum and returns the bytes. The
// writer is spent afterwards.
func (w *Writer) Finish() []byte {
	if w.finished {
		return w.buf
	}
	w.finished = true
	crc := crc32.Checksum(w.buf, crcTable)
	var cb [4]byte
	binary.LittleEndian.PutUint32(cb[:], crc)
	w.buf = append(w.buf, cb[:]...)
	return w.buf
}

// Parse verifies magic, version and checksum and returns the decoded
// sections. The data (often a memory map) is copied, so the caller may
// release it immediately.
func Parse(data []byte, magic string, version uint16) ([][]float64, error) {
	if len(data) < headerSize+trailerSize {
		return nil, fmt.Errorf("%w: too short at %d bytes", ErrCorrupt, len(data))
	}
	if got := string(data[0:4]); got != magic {
		return nil, fmt.Errorf("blob magic %q, want %q", got, magic)
	}
	if got := binary.LittleEndian.Uint16(data[4:6]); got != version {
		return nil, fmt.Errorf("blob format version %d, want %d", got, version)
	}
	body := data[:len(data)-trailerSize]
	stored := binary.LittleEndian.Uint32(data[len(data)-trailerSize:])
	if computed := crc32.Checksum(body, crcTable); computed != stored {
		return nil, fmt.Errorf("%w: checksum mismatch: stored %08x, computed %08x", ErrCorrupt, stored, computed)
	}

	nsec := binary.LittleEndian.Uint32(data[8:12])
	sections := make([][]float64, 0, nsec)
	off := headerSize
	for s := uint32(0); s < nsec; s++ {
		if off+4 > len(body) {
			return nil, fmt.Errorf("%w: truncated at section %d header", ErrCorrupt, s)
		}
		count := int(binary.LittleEndian.Uint32(body[off : off+4]))
		off += 4
		if off+8*count > len(body) {
			return nil, fmt.Errorf("%w: truncated, section %d wants %d floats", ErrCorrupt, s, count)
		}
		vals := make([]float64, count)
		for i := 0; i < count; i++ {
			vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[off : off+8]))
			off += 8
		}
		sections = append(sections, vals)
	}
	if off != len(body) {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d sections", ErrCorrupt, len(body)-off, nsec)
	}
	return sections, nil
}
