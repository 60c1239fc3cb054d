package formats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// forcedBreakValue always gets a run of its own, however often it repeats.
// The engine loader has relied on this since the first RLE writer.
const forcedBreakValue = math.MaxUint16

// maxRunLength is the longest run a u16 length field can hold.
const maxRunLength = math.MaxUint16

// Run is one (length, value) pair of a run-length tile stream. A run with
// Length 0 terminates the stream.
type Run struct {
	Length uint16
	Value  uint16
}

// IsSentinel reports whether r terminates a stream.
func (r Run) IsSentinel() bool {
	return r.Length == 0
}

// EncodeRLE coalesces equal consecutive values into runs and appends the
// (0, 0) sentinel. A run is closed when the next value differs, when the
// current value is 65535, or when its length reaches 65535.
func EncodeRLE(values []uint16) []Run {
	runs := make([]Run, 0, 8)
	if len(values) == 0 {
		return append(runs, Run{})
	}

	current := Run{Length: 1, Value: values[0]}
	for _, v := range values[1:] {
		if v != current.Value || current.Value == forcedBreakValue || current.Length == maxRunLength {
			runs = append(runs, current)
			current = Run{Length: 1, Value: v}
			continue
		}
		current.Length++
	}
	runs = append(runs, current, Run{})
	return runs
}

// ExpandRuns turns runs back into values, stopping at the first sentinel.
func ExpandRuns(runs []Run) []uint16 {
	var values []uint16
	for _, r := range runs {
		if r.IsSentinel() {
			break
		}
		for i := uint16(0); i < r.Length; i++ {
			values = append(values, r.Value)
		}
	}
	return values
}

// WriteRuns writes runs as little-endian u16 pairs.
func WriteRuns(w io.Writer, runs []Run) error {
	buf := make([]byte, 0, len(runs)*4)
	for _, r := range runs {
		buf = binary.LittleEndian.AppendUint16(buf, r.Length)
		buf = binary.LittleEndian.AppendUint16(buf, r.Value)
	}
	_, err := w.Write(buf)
	return err
}

// ReadRuns reads runs from r up to and including the sentinel.
func ReadRuns(r io.Reader) ([]Run, error) {
	var runs []Run
	for {
		var run Run
		if err := binary.Read(r, binary.LittleEndian, &run); err != nil {
			return nil, fmt.Errorf("%w: reading run %d", ErrTruncatedTileMapData, len(runs))
		}
		runs = append(runs, run)
		if run.IsSentinel() {
			return runs, nil
		}
	}
}

// DecodeRLE reads one run-length stream from r and expands it.
func DecodeRLE(r io.Reader) ([]uint16, error) {
	runs, err := ReadRuns(r)
	if err != nil {
		return nil, err
	}
	return ExpandRuns(runs), nil
}

// WriteUncompressed writes values as a flat little-endian u16 array.
func WriteUncompressed(w io.Writer, values []uint16) error {
	buf := make([]byte, 0, len(values)*2)
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint16(buf, v)
	}
	_, err := w.Write(buf)
	return err
}

// DecodeUncompressed reads count little-endian u16 values from r.
func DecodeUncompressed(r io.Reader, count int) ([]uint16, error) {
	raw := make([]byte, count*2)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("%w: reading %d tiles", ErrTruncatedTileMapData, count)
	}
	values := make([]uint16, count)
	for i := range values {
		values[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return values, nil
}

// encodeStream writes one layer's tiles with the given encoding.
func encodeStream(w io.Writer, values []uint16, enc Encoding) error {
	switch enc {
	case EncodingRLE:
		return WriteRuns(w, EncodeRLE(values))
	case EncodingUncompressed:
		return WriteUncompressed(w, values)
	default:
		return fmt.Errorf("unknown tile encoding %d", enc)
	}
}

// decodeStream is the inverse of encodeStream.
func decodeStream(r *bytes.Reader, count int, enc Encoding) ([]uint16, error) {
	switch enc {
	case EncodingRLE:
		return DecodeRLE(r)
	case EncodingUncompressed:
		return DecodeUncompressed(r, count)
	default:
		return nil, fmt.Errorf("unknown tile encoding %d", enc)
	}
}
