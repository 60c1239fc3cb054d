package entity

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/Faultbox/tilebake/pkg/encoding"
)

// PayloadWriter buffers the little-endian payload of one record.
type PayloadWriter struct {
	buf     bytes.Buffer
	charset *encoding.Charset
}

// NewPayloadWriter creates a writer that encodes strings in cs. A nil
// charset writes strings as UTF-8.
func NewPayloadWriter(cs *encoding.Charset) *PayloadWriter {
	if cs == nil {
		cs = encoding.MustLookup(encoding.DefaultCharset)
	}
	return &PayloadWriter{charset: cs}
}

// U32 writes an unsigned 32-bit integer.
func (w *PayloadWriter) U32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// I32 writes a signed 32-bit integer.
func (w *PayloadWriter) I32(v int32) {
	w.U32(uint32(v))
}

// F32 writes a 32-bit IEEE float.
func (w *PayloadWriter) F32(v float32) {
	w.U32(math.Float32bits(v))
}

// Bool writes a u32 that is 1 for true and 0 for false.
func (w *PayloadWriter) Bool(v bool) {
	if v {
		w.U32(1)
		return
	}
	w.U32(0)
}

// Version writes a payload version tag.
func (w *PayloadWriter) Version(v uint32) {
	w.U32(v)
}

// String writes a u32 byte length followed by s encoded in the writer's
// charset.
func (w *PayloadWriter) String(s string) error {
	data, err := w.charset.Encode(s)
	if err != nil {
		return err
	}
	w.U32(uint32(len(data)))
	w.buf.Write(data)
	return nil
}

// Bytes returns the buffered payload.
func (w *PayloadWriter) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of buffered bytes.
func (w *PayloadWriter) Len() int {
	return w.buf.Len()
}

// Reset discards the buffered payload.
func (w *PayloadWriter) Reset() {
	w.buf.Reset()
}
