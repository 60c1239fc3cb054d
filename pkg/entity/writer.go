package entity

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"go.uber.org/zap"

	"github.com/Faultbox/tilebake/pkg/encoding"
	"github.com/Faultbox/tilebake/pkg/tiled"
)

// ObjectsFileVersion is written at the start of a stream when headers are
// enabled.
const ObjectsFileVersion uint32 = 1

// transformVersion is the version of the common transform block.
const transformVersion int32 = 1

// Policy decides what happens to a placement that cannot be serialized.
type Policy string

// Policies.
const (
	PolicySkip Policy = "skip"
	PolicyFail Policy = "fail"
)

// ErrUnknownPolicy is returned by ParsePolicy.
var ErrUnknownPolicy = errors.New("unknown policy")

// ParsePolicy parses "skip" or "fail". An empty string yields def.
func ParsePolicy(s string, def Policy) (Policy, error) {
	switch Policy(s) {
	case "":
		return def, nil
	case PolicySkip, PolicyFail:
		return Policy(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// UnregisteredTypeError reports a placement whose type has no serializer.
type UnregisteredTypeError struct {
	Map      string
	Layer    string
	ObjectID int
	Type     string
}

func (e *UnregisteredTypeError) Error() string {
	return fmt.Sprintf("%s: layer %q object %d: no serializer registered for type %q",
		e.Map, e.Layer, e.ObjectID, e.Type)
}

// Options controls the record stream framing and error policies. The zero
// value writes bare (typeCode, payload) records, skips unregistered types
// and fails on missing properties.
type Options struct {
	// Header prefixes the stream with ObjectsFileVersion and the record count.
	Header bool
	// LengthPrefix writes the byte length of the rest of each record after
	// its type code.
	LengthPrefix bool
	// Transform writes the common position/scale/rotation/flag block before
	// each payload.
	Transform bool

	Charset           *encoding.Charset
	OnUnregistered    Policy
	OnMissingProperty Policy
}

func (o Options) unregistered() Policy {
	if o.OnUnregistered == "" {
		return PolicySkip
	}
	return o.OnUnregistered
}

func (o Options) missingProperty() Policy {
	if o.OnMissingProperty == "" {
		return PolicyFail
	}
	return o.OnMissingProperty
}

// Stats counts what a Write call did.
type Stats struct {
	Records         int
	Unregistered    int
	MissingProperty int
	PerType         map[string]int
}

// Add merges other into s.
func (s *Stats) Add(other Stats) {
	s.Records += other.Records
	s.Unregistered += other.Unregistered
	s.MissingProperty += other.MissingProperty
	if s.PerType == nil {
		s.PerType = make(map[string]int)
	}
	for k, v := range other.PerType {
		s.PerType[k] += v
	}
}

// RecordWriter serializes object placements through a Registry.
type RecordWriter struct {
	reg  *Registry
	opts Options
	log  *zap.Logger
}

// NewRecordWriter creates a record writer. A nil logger disables logging.
func NewRecordWriter(reg *Registry, opts Options, log *zap.Logger) *RecordWriter {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Charset == nil {
		opts.Charset = encoding.MustLookup(encoding.DefaultCharset)
	}
	return &RecordWriter{reg: reg, opts: opts, log: log}
}

// Write serializes every placement of every object layer of maps, in map,
// layer and object order, and writes the resulting stream to w.
func (rw *RecordWriter) Write(w io.Writer, maps []*tiled.Map) (Stats, error) {
	stats := Stats{PerType: make(map[string]int)}
	var body bytes.Buffer

	for _, m := range maps {
		for li := range m.Layers {
			layer := &m.Layers[li]
			if layer.Kind != tiled.ObjectLayer {
				continue
			}
			for oi := range layer.Objects {
				obj := &layer.Objects[oi]
				rec, err := rw.record(m, layer, obj, &stats)
				if err != nil {
					return stats, err
				}
				if rec == nil {
					continue
				}
				body.Write(rec)
				stats.Records++
				stats.PerType[obj.Type]++
			}
		}
	}

	if rw.opts.Header {
		header := []uint32{ObjectsFileVersion, uint32(stats.Records)}
		if err := binary.Write(w, binary.LittleEndian, header); err != nil {
			return stats, fmt.Errorf("writing header: %w", err)
		}
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return stats, fmt.Errorf("writing records: %w", err)
	}
	return stats, nil
}

// record returns the encoded record for obj, or nil if it is skipped.
func (rw *RecordWriter) record(m *tiled.Map, layer *tiled.Layer, obj *tiled.Object, stats *Stats) ([]byte, error) {
	reg, ok := rw.reg.Resolve(obj.Type)
	if !ok {
		uerr := &UnregisteredTypeError{Map: m.Path, Layer: layer.Name, ObjectID: obj.ID, Type: obj.Type}
		if rw.opts.unregistered() == PolicyFail {
			return nil, uerr
		}
		stats.Unregistered++
		rw.log.Warn("skipping object with unregistered type",
			zap.String("map", m.Path),
			zap.String("layer", layer.Name),
			zap.Int("object", obj.ID),
			zap.String("type", obj.Type))
		return nil, nil
	}

	payload := NewPayloadWriter(rw.opts.Charset)
	if rw.opts.Transform {
		writeTransform(payload, obj, reg.Flag)
	}
	if err := reg.Serializer.Serialize(payload, obj); err != nil {
		var mp *MissingPropertyError
		if errors.As(err, &mp) && rw.opts.missingProperty() == PolicySkip {
			stats.MissingProperty++
			rw.log.Warn("skipping object with missing property",
				zap.String("map", m.Path),
				zap.String("layer", layer.Name),
				zap.Int("object", obj.ID),
				zap.String("type", obj.Type),
				zap.String("property", mp.Property))
			return nil, nil
		}
		return nil, fmt.Errorf("%s: layer %q object %d: %w", m.Path, layer.Name, obj.ID, err)
	}

	rec := make([]byte, 0, 8+payload.Len())
	rec = binary.LittleEndian.AppendUint32(rec, reg.TypeCode(obj))
	if rw.opts.LengthPrefix {
		rec = binary.LittleEndian.AppendUint32(rec, uint32(payload.Len()))
	}
	return append(rec, payload.Bytes()...), nil
}

// writeTransform writes the block the engine reads for every entity before
// its type-specific payload. Rotation is converted to radians.
func writeTransform(w *PayloadWriter, obj *tiled.Object, flag bool) {
	w.I32(transformVersion)
	w.F32(float32(obj.X))
	w.F32(float32(obj.Y))
	w.F32(1)
	w.F32(1)
	w.F32(float32(obj.Rotation * math.Pi / 180))
	w.Bool(flag)
}
