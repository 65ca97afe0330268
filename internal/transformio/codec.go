// Package transformio decodes transform sets from JSON and encodes match
// results back to JSON.
//
// Three record shapes are understood, and may be mixed within one array:
//
//	{"m00":1,"m01":0,...,"m33":1}                 matrix: m<row><col> keys
//	[1,0,0,0, 0,1,0,0, 0,0,1,0, 0,0,0,1]          rowmajor: 16 numbers
//	{"translation":[x,y,z],"rotation":[x,y,z,w]}  trs: quaternion is xyzw
package transformio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/pointmatch/internal/rigid"
)

// Format names an output record shape.
type Format string

const (
	FormatMatrix   Format = "matrix"
	FormatRowMajor Format = "rowmajor"
	FormatTRS      Format = "trs"
)

// ParseFormat validates a user-supplied format name. The empty string maps
// to FormatMatrix.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return FormatMatrix, nil
	case FormatMatrix, FormatRowMajor, FormatTRS:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want matrix, rowmajor or trs)", s)
	}
}

// RecordError locates a decoding failure within the input array.
type RecordError struct {
	Index int
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// matrixRecord mirrors the m<row><col> object layout. Keys are declared in
// column order, which is the order the reference exporter writes them.
// Pointers detect missing keys on decode.
type matrixRecord struct {
	M00 *float64 `json:"m00"`
	M10 *float64 `json:"m10"`
	M20 *float64 `json:"m20"`
	M30 *float64 `json:"m30"`
	M01 *float64 `json:"m01"`
	M11 *float64 `json:"m11"`
	M21 *float64 `json:"m21"`
	M31 *float64 `json:"m31"`
	M02 *float64 `json:"m02"`
	M12 *float64 `json:"m12"`
	M22 *float64 `json:"m22"`
	M32 *float64 `json:"m32"`
	M03 *float64 `json:"m03"`
	M13 *float64 `json:"m13"`
	M23 *float64 `json:"m23"`
	M33 *float64 `json:"m33"`
}

// fields returns pointers to the record slots in row-major order.
func (r *matrixRecord) fields() [16]**float64 {
	return [16]**float64{
		&r.M00, &r.M01, &r.M02, &r.M03,
		&r.M10, &r.M11, &r.M12, &r.M13,
		&r.M20, &r.M21, &r.M22, &r.M23,
		&r.M30, &r.M31, &r.M32, &r.M33,
	}
}

func (r *matrixRecord) rowMajor() ([16]float64, error) {
	var m [16]float64
	for i, f := range r.fields() {
		if *f == nil {
			return m, fmt.Errorf("missing key m%d%d", i/4, i%4)
		}
		m[i] = **f
	}
	return m, nil
}

func newMatrixRecord(m [16]float64) *matrixRecord {
	r := &matrixRecord{}
	for i, f := range r.fields() {
		v := m[i]
		*f = &v
	}
	return r
}

type trsRecord struct {
	Translation *[3]float64 `json:"translation"`
	Rotation    *[4]float64 `json:"rotation"`
}

// Decode reads a JSON array of transform records.
func Decode(r io.Reader) ([]rigid.Transform, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read transforms: %w", err)
	}
	return Unmarshal(data)
}

// Unmarshal decodes a JSON array of transform records. Every record is
// validated; the first invalid one is reported as a *RecordError.
func Unmarshal(data []byte) ([]rigid.Transform, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse transform array: %w", err)
	}

	out := make([]rigid.Transform, len(raw))
	for i, rec := range raw {
		x, err := decodeRecord(rec)
		if err != nil {
			return nil, &RecordError{Index: i, Err: err}
		}
		out[i] = x
	}
	return out, nil
}

func decodeRecord(rec json.RawMessage) (rigid.Transform, error) {
	rec = bytes.TrimSpace(rec)
	if len(rec) == 0 {
		return rigid.Transform{}, fmt.Errorf("empty record")
	}

	switch rec[0] {
	case '[':
		var m []float64
		if err := json.Unmarshal(rec, &m); err != nil {
			return rigid.Transform{}, fmt.Errorf("parse row-major matrix: %w", err)
		}
		if len(m) != 16 {
			return rigid.Transform{}, fmt.Errorf("row-major matrix has %d values, want 16", len(m))
		}
		return rigid.FromMatrix([16]float64(m))

	case '{':
		var shape struct {
			Translation json.RawMessage `json:"translation"`
		}
		if err := json.Unmarshal(rec, &shape); err != nil {
			return rigid.Transform{}, fmt.Errorf("parse record: %w", err)
		}
		if shape.Translation != nil {
			return decodeTRS(rec)
		}
		var mr matrixRecord
		if err := json.Unmarshal(rec, &mr); err != nil {
			return rigid.Transform{}, fmt.Errorf("parse matrix record: %w", err)
		}
		m, err := mr.rowMajor()
		if err != nil {
			return rigid.Transform{}, err
		}
		return rigid.FromMatrix(m)

	default:
		return rigid.Transform{}, fmt.Errorf("record must be an object or an array")
	}
}

func decodeTRS(rec json.RawMessage) (rigid.Transform, error) {
	var tr trsRecord
	if err := json.Unmarshal(rec, &tr); err != nil {
		return rigid.Transform{}, fmt.Errorf("parse translation/rotation record: %w", err)
	}
	if tr.Translation == nil {
		return rigid.Transform{}, fmt.Errorf("missing translation")
	}
	t := mgl64.Vec3(*tr.Translation)
	if tr.Rotation == nil {
		// Pure translation records are allowed.
		return rigid.FromTranslationRotation(t, mgl64.Ident3())
	}
	q := mgl64.Quat{W: tr.Rotation[3], V: mgl64.Vec3{tr.Rotation[0], tr.Rotation[1], tr.Rotation[2]}}
	return rigid.FromTranslationQuat(t, q)
}

// Marshal encodes transforms as a JSON array in the given format.
func Marshal(ts []rigid.Transform, f Format) ([]byte, error) {
	recs := make([]any, len(ts))
	for i, x := range ts {
		switch f {
		case FormatMatrix, "":
			recs[i] = newMatrixRecord(x.Matrix())
		case FormatRowMajor:
			recs[i] = x.Matrix()
		case FormatTRS:
			q := x.Quat()
			p := x.Position()
			rot := [4]float64{q.V[0], q.V[1], q.V[2], q.W}
			recs[i] = trsRecord{Translation: (*[3]float64)(&p), Rotation: &rot}
		default:
			return nil, fmt.Errorf("unknown output format %q", f)
		}
	}
	return json.Marshal(recs)
}

// Encode writes transforms to w as a JSON array in the given format.
func Encode(w io.Writer, ts []rigid.Transform, f Format) error {
	data, err := Marshal(ts, f)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write transforms: %w", err)
	}
	return nil
}
