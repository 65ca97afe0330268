package transformio

import (
	"bytes"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pointmatch/internal/rigid"
)

// unityRotZ90 is a matrix record as the reference exporter writes it, with
// the extra derived properties a Matrix4x4 serialiser adds.
const unityRotZ90 = `{
	"m00": 0, "m10": 1, "m20": 0, "m30": 0,
	"m01": -1, "m11": 0, "m21": 0, "m31": 0,
	"m02": 0, "m12": 0, "m22": 1, "m32": 0,
	"m03": 1, "m13": 2, "m23": 3, "m33": 1,
	"rotation": {"x": 0, "y": 0, "z": 0.7071068, "w": 0.7071068},
	"isIdentity": false
}`

var rowMajorRotZ90 = [16]float64{
	0, -1, 0, 1,
	1, 0, 0, 2,
	0, 0, 1, 3,
	0, 0, 0, 1,
}

func TestUnmarshal_Formats(t *testing.T) {
	input := `[
		` + unityRotZ90 + `,
		[0,-1,0,1, 1,0,0,2, 0,0,1,3, 0,0,0,1],
		{"translation": [1, 2, 3], "rotation": [0, 0, 0.7071067811865476, 0.7071067811865476]},
		{"translation": [4, 5, 6]}
	]`

	ts, err := Unmarshal([]byte(input))
	require.NoError(t, err)
	require.Len(t, ts, 4)

	want, err := rigid.FromMatrix(rowMajorRotZ90)
	require.NoError(t, err)
	assert.Equal(t, rowMajorRotZ90, ts[0].Matrix())
	assert.Equal(t, rowMajorRotZ90, ts[1].Matrix())
	assert.True(t, ts[2].ApproxEqual(want, 1e-12), "trs record = %v", ts[2])
	assert.True(t, ts[3].ApproxEqual(rigid.FromTranslation(4, 5, 6), 0))
}

func TestUnmarshal_Errors(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantIndex int
		degen     bool
	}{
		{"missing key", `[[1,0,0,0,0,1,0,0,0,0,1,0,0,0,0,1], {"m00": 1}]`, 1, false},
		{"short array", `[[1,0,0]]`, 0, false},
		{"string record", `["identity"]`, 0, false},
		{"null record", `[null]`, 0, false},
		{"scaled matrix", `[[2,0,0,0,0,2,0,0,0,0,2,0,0,0,0,1]]`, 0, true},
		{"non-unit quaternion", `[{"translation":[0,0,0]}, {"translation":[0,0,0],"rotation":[0,0,0,2]}]`, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.input))
			var re *RecordError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.wantIndex, re.Index)

			var de *rigid.DegenerateTransformError
			assert.Equal(t, tt.degen, errors.As(err, &de))
		})
	}

	_, err := Unmarshal([]byte(`{"m00": 1}`))
	assert.Error(t, err, "top level must be an array")
	var re *RecordError
	assert.False(t, errors.As(err, &re))
}

func TestMarshal_MatrixKeyOrder(t *testing.T) {
	data, err := Marshal([]rigid.Transform{rigid.Identity()}, FormatMatrix)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `[{"m00":1,"m10":0,"m20":0,"m30":0,"m01":0`), string(data))
	assert.True(t, strings.HasSuffix(string(data), `"m33":1}]`), string(data))
}

func TestMarshal_EmptyList(t *testing.T) {
	for _, f := range []Format{FormatMatrix, FormatRowMajor, FormatTRS} {
		data, err := Marshal(nil, f)
		require.NoError(t, err)
		assert.Equal(t, "[]", string(data))
	}
	_, err := Marshal([]rigid.Transform{rigid.Identity()}, Format("yaml"))
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 8))
	ts := make([]rigid.Transform, 50)
	for i := range ts {
		q := mgl64.Quat{W: rng.NormFloat64(), V: mgl64.Vec3{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}}.Normalize()
		p := mgl64.Vec3{rng.Float64() * 1e3, -rng.Float64() * math.Pi, rng.Float64() * 1e-3}
		var err error
		ts[i], err = rigid.FromTranslationQuat(p, q)
		require.NoError(t, err)
	}

	for _, f := range []Format{FormatMatrix, FormatRowMajor, FormatTRS} {
		t.Run(string(f), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, ts, f))
			back, err := Decode(&buf)
			require.NoError(t, err)
			require.Len(t, back, len(ts))

			for i := range ts {
				if f == FormatTRS {
					// Quaternion extraction is not bit-exact.
					assert.True(t, back[i].ApproxEqual(ts[i], 1e-12), "record %d", i)
					assert.Equal(t, ts[i].Position(), back[i].Position(), "translation must survive exactly")
				} else {
					assert.Equal(t, ts[i].Matrix(), back[i].Matrix(), "record %d", i)
				}
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatMatrix, f)

	f, err = ParseFormat("trs")
	require.NoError(t, err)
	assert.Equal(t, FormatTRS, f)

	_, err = ParseFormat("csv")
	assert.Error(t, err)
}
