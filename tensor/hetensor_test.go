package tensor

import (
	"testing"

	"hegraph/core/ckkswrapper"

	"github.com/stretchr/testify/require"
)

func TestParseElemType(t *testing.T) {
	for name, want := range map[string]ElemType{
		"f32": F32, "float32": F32,
		"f64": F64, "float64": F64,
		"i32": I32, "int32": I32,
		"i64": I64, "int64": I64,
	} {
		got, err := ParseElemType(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseElemType("bf16")
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestPackUnpackShape(t *testing.T) {
	require.Equal(t, []int{3, 4}, PackShape([]int{2, 3, 4}))
	require.Nil(t, PackShape(nil))
	require.Equal(t, []int{2, 3, 4}, UnpackShape([]int{3, 4}, 2))
}

func TestNewHETensorSlotCounts(t *testing.T) {
	unpacked, err := NewHETensor([]int{2, 3}, F64, false, false, 0)
	require.NoError(t, err)
	require.Equal(t, 6, len(unpacked.Slots))
	require.Equal(t, 1, unpacked.BatchSize())

	packed, err := NewHETensor([]int{2, 3}, F64, true, false, 512)
	require.NoError(t, err)
	require.Equal(t, 3, len(packed.Slots))
	require.Equal(t, 2, packed.BatchSize())
}

func TestNewHETensorBatchBounds(t *testing.T) {
	_, err := NewHETensor([]int{100, 3}, F64, true, false, 64)
	require.ErrorIs(t, err, ErrShapeMismatch)

	// Complex packing doubles the capacity.
	_, err = NewHETensor([]int{100, 3}, F64, true, true, 64)
	require.NoError(t, err)

	_, err = NewHETensor(nil, F64, true, false, 64)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestWriteReadValuesRoundTrip(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}
	for _, packed := range []bool{false, true} {
		tt, err := NewHETensor([]int{2, 3}, F64, packed, false, 512)
		require.NoError(t, err)
		require.NoError(t, tt.WriteValues(values))
		got, err := tt.ReadValues()
		require.NoError(t, err)
		require.Equal(t, values, got)
	}
}

func TestWriteValuesSizeCheck(t *testing.T) {
	tt, err := NewHETensor([]int{2, 3}, F64, false, false, 0)
	require.NoError(t, err)
	require.ErrorIs(t, tt.WriteValues([]float64{1, 2}), ErrShapeMismatch)
}

func TestPackedSlotLayout(t *testing.T) {
	// Packed slots hold one batch lane per logical element; slot j gathers
	// values[i*slots+j] across the batch.
	tt, err := NewHETensor([]int{2, 2}, F64, true, false, 512)
	require.NoError(t, err)
	require.NoError(t, tt.WriteValues([]float64{1, 2, 3, 4}))
	require.Equal(t, PlainVector{1, 3}, tt.Slots[0].Plain())
	require.Equal(t, PlainVector{2, 4}, tt.Slots[1].Plain())
}

func TestPackUnpackConversions(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	flat, err := NewHETensor([]int{4, 2}, F64, false, false, 0)
	require.NoError(t, err)
	require.NoError(t, flat.WriteValues(values))

	packed, err := flat.Pack(512)
	require.NoError(t, err)
	require.True(t, packed.Packed())
	require.Equal(t, 2, len(packed.Slots))
	got, err := packed.ReadValues()
	require.NoError(t, err)
	require.Equal(t, values, got)

	back, err := packed.Unpack()
	require.NoError(t, err)
	require.False(t, back.Packed())
	require.Equal(t, 8, len(back.Slots))
	got, err = back.ReadValues()
	require.NoError(t, err)
	require.Equal(t, values, got)
}

func TestHETypeTagEnforcement(t *testing.T) {
	p := NewPlain(PlainVector{1, 2}, false)
	require.True(t, p.IsPlain())
	require.Panics(t, func() { p.Cipher() })

	c := NewCipher(nil, false)
	require.True(t, c.IsCipher())
	require.Panics(t, func() { c.Plain() })
}

func TestCheckPacking(t *testing.T) {
	a := NewPlain(PlainVector{1}, false)
	b := NewPlain(PlainVector{2}, true)
	require.ErrorIs(t, CheckPacking(a, b), ErrTypeTagMismatch)
	require.NoError(t, CheckPacking(a, a))
}

func TestPlainVectorIdentity(t *testing.T) {
	require.True(t, PlainVector{}.IsAdditiveIdentity())
	require.True(t, PlainVector{0}.IsAdditiveIdentity())
	require.False(t, PlainVector{0, 0}.IsAdditiveIdentity())
	require.False(t, PlainVector{1}.IsAdditiveIdentity())
}

func TestCloneIndependence(t *testing.T) {
	orig := NewPlain(PlainVector{1, 2}, false)
	cp := orig.Clone()
	cp.Plain()[0] = 99
	require.Equal(t, 1.0, orig.Plain()[0])
}

func TestWireRoundTripWithOffsets(t *testing.T) {
	h, err := ckkswrapper.NewHeContext(ckkswrapper.DefaultParameters())
	require.NoError(t, err)

	values := []float64{1.5, -2, 3.25, 4}
	src, err := NewHETensor([]int{4}, F64, false, false, 0)
	require.NoError(t, err)
	require.NoError(t, src.WriteValues(values))

	dst, err := NewHETensor([]int{4}, F64, false, false, 0)
	require.NoError(t, err)

	// Two chunks exercise the offset path.
	for _, chunk := range []struct{ offset, count int }{{0, 2}, {2, 2}} {
		w, err := src.ToWire("x", chunk.offset, chunk.count, h)
		require.NoError(t, err)
		require.Equal(t, uint64(chunk.offset), w.Offset)
		require.Equal(t, chunk.count, len(w.Data))
		require.NoError(t, dst.FromWire(w))
	}

	require.True(t, dst.AnyEncrypted())
	for i, s := range dst.Slots {
		got, err := h.DecryptValues(s.Cipher(), 1)
		require.NoError(t, err)
		require.InDelta(t, values[i], got[0], 1e-3, "slot %d", i)
	}
}

func TestWireWindowBounds(t *testing.T) {
	h, err := ckkswrapper.NewHeContext(ckkswrapper.DefaultParameters())
	require.NoError(t, err)

	tt, err := NewHETensor([]int{2}, F64, false, false, 0)
	require.NoError(t, err)
	require.NoError(t, tt.WriteValues([]float64{1, 2}))

	_, err = tt.ToWire("x", 1, 2, h)
	require.ErrorIs(t, err, ErrShapeMismatch)

	w, err := tt.ToWire("x", 0, 2, h)
	require.NoError(t, err)
	w.Offset = 1
	require.ErrorIs(t, tt.FromWire(w), ErrShapeMismatch)
}

func TestWireShape(t *testing.T) {
	require.Equal(t, []int{2, 3}, WireShape([]uint64{2, 3}))
}
