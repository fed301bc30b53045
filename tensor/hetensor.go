package tensor

import (
	"fmt"

	"hegraph/core/ckkswrapper"
)

// ElemType enumerates the element types the backend accepts.
type ElemType uint8

const (
	F32 ElemType = iota
	F64
	I32
	I64
)

// ParseElemType maps a type name onto the closed element-type set.
func ParseElemType(name string) (ElemType, error) {
	switch name {
	case "f32", "float32":
		return F32, nil
	case "f64", "float64":
		return F64, nil
	case "i32", "int32":
		return I32, nil
	case "i64", "int64":
		return I64, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedType, name)
}

// String returns the canonical type name.
func (t ElemType) String() string {
	switch t {
	case F32:
		return "f32"
	case F64:
		return "f64"
	case I32:
		return "i32"
	case I64:
		return "i64"
	}
	return fmt.Sprintf("ElemType(%d)", uint8(t))
}

// ShapeSize returns the number of elements a shape spans.
func ShapeSize(shape []int) int {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return size
}

// PackShape drops the batch axis from a shape.
func PackShape(shape []int) []int {
	if len(shape) == 0 {
		return nil
	}
	return append([]int(nil), shape[1:]...)
}

// UnpackShape prepends the batch axis to a packed shape.
func UnpackShape(shape []int, batchSize int) []int {
	return append([]int{batchSize}, shape...)
}

// HETensor arranges HEType slots over a logical shape. When packed, the
// batch axis (shape[0]) is folded into the slot vectors, so the tensor
// holds shapeSize/batchSize slots each carrying batchSize values.
type HETensor struct {
	shape          []int
	etype          ElemType
	packed         bool
	batchSize      int
	complexPacking bool
	Slots          []HEType
}

// NewHETensor allocates a tensor of empty plaintext slots. slotCapacity is
// the CKKS slot count; under complex packing the batch may be twice that.
func NewHETensor(shape []int, etype ElemType, packed, complexPacking bool, slotCapacity int) (*HETensor, error) {
	batchSize := 1
	if packed {
		if len(shape) == 0 {
			return nil, fmt.Errorf("%w: packed tensor needs a batch axis", ErrShapeMismatch)
		}
		batchSize = shape[0]
		capacity := slotCapacity
		if complexPacking {
			capacity *= 2
		}
		if batchSize > capacity {
			return nil, fmt.Errorf("%w: batch size %d exceeds slot capacity %d", ErrShapeMismatch, batchSize, capacity)
		}
	}
	size := ShapeSize(shape)
	if batchSize == 0 || size%batchSize != 0 {
		return nil, fmt.Errorf("%w: shape %v not divisible by batch size %d", ErrShapeMismatch, shape, batchSize)
	}
	t := &HETensor{
		shape:          append([]int(nil), shape...),
		etype:          etype,
		packed:         packed,
		batchSize:      batchSize,
		complexPacking: complexPacking,
		Slots:          make([]HEType, size/batchSize),
	}
	for i := range t.Slots {
		t.Slots[i] = NewPlain(nil, complexPacking)
	}
	return t, nil
}

// Shape returns the logical shape.
func (t *HETensor) Shape() []int { return t.shape }

// ElemType returns the element type.
func (t *HETensor) ElemType() ElemType { return t.etype }

// Packed reports whether the batch axis is folded into the slots.
func (t *HETensor) Packed() bool { return t.packed }

// BatchSize returns the folded batch size (1 when unpacked).
func (t *HETensor) BatchSize() int { return t.batchSize }

// BatchedElementCount returns the number of slots.
func (t *HETensor) BatchedElementCount() int { return len(t.Slots) }

// ComplexPacking returns the tensor-wide complex-packing bit.
func (t *HETensor) ComplexPacking() bool { return t.complexPacking }

// AnyEncrypted reports whether any slot holds a ciphertext. Encryption
// state is a per-slot observation, never cached.
func (t *HETensor) AnyEncrypted() bool {
	for _, s := range t.Slots {
		if s.IsCipher() {
			return true
		}
	}
	return false
}

// WriteValues fills the tensor's slots from a flat row-major value slice
// of the logical shape.
func (t *HETensor) WriteValues(values []float64) error {
	if len(values) != ShapeSize(t.shape) {
		return fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(values), t.shape)
	}
	n := len(t.Slots)
	for j := range t.Slots {
		batch := make(PlainVector, t.batchSize)
		for i := 0; i < t.batchSize; i++ {
			batch[i] = values[i*n+j]
		}
		t.Slots[j] = NewPlain(batch, t.complexPacking)
	}
	return nil
}

// ReadValues flattens the tensor back into row-major values. All slots
// must be plaintext.
func (t *HETensor) ReadValues() ([]float64, error) {
	values := make([]float64, ShapeSize(t.shape))
	n := len(t.Slots)
	for j, s := range t.Slots {
		if s.IsCipher() {
			return nil, fmt.Errorf("ReadValues: slot %d is a ciphertext", j)
		}
		batch := s.Plain()
		for i := 0; i < t.batchSize; i++ {
			v := 0.0
			if len(batch) == 1 {
				v = batch[0]
			} else if i < len(batch) {
				v = batch[i]
			}
			values[i*n+j] = v
		}
	}
	return values, nil
}

// Pack folds the batch axis of an all-plaintext unpacked tensor into its
// slot vectors.
func (t *HETensor) Pack(slotCapacity int) (*HETensor, error) {
	if t.packed {
		return t, nil
	}
	if t.AnyEncrypted() {
		return nil, fmt.Errorf("pack: tensor has encrypted slots")
	}
	values, err := t.ReadValues()
	if err != nil {
		return nil, err
	}
	out, err := NewHETensor(t.shape, t.etype, true, t.complexPacking, slotCapacity)
	if err != nil {
		return nil, err
	}
	if err := out.WriteValues(values); err != nil {
		return nil, err
	}
	return out, nil
}

// Unpack expands a packed all-plaintext tensor back to one value per slot.
func (t *HETensor) Unpack() (*HETensor, error) {
	if !t.packed {
		return t, nil
	}
	if t.AnyEncrypted() {
		return nil, fmt.Errorf("unpack: tensor has encrypted slots")
	}
	values, err := t.ReadValues()
	if err != nil {
		return nil, err
	}
	out, err := NewHETensor(t.shape, t.etype, false, t.complexPacking, 0)
	if err != nil {
		return nil, err
	}
	if err := out.WriteValues(values); err != nil {
		return nil, err
	}
	return out, nil
}

// WireTensor is the serialized tensor form shipped over the session:
// name, shape, packed flag, slot offset for chunked sends, and one
// serialized ciphertext per slot.
type WireTensor struct {
	Name   string
	Shape  []uint64
	Packed bool
	Offset uint64
	Data   [][]byte
}

// ToWire serializes count slots starting at offset. Plaintext slots are
// encrypted first so the wire always carries ciphertexts.
func (t *HETensor) ToWire(name string, offset, count int, h *ckkswrapper.HeContext) (WireTensor, error) {
	if offset < 0 || offset+count > len(t.Slots) {
		return WireTensor{}, fmt.Errorf("%w: wire window [%d,%d) of %d slots", ErrShapeMismatch, offset, offset+count, len(t.Slots))
	}
	w := WireTensor{
		Name:   name,
		Packed: t.packed,
		Offset: uint64(offset),
		Data:   make([][]byte, count),
	}
	for _, d := range t.shape {
		w.Shape = append(w.Shape, uint64(d))
	}
	for i := 0; i < count; i++ {
		s := t.Slots[offset+i]
		var ct = s.cipher
		if s.IsPlain() {
			var err error
			ct, err = h.EncryptValues(s.Plain())
			if err != nil {
				return WireTensor{}, err
			}
		}
		data, err := ckkswrapper.SaveCiphertext(ct)
		if err != nil {
			return WireTensor{}, err
		}
		w.Data[i] = data
	}
	return w, nil
}

// FromWire deserializes wire data into the tensor's slots starting at the
// wire offset. Response slots align positionally with the request window.
func (t *HETensor) FromWire(w WireTensor) error {
	offset := int(w.Offset)
	if offset+len(w.Data) > len(t.Slots) {
		return fmt.Errorf("%w: wire window [%d,%d) of %d slots", ErrShapeMismatch, offset, offset+len(w.Data), len(t.Slots))
	}
	for i, data := range w.Data {
		ct, err := ckkswrapper.LoadCiphertext(data)
		if err != nil {
			return err
		}
		t.Slots[offset+i] = NewCipher(ct, t.complexPacking)
	}
	return nil
}

// WireShape converts a wire shape back to ints.
func WireShape(shape []uint64) []int {
	out := make([]int, len(shape))
	for i, d := range shape {
		out[i] = int(d)
	}
	return out
}
