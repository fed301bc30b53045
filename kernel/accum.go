package kernel

import (
	"hegraph/core/ckkswrapper"
	"hegraph/tensor"
)

// slotAccum folds slots into a running sum, keeping the plaintext part
// separate so ciphertext additions are only paid when an encrypted term
// arrives. Under LazyMod, ciphertext terms at the running sum's level and
// scale skip the per-add modular reduction.
type slotAccum struct {
	e              *Env
	batch          int
	complexPacking bool

	plain  tensor.PlainVector
	cipher tensor.HEType
	terms  int

	lazy       *ckkswrapper.LazyAccumulator
	lazyLevel  int
	lazyDegree int
	lazyScale  float64
}

func newSlotAccum(e *Env, batch int, complexPacking bool) *slotAccum {
	return &slotAccum{e: e, batch: batch, complexPacking: complexPacking}
}

func (a *slotAccum) add(s tensor.HEType) error {
	a.terms++
	if s.IsPlain() {
		if s.Plain().IsAdditiveIdentity() {
			return nil
		}
		if a.plain == nil {
			a.plain = s.Plain().Clone()
			return nil
		}
		a.plain = combinePlain(a.plain, s.Plain(), func(x, y float64) float64 { return x + y })
		return nil
	}

	if a.lazy != nil {
		if ct := s.Cipher(); ct.Level() == a.lazyLevel && ct.Degree() == a.lazyDegree &&
			ct.Scale.Float64() == a.lazyScale {
			return a.lazy.Add(ct)
		}
		a.cipher = tensor.NewCipher(a.lazy.Finish(), a.complexPacking)
		a.lazy = nil
	}
	if !a.cipher.IsCipher() {
		ct := s.Cipher().CopyNew()
		if a.e.LazyMod {
			a.lazy = a.e.H.NewLazyAccumulator(ct)
			a.lazyLevel = ct.Level()
			a.lazyDegree = ct.Degree()
			a.lazyScale = ct.Scale.Float64()
			return nil
		}
		a.cipher = tensor.NewCipher(ct, a.complexPacking)
		return nil
	}
	out, err := addSlot(a.e, a.cipher, s, a.batch)
	if err != nil {
		return err
	}
	a.cipher = out
	return nil
}

// finish collapses the accumulated parts into one slot, rescaling once if
// the ciphertext sum carries a grown multiply scale.
func (a *slotAccum) finish() (tensor.HEType, error) {
	if a.lazy != nil {
		a.cipher = tensor.NewCipher(a.lazy.Finish(), a.complexPacking)
		a.lazy = nil
	}
	if !a.cipher.IsCipher() {
		if a.plain == nil {
			return tensor.NewPlain(tensor.PlainVector{0}, a.complexPacking), nil
		}
		return tensor.NewPlain(a.plain, a.complexPacking), nil
	}
	ct := a.cipher.Cipher()
	if needsRescale(ct, a.e) {
		if err := a.e.Eval.Rescale(ct); err != nil {
			return tensor.HEType{}, err
		}
	}
	if a.plain != nil && !a.plain.IsAdditiveIdentity() {
		return a.e.cipherPlainAdd(ct, a.plain, a.batch, false, a.complexPacking)
	}
	return a.cipher, nil
}
