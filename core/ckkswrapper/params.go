package ckkswrapper

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"hegraph/utils"

	"github.com/tuneinsight/lattigo/v5/he/hefloat"
)

// SchemeName is the only scheme tag accepted in parameter JSON.
const SchemeName = "HE_SEAL"

// maxCoeffModulusBits follows the homomorphic encryption standard's bound
// on the total coefficient-modulus bit count per degree and security level.
var maxCoeffModulusBits = map[uint64]map[int]int{
	1024:  {128: 27, 192: 19, 256: 14},
	2048:  {128: 54, 192: 37, 256: 29},
	4096:  {128: 109, 192: 75, 256: 58},
	8192:  {128: 218, 192: 152, 256: 118},
	16384: {128: 438, 192: 305, 256: 237},
	32768: {128: 881, 192: 611, 256: 476},
}

// SupportedDegrees lists the polynomial degrees the standard's table
// covers, smallest first.
func SupportedDegrees() []uint64 {
	return []uint64{1024, 2048, 4096, 8192, 16384, 32768}
}

// ModulusBudget returns the total coefficient-modulus bit budget for a
// degree and security level. ok is false when the table does not cover
// the pair. A zero security level carries no bound.
func ModulusBudget(degree uint64, security int) (int, bool) {
	bounds, ok := maxCoeffModulusBits[degree]
	if !ok {
		return 0, false
	}
	if security == 0 {
		return math.MaxInt, true
	}
	b, ok := bounds[security]
	return b, ok
}

// EncryptionParameters describes a CKKS context. Immutable once a context
// has been created from it.
type EncryptionParameters struct {
	SchemeName        string  `json:"scheme_name"`
	PolyModulusDegree uint64  `json:"poly_modulus_degree"`
	SecurityLevel     int     `json:"security_level"`
	CoeffModulusBits  []int   `json:"coeff_modulus"`
	Scale             float64 `json:"scale,omitempty"`
	ComplexPacking    bool    `json:"complex_packing,omitempty"`
}

// DefaultParameters returns the backend defaults: degree 1024, five 30-bit
// moduli, no enforced security level, scale 2^30, real packing.
func DefaultParameters() EncryptionParameters {
	return EncryptionParameters{
		SchemeName:        SchemeName,
		PolyModulusDegree: 1024,
		SecurityLevel:     0,
		CoeffModulusBits:  []int{30, 30, 30, 30, 30},
		Scale:             float64(uint64(1) << 30),
		ComplexPacking:    false,
	}
}

// ParseParameters reads encryption parameters from a JSON string or from a
// file path holding JSON. An empty argument yields the defaults.
func ParseParameters(jsonOrPath string) (EncryptionParameters, error) {
	if jsonOrPath == "" {
		return DefaultParameters(), nil
	}
	raw := []byte(jsonOrPath)
	if !json.Valid(raw) {
		data, err := os.ReadFile(jsonOrPath)
		if err != nil {
			return EncryptionParameters{}, fmt.Errorf("%w: not valid JSON nor a readable file: %v", ErrInvalidParameters, err)
		}
		raw = data
	}
	params := EncryptionParameters{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return EncryptionParameters{}, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	if err := params.validateFields(); err != nil {
		return EncryptionParameters{}, err
	}
	return params, nil
}

func (p *EncryptionParameters) validateFields() error {
	if p.SchemeName != SchemeName {
		return fmt.Errorf("%w: scheme_name %q, want %q", ErrInvalidParameters, p.SchemeName, SchemeName)
	}
	bounds, ok := maxCoeffModulusBits[p.PolyModulusDegree]
	if !ok {
		return fmt.Errorf("%w: poly_modulus_degree %d not in {1024,...,32768}", ErrInvalidParameters, p.PolyModulusDegree)
	}
	switch p.SecurityLevel {
	case 0:
	case 128, 192, 256:
		total := 0
		for _, bits := range p.CoeffModulusBits {
			total += bits
		}
		if total > bounds[p.SecurityLevel] {
			return fmt.Errorf("%w: coeff modulus total %d bits exceeds %d-bit security bound %d for degree %d",
				ErrInvalidParameters, total, p.SecurityLevel, bounds[p.SecurityLevel], p.PolyModulusDegree)
		}
	default:
		return fmt.Errorf("%w: security_level %d not in {0,128,192,256}", ErrInvalidParameters, p.SecurityLevel)
	}
	if len(p.CoeffModulusBits) == 0 {
		return fmt.Errorf("%w: empty coeff_modulus", ErrInvalidParameters)
	}
	for _, bits := range p.CoeffModulusBits {
		if bits < 2 || bits > 60 {
			return fmt.Errorf("%w: coeff modulus bit size %d outside [2,60]", ErrInvalidParameters, bits)
		}
	}
	return nil
}

// literal maps the parameters onto the lattice library's literal form. The
// last coefficient modulus becomes the key-switching prime when more than
// one modulus is present.
func (p *EncryptionParameters) literal() hefloat.ParametersLiteral {
	logN := 0
	for d := p.PolyModulusDegree; d > 1; d >>= 1 {
		logN++
	}
	bits := p.CoeffModulusBits
	logQ := bits
	var logP []int
	if len(bits) >= 2 {
		logQ = bits[:len(bits)-1]
		logP = bits[len(bits)-1:]
	}
	logScale := bits[len(logQ)-1]
	if p.Scale > 1 {
		logScale = int(math.Round(math.Log2(p.Scale)))
	}
	return hefloat.ParametersLiteral{
		LogN:            logN,
		LogQ:            logQ,
		LogP:            logP,
		LogDefaultScale: logScale,
	}
}

// chooseScale derives the default encoding scale from the realized modulus
// chain: with three or more moduli, the second-to-last prime; with two, the
// last prime over 4096; with one, sqrt(q0/256).
func chooseScale(moduli []uint64) float64 {
	switch n := len(moduli); {
	case n >= 3:
		return float64(moduli[n-2])
	case n == 2:
		return float64(moduli[n-1]) / 4096.0
	default:
		return math.Sqrt(float64(moduli[0]) / 256.0)
	}
}

// Print logs the parameter box the way the backend announces it at setup.
func (p *EncryptionParameters) Print() {
	utils.Logf(0, "/ Encryption parameters:")
	utils.Logf(0, "| scheme: %s", p.SchemeName)
	utils.Logf(0, "| poly_modulus_degree: %d", p.PolyModulusDegree)
	utils.Logf(0, "| coeff_modulus bits: %v", p.CoeffModulusBits)
	utils.Logf(0, "| security_level: %d", p.SecurityLevel)
	utils.Logf(0, "| scale: 2^%.1f", math.Log2(p.Scale))
	utils.Logf(0, "\\ complex_packing: %t", p.ComplexPacking)
}
