// Package maginput holds the magnetic-field-model driver parameters (Kp, Dst,
// solar wind, IMF, ...) and serializes them into the fixed 25-slot layout the
// native routines read. Parameters that are not set are written as the
// reserved value Missing.
package maginput

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Len is the number of slots per time step in the native layout.
const Len = 25

// Missing is written into slots whose parameter was not provided.
const Missing = -9999.0

// ErrUnknownParam is returned for parameter names outside the native layout.
var ErrUnknownParam = errors.New("unknown maginput parameter")

// ErrLengthMismatch is returned when a parameter series does not match the
// number of time steps.
var ErrLengthMismatch = errors.New("maginput series length mismatch")

// ErrDuplicateParam is returned when two keys name the same parameter,
// e.g. "Kp" and "kp".
var ErrDuplicateParam = errors.New("duplicate maginput parameter")

// Param is a slot index in the native layout.
type Param int

const (
	Kp    Param = iota // Kp index * 10 (e.g. 3+ = 33)
	Dst                // Dst index (nT)
	Dens               // solar wind density (cm-3)
	Velo               // solar wind velocity (km/s)
	Pdyn               // solar wind dynamic pressure (nPa)
	ByIMF              // GSM By of the IMF (nT)
	BzIMF              // GSM Bz of the IMF (nT)
	G1                 // Tsyganenko G1
	G2                 // Tsyganenko G2
	G3                 // Tsyganenko G3
	W1                 // TS05 W1
	W2                 // TS05 W2
	W3                 // TS05 W3
	W4                 // TS05 W4
	W5                 // TS05 W5
	W6                 // TS05 W6
	AL                 // auroral index AL (nT)

	numParams
)

var paramNames = [numParams]string{
	"Kp", "Dst", "dens", "velo", "Pdyn", "ByIMF", "BzIMF",
	"G1", "G2", "G3", "W1", "W2", "W3", "W4", "W5", "W6", "AL",
}

// String returns the parameter's key name.
func (p Param) String() string {
	if p < 0 || p >= numParams {
		return fmt.Sprintf("Param(%d)", int(p))
	}
	return paramNames[p]
}

// ParseParam looks a parameter up by key name. Matching is case-insensitive.
func ParseParam(name string) (Param, error) {
	for i, n := range paramNames {
		if strings.EqualFold(n, name) {
			return Param(i), nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownParam, name)
}

// Names returns every parameter key in slot order.
func Names() []string {
	out := make([]string, numParams)
	copy(out, paramNames[:])
	return out
}

// Input is the set of driver parameters for one time step. The zero value
// has no parameter set (static model).
type Input struct {
	set    uint32
	values [numParams]float64
}

// Set stores a parameter value and returns the updated Input.
func (in Input) Set(p Param, v float64) Input {
	in.set |= 1 << uint(p)
	in.values[p] = v
	return in
}

// Get returns the parameter value and whether it was provided.
func (in Input) Get(p Param) (float64, bool) {
	if in.set&(1<<uint(p)) == 0 {
		return 0, false
	}
	return in.values[p], true
}

// FromMap builds an Input from a key/value mapping such as {"Kp": 40}.
// Unknown keys and non-finite values are rejected.
func FromMap(m map[string]float64) (Input, error) {
	var in Input
	for _, k := range sortedKeys(m) {
		p, err := ParseParam(k)
		if err != nil {
			return Input{}, err
		}
		if _, dup := in.Get(p); dup {
			return Input{}, fmt.Errorf("%w: %s given more than once (key %q)", ErrDuplicateParam, p, k)
		}
		v := m[k]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Input{}, fmt.Errorf("maginput %s: value %v is not finite", p, v)
		}
		in = in.Set(p, v)
	}
	return in, nil
}

// Map returns the provided parameters keyed by name.
func (in Input) Map() map[string]float64 {
	m := make(map[string]float64)
	for p := Param(0); p < numParams; p++ {
		if v, ok := in.Get(p); ok {
			m[p.String()] = v
		}
	}
	return m
}

// Pack writes the native 25-slot layout.
func (in Input) Pack() [Len]float64 {
	var out [Len]float64
	for i := range out {
		out[i] = Missing
	}
	for p := Param(0); p < numParams; p++ {
		if v, ok := in.Get(p); ok {
			out[p] = v
		}
	}
	return out
}

// PackSeries writes one 25-slot block per time step, step-major
// (maginput(25, ntime) in FORTRAN order). A single Input is broadcast to
// every step; otherwise len(inputs) must equal n.
func PackSeries(inputs []Input, n int) ([]float64, error) {
	switch {
	case n <= 0:
		return nil, fmt.Errorf("%w: %d time steps", ErrLengthMismatch, n)
	case len(inputs) == 0:
		inputs = []Input{{}}
		fallthrough
	case len(inputs) == 1:
		block := inputs[0].Pack()
		out := make([]float64, 0, n*Len)
		for i := 0; i < n; i++ {
			out = append(out, block[:]...)
		}
		return out, nil
	case len(inputs) != n:
		return nil, fmt.Errorf("%w: %d inputs for %d time steps", ErrLengthMismatch, len(inputs), n)
	}

	out := make([]float64, 0, n*Len)
	for _, in := range inputs {
		block := in.Pack()
		out = append(out, block[:]...)
	}
	return out, nil
}

// FromSeries builds one Input per time step from per-key series such as
// {"Kp": [40, 40, 30]}. All series must share the same length.
func FromSeries(m map[string][]float64) ([]Input, error) {
	if len(m) == 0 {
		return nil, nil
	}
	n := -1
	for _, k := range sortedKeys(m) {
		if n == -1 {
			n = len(m[k])
		} else if len(m[k]) != n {
			return nil, fmt.Errorf("%w: key %s has %d values, expected %d", ErrLengthMismatch, k, len(m[k]), n)
		}
	}

	inputs := make([]Input, n)
	seen := make(map[Param]bool, len(m))
	for _, k := range sortedKeys(m) {
		p, err := ParseParam(k)
		if err != nil {
			return nil, err
		}
		if seen[p] {
			return nil, fmt.Errorf("%w: %s given more than once (key %q)", ErrDuplicateParam, p, k)
		}
		seen[p] = true
		for i, v := range m[k] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("maginput %s[%d]: value %v is not finite", p, i, v)
			}
			inputs[i] = inputs[i].Set(p, v)
		}
	}
	return inputs, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
