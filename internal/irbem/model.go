package irbem

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PRBEM/IRBEM/internal/spacetime"
)

// Kext selects the external magnetic field model.
type Kext int32

const (
	KextNone Kext = iota
	KextMF75
	KextTS87
	KextTL87
	KextT89
	KextOPQ77
	KextOPD88
	KextT96
	KextOM97
	KextT01
	KextT01S
	KextT04
	KextA00
	KextT07
	KextMT
)

var kextNames = [...]string{
	"None", "MF75", "TS87", "TL87", "T89", "OPQ77", "OPD88", "T96",
	"OM97", "T01", "T01S", "T04", "A00", "T07", "MT",
}

// String returns the model's short name.
func (k Kext) String() string {
	if !k.Valid() {
		return "Kext(" + strconv.Itoa(int(k)) + ")"
	}
	return kextNames[k]
}

// Valid reports whether k names a known model.
func (k Kext) Valid() bool {
	return k >= KextNone && k <= KextMT
}

// ParseKext accepts a case-insensitive model name ("T89", "opq77") or its
// integer id.
func ParseKext(s string) (Kext, error) {
	s = strings.TrimSpace(s)
	for i, name := range kextNames {
		if strings.EqualFold(s, name) {
			return Kext(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Kext(n).Valid() {
		return Kext(n), nil
	}
	return 0, fmt.Errorf("%w: unknown external model %q, valid models are %s",
		ErrInvalidInput, s, strings.Join(kextNames[:], ", "))
}

// KextNames lists every external model name in id order.
func KextNames() []string {
	out := make([]string, len(kextNames))
	copy(out, kextNames[:])
	return out
}

// Options is the five-element control array passed to every model routine
// (internal field selection, L* accuracy, ...).
type Options [5]int32

// ParseOptions reads a comma separated list of five integers.
func ParseOptions(s string) (Options, error) {
	var o Options
	parts := strings.Split(s, ",")
	if len(parts) != len(o) {
		return o, fmt.Errorf("%w: options need %d values, got %d", ErrInvalidInput, len(o), len(parts))
	}
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return Options{}, fmt.Errorf("%w: option %d: %v", ErrInvalidInput, i, err)
		}
		o[i] = int32(n)
	}
	return o, nil
}

// Model is the field configuration shared by every call on a client.
type Model struct {
	Kext    Kext
	Options Options
	Sysaxes spacetime.CoordSystem
}

// DefaultModel returns OPQ77 with all options zero and GDZ input coordinates.
func DefaultModel() Model {
	return Model{Kext: KextOPQ77, Sysaxes: spacetime.GDZ}
}

// Validate checks the model ids are in range.
func (m Model) Validate() error {
	if !m.Kext.Valid() {
		return fmt.Errorf("%w: external model %d", ErrInvalidInput, m.Kext)
	}
	if !m.Sysaxes.Valid() {
		return fmt.Errorf("%w: coordinate system %d", ErrInvalidInput, m.Sysaxes)
	}
	return nil
}

func (m Model) args() ModelArgs {
	return ModelArgs{Kext: int32(m.Kext), Options: m.Options, Sysaxes: int32(m.Sysaxes)}
}
