package irbem

import "github.com/PRBEM/IRBEM/internal/maginput"

// Fixed output sizes of the native routines.
const (
	MaxTracePoints   = 3000 // trace_field_line2_1 posit(3, 3000)
	DriftShellLines  = 48   // drift_shell1 field lines
	DriftShellPoints = 1000 // drift_shell1 points per line
)

// Reserved output values. Missing is what this layer pre-fills output
// buffers with; values at or below BadData are the library's own fill.
const (
	Missing = -9999.0
	BadData = -1e30
)

// OpenLineCount is the trace point count reported for open field lines.
const OpenLineCount = -9999

// ModelArgs are the leading kext/options/sysaxes arguments shared by the
// model routines.
type ModelArgs struct {
	Kext    int32
	Options Options
	Sysaxes int32
}

// TimeLoc is a single time and location in the model's input system.
type TimeLoc struct {
	IYear int32
	IDoy  int32
	UT    float64
	X     [3]float64
}

// LstarCall is the argument frame of make_lstar1. Input slices have length
// NTime, MagInput has maginput.Len*NTime values. Output slices are
// allocated by the caller with length NTime.
type LstarCall struct {
	Model    ModelArgs
	NTime    int32
	IYear    []int32
	IDoy     []int32
	UT       []float64
	X1       []float64
	X2       []float64
	X3       []float64
	MagInput []float64

	Lm     []float64
	Lstar  []float64
	Blocal []float64
	Bmin   []float64
	XJ     []float64
	MLT    []float64
}

// TraceCall is the argument frame of trace_field_line2_1. Positions are GEO.
type TraceCall struct {
	Model    ModelArgs
	Loc      TimeLoc
	MagInput [maginput.Len]float64
	R0       float64

	Lm     float64
	Blocal [MaxTracePoints]float64
	Bmin   float64
	XJ     float64
	Posit  [MaxTracePoints][3]float64
	NPosit int32
}

// MirrorCall is the argument frame of find_mirror_point1. Alpha is the local
// pitch angle in degrees; Posit is GEO.
type MirrorCall struct {
	Model    ModelArgs
	Loc      TimeLoc
	Alpha    float64
	MagInput [maginput.Len]float64

	Blocal float64
	Bmin   float64
	Posit  [3]float64
}

// FootCall is the argument frame of find_foot_point1. StopAlt is in km.
type FootCall struct {
	Model    ModelArgs
	Loc      TimeLoc
	StopAlt  float64
	Hemi     int32
	MagInput [maginput.Len]float64

	XFoot    [3]float64
	BFoot    [3]float64
	BFootMag [3]float64
}

// MagEquatorCall is the argument frame of find_magequator1.
type MagEquatorCall struct {
	Model    ModelArgs
	Loc      TimeLoc
	MagInput [maginput.Len]float64

	Bmin float64
	XGEO [3]float64
}

// FieldMultiCall is the argument frame of get_field_multi. Output slices
// have length NTime.
type FieldMultiCall struct {
	Model    ModelArgs
	NTime    int32
	IYear    []int32
	IDoy     []int32
	UT       []float64
	X1       []float64
	X2       []float64
	X3       []float64
	MagInput []float64

	BGEO [][3]float64
	Bl   []float64
}

// MLTCall is the argument frame of get_mlt1. Loc.X must be GEO.
type MLTCall struct {
	Loc TimeLoc

	MLT float64
}

// DriftShellCall is the argument frame of drift_shell1.
type DriftShellCall struct {
	Model    ModelArgs
	Loc      TimeLoc
	MagInput [maginput.Len]float64

	Lm     float64
	Lstar  float64
	Blocal [DriftShellLines][DriftShellPoints]float64
	Bmin   float64
	XJ     float64
	Posit  [DriftShellLines][DriftShellPoints][3]float64
	NPosit [DriftShellLines]int64
}

// CoordTransCall is the argument frame of coord_trans_vec1. PosOut has the
// same length as PosIn.
type CoordTransCall struct {
	NTime  int32
	SysIn  int32
	SysOut int32
	IYear  []int32
	IDoy   []int32
	UT     []float64
	PosIn  [][3]float64

	PosOut [][3]float64
}

// Backend evaluates the native routines. Each method reads the input part
// of its frame and fills the output part. Implementations need not be safe
// for concurrent use; clients serialize calls.
type Backend interface {
	Name() string
	NTimeMax() int32
	MakeLstar(c *LstarCall) error
	TraceFieldLine(c *TraceCall) error
	FindMirrorPoint(c *MirrorCall) error
	FindFootPoint(c *FootCall) error
	FindMagEquator(c *MagEquatorCall) error
	GetFieldMulti(c *FieldMultiCall) error
	GetMLT(c *MLTCall) error
	DriftShell(c *DriftShellCall) error
	CoordTrans(c *CoordTransCall) error
	Close() error
}

// fill sets every element of s to Missing.
func fill(s []float64) {
	for i := range s {
		s[i] = Missing
	}
}

// bad reports whether v is a fill value.
func bad(v float64) bool {
	return v == Missing || v <= BadData
}

// clean converts fill values to NaN.
func clean(v float64) float64 {
	if bad(v) {
		return nan
	}
	return v
}
