package api

import (
	"fmt"
	"math"
	"time"

	"github.com/PRBEM/IRBEM/internal/bounce"
	"github.com/PRBEM/IRBEM/internal/irbem"
	"github.com/PRBEM/IRBEM/internal/maginput"
	"github.com/PRBEM/IRBEM/internal/spacetime"
)

// pointJSON is a time and location in the server's input coordinate system.
type pointJSON struct {
	Time string  `json:"time"`
	X1   float64 `json:"x1"`
	X2   float64 `json:"x2"`
	X3   float64 `json:"x3"`
}

func (p pointJSON) point() (spacetime.Point, error) {
	pt, err := spacetime.ParsePoint(p.Time, p.X1, p.X2, p.X3)
	if err != nil {
		return spacetime.Point{}, fmt.Errorf("%w: %w", irbem.ErrInvalidInput, err)
	}
	return pt, nil
}

func parsePoints(in []pointJSON) ([]spacetime.Point, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: no points given", irbem.ErrInvalidInput)
	}
	out := make([]spacetime.Point, len(in))
	for i, p := range in {
		pt, err := p.point()
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		out[i] = pt
	}
	return out, nil
}

func parseMagInput(m map[string]float64) (maginput.Input, error) {
	in, err := maginput.FromMap(m)
	if err != nil {
		return maginput.Input{}, fmt.Errorf("%w: %w", irbem.ErrInvalidInput, err)
	}
	return in, nil
}

// parseMagInputs accepts either one input for every point or a series.
func parseMagInputs(single map[string]float64, series map[string][]float64) ([]maginput.Input, error) {
	if len(series) > 0 {
		if len(single) > 0 {
			return nil, fmt.Errorf("%w: give maginput or maginput_series, not both", irbem.ErrInvalidInput)
		}
		ins, err := maginput.FromSeries(series)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", irbem.ErrInvalidInput, err)
		}
		return ins, nil
	}
	in, err := parseMagInput(single)
	if err != nil {
		return nil, err
	}
	return []maginput.Input{in}, nil
}

// num maps NaN to JSON null.
func num(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func vec(v [3]float64) [3]*float64 {
	return [3]*float64{num(v[0]), num(v[1]), num(v[2])}
}

func nums(s []float64) []*float64 {
	out := make([]*float64, len(s))
	for i, v := range s {
		out[i] = num(v)
	}
	return out
}

func vecs(s [][3]float64) [][3]*float64 {
	out := make([][3]*float64, len(s))
	for i, v := range s {
		out[i] = vec(v)
	}
	return out
}

type bounceRequest struct {
	Point           pointJSON          `json:"point"`
	MagInput        map[string]float64 `json:"maginput,omitempty"`
	Energies        []float64          `json:"energies"`
	RestEnergy      *float64           `json:"rest_energy,omitempty"`
	ReferenceRadius *float64           `json:"reference_radius,omitempty"`
	PitchAngle      *float64           `json:"pitch_angle,omitempty"`
	ResampleCount   *int               `json:"resample_count,omitempty"`
}

// options returns the estimator options the request sets, after applying
// the server's budget.
func (r bounceRequest) options(maxEnergies, maxResample int) ([]bounce.Option, error) {
	if len(r.Energies) > maxEnergies {
		return nil, budgetError{field: "energies", limit: maxEnergies}
	}
	var opts []bounce.Option
	if r.RestEnergy != nil {
		opts = append(opts, bounce.WithRestEnergy(*r.RestEnergy))
	}
	if r.ReferenceRadius != nil {
		opts = append(opts, bounce.WithReferenceRadius(*r.ReferenceRadius))
	}
	if r.PitchAngle != nil {
		opts = append(opts, bounce.WithPitchAngle(*r.PitchAngle))
	}
	if r.ResampleCount != nil {
		if *r.ResampleCount > maxResample {
			return nil, budgetError{field: "resample_count", limit: maxResample}
		}
		opts = append(opts, bounce.WithResampleCount(*r.ResampleCount))
	}
	return opts, nil
}

type bouncePointsJSON struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type bounceResponse struct {
	Energies     []float64        `json:"energies"`
	Periods      []float64        `json:"periods"`
	MirrorB      float64          `json:"mirror_b"`
	BouncePoints bouncePointsJSON `json:"bounce_points"`
	Warnings     []string         `json:"warnings,omitempty"`
}

func newBounceResponse(res bounce.Result) bounceResponse {
	out := bounceResponse{
		Energies:     res.Energies,
		Periods:      res.Periods,
		MirrorB:      res.MirrorB,
		BouncePoints: bouncePointsJSON{Start: res.Bounce.Start, End: res.Bounce.End},
	}
	for _, w := range res.Warnings {
		out.Warnings = append(out.Warnings, w.String())
	}
	return out
}

type batchRequest struct {
	Queries []bounceRequest `json:"queries"`
}

// batchItem carries either a result or an error for one query.
type batchItem struct {
	*bounceResponse
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

type batchResponse struct {
	Results []batchItem `json:"results"`
	Failed  int         `json:"failed"`
}

type altitudeRequest struct {
	Point           pointJSON          `json:"point"`
	MagInput        map[string]float64 `json:"maginput,omitempty"`
	ReferenceRadius *float64           `json:"reference_radius,omitempty"`
}

func (r altitudeRequest) r0() float64 {
	if r.ReferenceRadius == nil {
		return 1
	}
	return *r.ReferenceRadius
}

type altitudeResponse struct {
	AltitudeKm float64 `json:"altitude_km"`
}

type traceResponse struct {
	Points [][3]*float64 `json:"points"`
	B      []*float64    `json:"b"`
	Lm     *float64      `json:"lm"`
	Bmin   *float64      `json:"bmin"`
	XJ     *float64      `json:"xj"`
}

// multiRequest is the body of the batched model routines.
type multiRequest struct {
	Points         []pointJSON          `json:"points"`
	MagInput       map[string]float64   `json:"maginput,omitempty"`
	MagInputSeries map[string][]float64 `json:"maginput_series,omitempty"`
}

type lstarJSON struct {
	Lm     *float64 `json:"lm"`
	Lstar  *float64 `json:"lstar"`
	Blocal *float64 `json:"blocal"`
	Bmin   *float64 `json:"bmin"`
	XJ     *float64 `json:"xj"`
	MLT    *float64 `json:"mlt"`
}

type lstarResponse struct {
	Results []lstarJSON `json:"results"`
}

type fieldJSON struct {
	BGEO [3]*float64 `json:"b_geo"`
	B    *float64    `json:"b"`
}

type fieldResponse struct {
	Results []fieldJSON `json:"results"`
}

type mirrorPointRequest struct {
	Point      pointJSON          `json:"point"`
	MagInput   map[string]float64 `json:"maginput,omitempty"`
	PitchAngle float64            `json:"pitch_angle"`
}

type mirrorPointResponse struct {
	Blocal *float64    `json:"blocal"`
	Bmin   *float64    `json:"bmin"`
	GEO    [3]*float64 `json:"geo"`
}

type footPointRequest struct {
	Point      pointJSON          `json:"point"`
	MagInput   map[string]float64 `json:"maginput,omitempty"`
	StopAlt    float64            `json:"stop_alt"`
	Hemisphere string             `json:"hemisphere"`
}

type footPointResponse struct {
	GDZ  [3]*float64 `json:"gdz"`
	BGEO [3]*float64 `json:"b_geo"`
	B    *float64    `json:"b"`
}

type pointRequest struct {
	Point    pointJSON          `json:"point"`
	MagInput map[string]float64 `json:"maginput,omitempty"`
}

type magEquatorResponse struct {
	Bmin *float64    `json:"bmin"`
	GEO  [3]*float64 `json:"geo"`
}

type mltResponse struct {
	MLT *float64 `json:"mlt"`
}

type driftLineJSON struct {
	Points [][3]*float64 `json:"points"`
	B      []*float64    `json:"b"`
}

type driftShellResponse struct {
	Lm    *float64        `json:"lm"`
	Lstar *float64        `json:"lstar"`
	Bmin  *float64        `json:"bmin"`
	XJ    *float64        `json:"xj"`
	Lines []driftLineJSON `json:"lines"`
}

type transformRequest struct {
	Times     []string     `json:"times"`
	Positions [][3]float64 `json:"positions"`
	From      string       `json:"from"`
	To        string       `json:"to"`
}

func (r transformRequest) parse() ([]time.Time, spacetime.CoordSystem, spacetime.CoordSystem, error) {
	times := make([]time.Time, len(r.Times))
	for i, s := range r.Times {
		t, err := spacetime.ParseTime(s)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("%w: time %d: %w", irbem.ErrInvalidInput, i, err)
		}
		times[i] = t
	}
	from, err := spacetime.ParseCoordSystem(r.From)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: from: %w", irbem.ErrInvalidInput, err)
	}
	to, err := spacetime.ParseCoordSystem(r.To)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: to: %w", irbem.ErrInvalidInput, err)
	}
	return times, from, to, nil
}

type transformResponse struct {
	From      string        `json:"from"`
	To        string        `json:"to"`
	Positions [][3]*float64 `json:"positions"`
}

type modelsResponse struct {
	Backend        string   `json:"backend"`
	Kext           string   `json:"kext"`
	Sysaxes        string   `json:"sysaxes"`
	Options        [5]int32 `json:"options"`
	NTimeMax       int      `json:"ntime_max"`
	ExternalModels []string `json:"external_models"`
	CoordSystems   []string `json:"coord_systems"`
	MagInputKeys   []string `json:"maginput_keys"`
}
