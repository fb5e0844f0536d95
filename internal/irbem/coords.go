package irbem

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/PRBEM/IRBEM/internal/spacetime"
)

// Coords transforms positions between coordinate systems with the backend's
// coord_trans_vec1 routine.
type Coords struct {
	backend  Backend
	logger   *slog.Logger
	ntimeMax int
}

// NewCoords creates a coordinate client on b. Pass MagFields.Backend() to
// share the lock with a field client on the same library.
func NewCoords(b Backend, logger *slog.Logger) *Coords {
	g := Guard(b)
	return &Coords{backend: g, logger: logger, ntimeMax: int(g.NTimeMax())}
}

// Transform converts positions from one system to another. times and pos
// must have the same length.
func (c *Coords) Transform(ctx context.Context, times []time.Time, pos [][3]float64, from, to spacetime.CoordSystem) ([][3]float64, error) {
	switch {
	case len(times) == 0:
		return nil, fmt.Errorf("%w: no positions given", ErrInvalidInput)
	case len(times) != len(pos):
		return nil, fmt.Errorf("%w: %d times for %d positions", ErrInvalidInput, len(times), len(pos))
	case len(times) > c.ntimeMax:
		return nil, fmt.Errorf("%w: %d positions exceeds the backend limit of %d per call, split the batch",
			ErrInvalidInput, len(times), c.ntimeMax)
	case !from.Valid() || !to.Valid():
		return nil, fmt.Errorf("%w: coordinate systems %d -> %d", ErrInvalidInput, from, to)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := len(times)
	call := &CoordTransCall{
		NTime:  int32(n),
		SysIn:  int32(from),
		SysOut: int32(to),
		IYear:  make([]int32, n),
		IDoy:   make([]int32, n),
		UT:     make([]float64, n),
		PosIn:  make([][3]float64, n),
		PosOut: make([][3]float64, n),
	}
	for i, t := range times {
		if t.IsZero() {
			return nil, fmt.Errorf("%w: position %d has no time", ErrInvalidInput, i)
		}
		for _, v := range pos[i] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: non-finite coordinate in position %d", ErrInvalidInput, i)
			}
		}
		t = t.UTC()
		call.IYear[i] = int32(t.Year())
		call.IDoy[i] = int32(t.YearDay())
		call.UT[i] = spacetime.SecondsOfDay(t)
		call.PosIn[i] = pos[i]
		call.PosOut[i] = [3]float64{Missing, Missing, Missing}
	}

	if err := c.backend.CoordTrans(call); err != nil {
		return nil, fmt.Errorf("coord_trans: %w", err)
	}
	c.logger.Debug("coordinate transform complete", "ntime", n, "from", from.String(), "to", to.String())

	out := make([][3]float64, n)
	for i := range out {
		out[i] = cleanVec(call.PosOut[i])
	}
	return out, nil
}
