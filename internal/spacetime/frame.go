package spacetime

import "errors"

// ErrNoPoints is returned when a frame is requested for an empty point list.
var ErrNoPoints = errors.New("no points given")

// Frame holds the time and location arrays passed to the native routines.
// All slices have length NTime.
type Frame struct {
	NTime int32
	IYear []int32
	IDoy  []int32
	UT    []float64 // seconds of day
	X1    []float64
	X2    []float64
	X3    []float64
}

// NewFrame marshals points into a Frame.
func NewFrame(points []Point) (Frame, error) {
	n := len(points)
	if n == 0 {
		return Frame{}, ErrNoPoints
	}
	f := Frame{
		NTime: int32(n),
		IYear: make([]int32, n),
		IDoy:  make([]int32, n),
		UT:    make([]float64, n),
		X1:    make([]float64, n),
		X2:    make([]float64, n),
		X3:    make([]float64, n),
	}
	for i, p := range points {
		t := p.Time.UTC()
		f.IYear[i] = int32(t.Year())
		f.IDoy[i] = int32(t.YearDay())
		f.UT[i] = SecondsOfDay(t)
		f.X1[i] = p.X1
		f.X2[i] = p.X2
		f.X3[i] = p.X3
	}
	return f, nil
}

// SingleFrame marshals one point.
func SingleFrame(p Point) Frame {
	f, _ := NewFrame([]Point{p})
	return f
}

// Len returns the number of entries in the frame.
func (f Frame) Len() int {
	return int(f.NTime)
}

