package irbem

import (
	"sync"

	"github.com/PRBEM/IRBEM/internal/metrics"
)

// guarded serializes calls into a backend. The native library keeps model
// state in FORTRAN common blocks, so at most one routine may run at a time
// per loaded library.
type guarded struct {
	mu sync.Mutex
	b  Backend
}

// Guard wraps b so that all calls through the result are serialized and
// counted. Guarding an already guarded backend returns it unchanged, so
// clients built on the same guarded backend share one lock.
func Guard(b Backend) Backend {
	if g, ok := b.(*guarded); ok {
		return g
	}
	return &guarded{b: b}
}

func (g *guarded) call(routine string, fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	metrics.IncBackendCalls(routine)
	return fn()
}

func (g *guarded) Name() string { return g.b.Name() }

func (g *guarded) NTimeMax() int32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.b.NTimeMax()
}

func (g *guarded) MakeLstar(c *LstarCall) error {
	return g.call("make_lstar", func() error { return g.b.MakeLstar(c) })
}

func (g *guarded) TraceFieldLine(c *TraceCall) error {
	return g.call("trace_field_line", func() error { return g.b.TraceFieldLine(c) })
}

func (g *guarded) FindMirrorPoint(c *MirrorCall) error {
	return g.call("find_mirror_point", func() error { return g.b.FindMirrorPoint(c) })
}

func (g *guarded) FindFootPoint(c *FootCall) error {
	return g.call("find_foot_point", func() error { return g.b.FindFootPoint(c) })
}

func (g *guarded) FindMagEquator(c *MagEquatorCall) error {
	return g.call("find_magequator", func() error { return g.b.FindMagEquator(c) })
}

func (g *guarded) GetFieldMulti(c *FieldMultiCall) error {
	return g.call("get_field_multi", func() error { return g.b.GetFieldMulti(c) })
}

func (g *guarded) GetMLT(c *MLTCall) error {
	return g.call("get_mlt", func() error { return g.b.GetMLT(c) })
}

func (g *guarded) DriftShell(c *DriftShellCall) error {
	return g.call("drift_shell", func() error { return g.b.DriftShell(c) })
}

func (g *guarded) CoordTrans(c *CoordTransCall) error {
	return g.call("coord_trans", func() error { return g.b.CoordTrans(c) })
}

func (g *guarded) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.b.Close()
}
