//go:build cgo && irbem

package native

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>

typedef void (*ntime_max_fn)(int*);
typedef void (*make_lstar_fn)(int*, int*, int*, int*, int*, int*, double*, double*, double*, double*,
	double*, double*, double*, double*, double*, double*, double*);
typedef void (*trace_fn)(int*, int*, int*, int*, int*, double*, double*, double*, double*, double*,
	double*, double*, double*, double*, double*, double*, int*);
typedef void (*mirror_fn)(int*, int*, int*, int*, int*, double*, double*, double*, double*, double*,
	double*, double*, double*, double*);
typedef void (*foot_fn)(int*, int*, int*, int*, int*, double*, double*, double*, double*, double*,
	int*, double*, double*, double*, double*);
typedef void (*magequator_fn)(int*, int*, int*, int*, int*, double*, double*, double*, double*, double*,
	double*, double*);
typedef void (*field_multi_fn)(int*, int*, int*, int*, int*, int*, double*, double*, double*, double*,
	double*, double*, double*);
typedef void (*mlt_fn)(int*, int*, double*, double*, double*);
typedef void (*drift_shell_fn)(int*, int*, int*, int*, int*, double*, double*, double*, double*, double*,
	double*, double*, double*, double*, double*, double*, long*);
typedef void (*coord_trans_fn)(int*, int*, int*, int*, int*, double*, double*, double*);

typedef struct {
	void *handle;
	ntime_max_fn ntime_max;
	make_lstar_fn make_lstar;
	trace_fn trace;
	mirror_fn mirror;
	foot_fn foot;
	magequator_fn magequator;
	field_multi_fn field_multi;
	mlt_fn mlt;
	drift_shell_fn drift_shell;
	coord_trans_fn coord_trans;
} irbem_lib;

// irbem_open returns the name of the first symbol that could not be
// resolved, "dlopen" if the library itself failed, or NULL.
static const char *irbem_open(const char *path, irbem_lib *lib) {
	lib->handle = dlopen(path, RTLD_NOW | RTLD_LOCAL);
	if (!lib->handle) return "dlopen";
#define SYM(field, name) if (!(lib->field = (void*)dlsym(lib->handle, name))) return name;
	SYM(ntime_max, "get_irbem_ntime_max1_")
	SYM(make_lstar, "make_lstar1_")
	SYM(trace, "trace_field_line2_1_")
	SYM(mirror, "find_mirror_point1_")
	SYM(foot, "find_foot_point1_")
	SYM(magequator, "find_magequator1_")
	SYM(field_multi, "get_field_multi_")
	SYM(mlt, "get_mlt1_")
	SYM(drift_shell, "drift_shell1_")
	SYM(coord_trans, "coord_trans_vec1_")
#undef SYM
	return NULL;
}

static const char *irbem_dlerror(void) { return dlerror(); }
static void irbem_close(irbem_lib *lib) { if (lib->handle) dlclose(lib->handle); lib->handle = NULL; }

static void call_ntime_max(irbem_lib *l, int *n) { l->ntime_max(n); }

static void call_make_lstar(irbem_lib *l, int *ntime, int *kext, int *options, int *sysaxes,
		int *iyear, int *idoy, double *ut, double *x1, double *x2, double *x3, double *maginput,
		double *lm, double *lstar, double *blocal, double *bmin, double *xj, double *mlt) {
	l->make_lstar(ntime, kext, options, sysaxes, iyear, idoy, ut, x1, x2, x3, maginput,
		lm, lstar, blocal, bmin, xj, mlt);
}

static void call_trace(irbem_lib *l, int *kext, int *options, int *sysaxes, int *iyear, int *idoy,
		double *ut, double *x1, double *x2, double *x3, double *maginput, double *r0,
		double *lm, double *blocal, double *bmin, double *xj, double *posit, int *nposit) {
	l->trace(kext, options, sysaxes, iyear, idoy, ut, x1, x2, x3, maginput, r0,
		lm, blocal, bmin, xj, posit, nposit);
}

static void call_mirror(irbem_lib *l, int *kext, int *options, int *sysaxes, int *iyear, int *idoy,
		double *ut, double *x1, double *x2, double *x3, double *alpha, double *maginput,
		double *blocal, double *bmin, double *posit) {
	l->mirror(kext, options, sysaxes, iyear, idoy, ut, x1, x2, x3, alpha, maginput,
		blocal, bmin, posit);
}

static void call_foot(irbem_lib *l, int *kext, int *options, int *sysaxes, int *iyear, int *idoy,
		double *ut, double *x1, double *x2, double *x3, double *stop_alt, int *hemi, double *maginput,
		double *xfoot, double *bfoot, double *bfootmag) {
	l->foot(kext, options, sysaxes, iyear, idoy, ut, x1, x2, x3, stop_alt, hemi, maginput,
		xfoot, bfoot, bfootmag);
}

static void call_magequator(irbem_lib *l, int *kext, int *options, int *sysaxes, int *iyear, int *idoy,
		double *ut, double *x1, double *x2, double *x3, double *maginput, double *bmin, double *xgeo) {
	l->magequator(kext, options, sysaxes, iyear, idoy, ut, x1, x2, x3, maginput, bmin, xgeo);
}

static void call_field_multi(irbem_lib *l, int *ntime, int *kext, int *options, int *sysaxes,
		int *iyear, int *idoy, double *ut, double *x1, double *x2, double *x3, double *maginput,
		double *bgeo, double *bl) {
	l->field_multi(ntime, kext, options, sysaxes, iyear, idoy, ut, x1, x2, x3, maginput, bgeo, bl);
}

static void call_mlt(irbem_lib *l, int *iyear, int *idoy, double *ut, double *xgeo, double *mlt) {
	l->mlt(iyear, idoy, ut, xgeo, mlt);
}

static void call_drift_shell(irbem_lib *l, int *kext, int *options, int *sysaxes, int *iyear, int *idoy,
		double *ut, double *x1, double *x2, double *x3, double *maginput,
		double *lm, double *lstar, double *blocal, double *bmin, double *xj, double *posit, long *nposit) {
	l->drift_shell(kext, options, sysaxes, iyear, idoy, ut, x1, x2, x3, maginput,
		lm, lstar, blocal, bmin, xj, posit, nposit);
}

static void call_coord_trans(irbem_lib *l, int *ntime, int *sys_in, int *sys_out, int *iyear, int *idoy,
		double *ut, double *pos_in, double *pos_out) {
	l->coord_trans(ntime, sys_in, sys_out, iyear, idoy, ut, pos_in, pos_out);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/PRBEM/IRBEM/internal/irbem"
)

// Backend calls into a loaded IRBEM-LIB. Each method hands pointers into
// the call frame straight to the library; the frames hold only numbers.
type Backend struct {
	lib      *C.irbem_lib
	ntimeMax int32
}

// Open loads the shared library at path and resolves every routine.
func Open(path string) (irbem.Backend, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	lib := (*C.irbem_lib)(C.calloc(1, C.sizeof_irbem_lib))
	if missing := C.irbem_open(cpath, lib); missing != nil {
		name := C.GoString(missing)
		detail := ""
		if name == "dlopen" {
			detail = C.GoString(C.irbem_dlerror())
		}
		C.irbem_close(lib)
		C.free(unsafe.Pointer(lib))
		if detail != "" {
			return nil, fmt.Errorf("%w: loading %s: %s", irbem.ErrBackendUnavailable, path, detail)
		}
		return nil, fmt.Errorf("%w: %s has no symbol %s", irbem.ErrBackendUnavailable, path, name)
	}

	var n C.int
	C.call_ntime_max(lib, &n)
	return &Backend{lib: lib, ntimeMax: int32(n)}, nil
}

// Name identifies the backend.
func (b *Backend) Name() string { return "irbem-lib" }

// NTimeMax is the library's batch limit.
func (b *Backend) NTimeMax() int32 { return b.ntimeMax }

// Close unloads the library.
func (b *Backend) Close() error {
	if b.lib != nil {
		C.irbem_close(b.lib)
		C.free(unsafe.Pointer(b.lib))
		b.lib = nil
	}
	return nil
}

func (b *Backend) loaded() error {
	if b.lib == nil {
		return fmt.Errorf("%w: library closed", irbem.ErrBackendUnavailable)
	}
	return nil
}

func ip(v *int32) *C.int      { return (*C.int)(unsafe.Pointer(v)) }
func dp(v *float64) *C.double { return (*C.double)(unsafe.Pointer(v)) }

// model is a C-addressable copy of the leading model arguments.
type model struct {
	kext    int32
	options [5]int32
	sysaxes int32
}

func modelOf(m irbem.ModelArgs) model {
	return model{kext: m.Kext, options: m.Options, sysaxes: m.Sysaxes}
}

// loc is a C-addressable copy of a single time and location.
type loc struct {
	iyear, idoy int32
	ut          float64
	x           [3]float64
}

func locOf(l irbem.TimeLoc) loc {
	return loc{iyear: l.IYear, idoy: l.IDoy, ut: l.UT, x: l.X}
}

func (b *Backend) MakeLstar(c *irbem.LstarCall) error {
	if err := b.loaded(); err != nil {
		return err
	}
	if c.NTime <= 0 {
		return nil
	}
	m := modelOf(c.Model)
	n := c.NTime
	C.call_make_lstar(b.lib, ip(&n), ip(&m.kext), ip(&m.options[0]), ip(&m.sysaxes),
		ip(&c.IYear[0]), ip(&c.IDoy[0]), dp(&c.UT[0]), dp(&c.X1[0]), dp(&c.X2[0]), dp(&c.X3[0]),
		dp(&c.MagInput[0]),
		dp(&c.Lm[0]), dp(&c.Lstar[0]), dp(&c.Blocal[0]), dp(&c.Bmin[0]), dp(&c.XJ[0]), dp(&c.MLT[0]))
	return nil
}

func (b *Backend) TraceFieldLine(c *irbem.TraceCall) error {
	if err := b.loaded(); err != nil {
		return err
	}
	m := modelOf(c.Model)
	l := locOf(c.Loc)
	C.call_trace(b.lib, ip(&m.kext), ip(&m.options[0]), ip(&m.sysaxes),
		ip(&l.iyear), ip(&l.idoy), dp(&l.ut), dp(&l.x[0]), dp(&l.x[1]), dp(&l.x[2]),
		dp(&c.MagInput[0]), dp(&c.R0),
		dp(&c.Lm), dp(&c.Blocal[0]), dp(&c.Bmin), dp(&c.XJ), dp(&c.Posit[0][0]), ip(&c.NPosit))
	return nil
}

func (b *Backend) FindMirrorPoint(c *irbem.MirrorCall) error {
	if err := b.loaded(); err != nil {
		return err
	}
	m := modelOf(c.Model)
	l := locOf(c.Loc)
	C.call_mirror(b.lib, ip(&m.kext), ip(&m.options[0]), ip(&m.sysaxes),
		ip(&l.iyear), ip(&l.idoy), dp(&l.ut), dp(&l.x[0]), dp(&l.x[1]), dp(&l.x[2]),
		dp(&c.Alpha), dp(&c.MagInput[0]),
		dp(&c.Blocal), dp(&c.Bmin), dp(&c.Posit[0]))
	return nil
}

func (b *Backend) FindFootPoint(c *irbem.FootCall) error {
	if err := b.loaded(); err != nil {
		return err
	}
	m := modelOf(c.Model)
	l := locOf(c.Loc)
	C.call_foot(b.lib, ip(&m.kext), ip(&m.options[0]), ip(&m.sysaxes),
		ip(&l.iyear), ip(&l.idoy), dp(&l.ut), dp(&l.x[0]), dp(&l.x[1]), dp(&l.x[2]),
		dp(&c.StopAlt), ip(&c.Hemi), dp(&c.MagInput[0]),
		dp(&c.XFoot[0]), dp(&c.BFoot[0]), dp(&c.BFootMag[0]))
	return nil
}

func (b *Backend) FindMagEquator(c *irbem.MagEquatorCall) error {
	if err := b.loaded(); err != nil {
		return err
	}
	m := modelOf(c.Model)
	l := locOf(c.Loc)
	C.call_magequator(b.lib, ip(&m.kext), ip(&m.options[0]), ip(&m.sysaxes),
		ip(&l.iyear), ip(&l.idoy), dp(&l.ut), dp(&l.x[0]), dp(&l.x[1]), dp(&l.x[2]),
		dp(&c.MagInput[0]), dp(&c.Bmin), dp(&c.XGEO[0]))
	return nil
}

func (b *Backend) GetFieldMulti(c *irbem.FieldMultiCall) error {
	if err := b.loaded(); err != nil {
		return err
	}
	if c.NTime <= 0 {
		return nil
	}
	m := modelOf(c.Model)
	n := c.NTime
	C.call_field_multi(b.lib, ip(&n), ip(&m.kext), ip(&m.options[0]), ip(&m.sysaxes),
		ip(&c.IYear[0]), ip(&c.IDoy[0]), dp(&c.UT[0]), dp(&c.X1[0]), dp(&c.X2[0]), dp(&c.X3[0]),
		dp(&c.MagInput[0]), dp(&c.BGEO[0][0]), dp(&c.Bl[0]))
	return nil
}

func (b *Backend) GetMLT(c *irbem.MLTCall) error {
	if err := b.loaded(); err != nil {
		return err
	}
	l := locOf(c.Loc)
	C.call_mlt(b.lib, ip(&l.iyear), ip(&l.idoy), dp(&l.ut), dp(&l.x[0]), dp(&c.MLT))
	return nil
}

func (b *Backend) DriftShell(c *irbem.DriftShellCall) error {
	if err := b.loaded(); err != nil {
		return err
	}
	m := modelOf(c.Model)
	l := locOf(c.Loc)
	C.call_drift_shell(b.lib, ip(&m.kext), ip(&m.options[0]), ip(&m.sysaxes),
		ip(&l.iyear), ip(&l.idoy), dp(&l.ut), dp(&l.x[0]), dp(&l.x[1]), dp(&l.x[2]),
		dp(&c.MagInput[0]),
		dp(&c.Lm), dp(&c.Lstar), dp(&c.Blocal[0][0]), dp(&c.Bmin), dp(&c.XJ),
		dp(&c.Posit[0][0][0]), (*C.long)(unsafe.Pointer(&c.NPosit[0])))
	return nil
}

func (b *Backend) CoordTrans(c *irbem.CoordTransCall) error {
	if err := b.loaded(); err != nil {
		return err
	}
	if c.NTime <= 0 {
		return nil
	}
	n, in, out := c.NTime, c.SysIn, c.SysOut
	C.call_coord_trans(b.lib, ip(&n), ip(&in), ip(&out),
		ip(&c.IYear[0]), ip(&c.IDoy[0]), dp(&c.UT[0]), dp(&c.PosIn[0][0]), dp(&c.PosOut[0][0]))
	return nil
}
