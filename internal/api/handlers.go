package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/PRBEM/IRBEM/internal/batch"
	"github.com/PRBEM/IRBEM/internal/httputil"
	"github.com/PRBEM/IRBEM/internal/irbem"
	"github.com/PRBEM/IRBEM/internal/maginput"
	"github.com/PRBEM/IRBEM/internal/metrics"
	"github.com/PRBEM/IRBEM/internal/spacetime"
)

type handlers struct {
	cfg     Config
	svc     Services
	limiter *computeLimiter
	logger  *slog.Logger
}

// compute runs fn under the per-IP limit and the request deadline. It
// writes 429 instead when the client is over its limit.
func (h *handlers) compute(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context)) {
	ip := httputil.ClientIP(r, h.cfg.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncQueryErrors(op, kindRateLimited)
		h.logger.Warn("compute limit exceeded",
			"component", "api",
			"op", op,
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "5")
		httputil.WriteJSON(w, http.StatusTooManyRequests, errorBody{
			Error: "too many concurrent computations",
			Kind:  kindRateLimited,
		})
		return
	}
	defer h.limiter.release(ip)

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()
	fn(ctx)
}

// POST /api/v1/bounce-period
func (h *handlers) bouncePeriod(w http.ResponseWriter, r *http.Request) {
	const op = "bounce_period"
	var req bounceRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, op, err)
		return
	}
	q, err := h.bounceQuery(req)
	if err != nil {
		writeError(w, h.logger, op, err)
		return
	}

	h.compute(w, r, op, func(ctx context.Context) {
		res, err := h.svc.Estimator.BouncePeriod(ctx, q.Point, q.Input, q.Energies, q.Options...)
		if err != nil {
			writeError(w, h.logger, op, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, newBounceResponse(res))
	})
}

func (h *handlers) bounceQuery(req bounceRequest) (batch.Query, error) {
	opts, err := req.options(h.cfg.MaxEnergies, h.cfg.MaxResampleCount)
	if err != nil {
		return batch.Query{}, err
	}
	p, err := req.Point.point()
	if err != nil {
		return batch.Query{}, err
	}
	in, err := parseMagInput(req.MagInput)
	if err != nil {
		return batch.Query{}, err
	}
	return batch.Query{Point: p, Input: in, Energies: req.Energies, Options: opts}, nil
}

// POST /api/v1/bounce-period/batch
func (h *handlers) bouncePeriodBatch(w http.ResponseWriter, r *http.Request) {
	const op = "bounce_period_batch"
	var req batchRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, op, err)
		return
	}
	if len(req.Queries) == 0 {
		writeError(w, h.logger, op, fmt.Errorf("%w: no queries given", irbem.ErrInvalidInput))
		return
	}
	if len(req.Queries) > h.cfg.MaxBatchQueries {
		writeError(w, h.logger, op, budgetError{field: "queries", limit: h.cfg.MaxBatchQueries})
		return
	}

	queries := make([]batch.Query, len(req.Queries))
	for i, qr := range req.Queries {
		q, err := h.bounceQuery(qr)
		if err != nil {
			writeError(w, h.logger, op, fmt.Errorf("query %d: %w", i, err))
			return
		}
		queries[i] = q
	}

	h.compute(w, r, op, func(ctx context.Context) {
		results := h.svc.Pool.BouncePeriods(ctx, queries)
		resp := batchResponse{Results: make([]batchItem, len(results))}
		for i, res := range results {
			if res.Err != nil {
				kind, _ := classify(res.Err)
				metrics.IncQueryErrors("bounce_period", kind)
				resp.Results[i] = batchItem{Error: res.Err.Error(), Kind: kind}
				resp.Failed++
				continue
			}
			br := newBounceResponse(res.Result)
			resp.Results[i] = batchItem{bounceResponse: &br}
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	})
}

// POST /api/v1/mirror-altitude
func (h *handlers) mirrorAltitude(w http.ResponseWriter, r *http.Request) {
	const op = "mirror_altitude"
	var req altitudeRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, op, err)
		return
	}
	p, in, err := parsePointInput(req.Point, req.MagInput)
	if err != nil {
		writeError(w, h.logger, op, err)
		return
	}

	h.compute(w, r, op, func(ctx context.Context) {
		alt, err := h.svc.Estimator.MirrorPointAltitude(ctx, p, in, req.r0())
		if err != nil {
			writeError(w, h.logger, op, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, altitudeResponse{AltitudeKm: alt})
	})
}

func parsePointInput(pj pointJSON, m map[string]float64) (spacetime.Point, maginput.Input, error) {
	p, err := pj.point()
	if err != nil {
		return spacetime.Point{}, maginput.Input{}, err
	}
	in, err := parseMagInput(m)
	if err != nil {
		return spacetime.Point{}, maginput.Input{}, err
	}
	return p, in, nil
}

// routine decodes req, runs fn under the request deadline and writes its
// result. Model routines are cheap next to bounce queries and skip the
// compute limiter.
func routine[Req any](h *handlers, op string, fn func(ctx context.Context, req Req) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			writeBadRequest(w, op, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
		defer cancel()

		start := time.Now()
		resp, err := fn(ctx, req)
		if err != nil {
			writeError(w, h.logger, op, err)
			return
		}
		metrics.ObserveQuery(op, time.Since(start))
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

// POST /api/v1/trace-field-line
func (h *handlers) traceFieldLine(w http.ResponseWriter, r *http.Request) {
	routine(h, "trace_field_line", func(ctx context.Context, req altitudeRequest) (any, error) {
		p, in, err := parsePointInput(req.Point, req.MagInput)
		if err != nil {
			return nil, err
		}
		line, err := h.svc.Fields.TraceFieldLine(ctx, p, in, req.r0())
		if err != nil {
			return nil, err
		}
		return traceResponse{
			Points: vecs(line.Points),
			B:      nums(line.B),
			Lm:     num(line.Lm),
			Bmin:   num(line.Bmin),
			XJ:     num(line.XJ),
		}, nil
	})(w, r)
}

// POST /api/v1/lstar
func (h *handlers) lstar(w http.ResponseWriter, r *http.Request) {
	routine(h, "make_lstar", func(ctx context.Context, req multiRequest) (any, error) {
		points, inputs, err := parseMulti(req)
		if err != nil {
			return nil, err
		}
		res, err := h.svc.Fields.MakeLstar(ctx, points, inputs)
		if err != nil {
			return nil, err
		}
		out := lstarResponse{Results: make([]lstarJSON, len(res))}
		for i, v := range res {
			out.Results[i] = lstarJSON{
				Lm:     num(v.Lm),
				Lstar:  num(v.Lstar),
				Blocal: num(v.Blocal),
				Bmin:   num(v.Bmin),
				XJ:     num(v.XJ),
				MLT:    num(v.MLT),
			}
		}
		return out, nil
	})(w, r)
}

func parseMulti(req multiRequest) ([]spacetime.Point, []maginput.Input, error) {
	points, err := parsePoints(req.Points)
	if err != nil {
		return nil, nil, err
	}
	inputs, err := parseMagInputs(req.MagInput, req.MagInputSeries)
	if err != nil {
		return nil, nil, err
	}
	return points, inputs, nil
}

// POST /api/v1/field
func (h *handlers) field(w http.ResponseWriter, r *http.Request) {
	routine(h, "get_field_multi", func(ctx context.Context, req multiRequest) (any, error) {
		points, inputs, err := parseMulti(req)
		if err != nil {
			return nil, err
		}
		res, err := h.svc.Fields.GetFieldMulti(ctx, points, inputs)
		if err != nil {
			return nil, err
		}
		out := fieldResponse{Results: make([]fieldJSON, len(res))}
		for i, v := range res {
			out.Results[i] = fieldJSON{BGEO: vec(v.BGEO), B: num(v.B)}
		}
		return out, nil
	})(w, r)
}

// POST /api/v1/mirror-point
func (h *handlers) mirrorPoint(w http.ResponseWriter, r *http.Request) {
	routine(h, "find_mirror_point", func(ctx context.Context, req mirrorPointRequest) (any, error) {
		p, in, err := parsePointInput(req.Point, req.MagInput)
		if err != nil {
			return nil, err
		}
		mp, err := h.svc.Fields.FindMirrorPoint(ctx, p, in, req.PitchAngle)
		if err != nil {
			return nil, err
		}
		return mirrorPointResponse{Blocal: num(mp.Blocal), Bmin: num(mp.Bmin), GEO: vec(mp.GEO)}, nil
	})(w, r)
}

// POST /api/v1/foot-point
func (h *handlers) footPoint(w http.ResponseWriter, r *http.Request) {
	routine(h, "find_foot_point", func(ctx context.Context, req footPointRequest) (any, error) {
		p, in, err := parsePointInput(req.Point, req.MagInput)
		if err != nil {
			return nil, err
		}
		hemi := irbem.HemiSame
		if req.Hemisphere != "" {
			if hemi, err = irbem.ParseHemisphere(req.Hemisphere); err != nil {
				return nil, err
			}
		}
		fp, err := h.svc.Fields.FindFootPoint(ctx, p, in, req.StopAlt, hemi)
		if err != nil {
			return nil, err
		}
		return footPointResponse{GDZ: vec(fp.GDZ), BGEO: vec(fp.BGEO), B: num(fp.B)}, nil
	})(w, r)
}

// POST /api/v1/magequator
func (h *handlers) magEquator(w http.ResponseWriter, r *http.Request) {
	routine(h, "find_magequator", func(ctx context.Context, req pointRequest) (any, error) {
		p, in, err := parsePointInput(req.Point, req.MagInput)
		if err != nil {
			return nil, err
		}
		eq, err := h.svc.Fields.FindMagEquator(ctx, p, in)
		if err != nil {
			return nil, err
		}
		return magEquatorResponse{Bmin: num(eq.Bmin), GEO: vec(eq.GEO)}, nil
	})(w, r)
}

// POST /api/v1/mlt
func (h *handlers) mlt(w http.ResponseWriter, r *http.Request) {
	routine(h, "get_mlt", func(ctx context.Context, req pointRequest) (any, error) {
		p, err := req.Point.point()
		if err != nil {
			return nil, err
		}
		v, err := h.svc.Fields.GetMLT(ctx, p)
		if err != nil {
			return nil, err
		}
		return mltResponse{MLT: num(v)}, nil
	})(w, r)
}

// POST /api/v1/drift-shell
func (h *handlers) driftShell(w http.ResponseWriter, r *http.Request) {
	routine(h, "drift_shell", func(ctx context.Context, req pointRequest) (any, error) {
		p, in, err := parsePointInput(req.Point, req.MagInput)
		if err != nil {
			return nil, err
		}
		ds, err := h.svc.Fields.DriftShell(ctx, p, in)
		if err != nil {
			return nil, err
		}
		out := driftShellResponse{
			Lm:    num(ds.Lm),
			Lstar: num(ds.Lstar),
			Bmin:  num(ds.Bmin),
			XJ:    num(ds.XJ),
			Lines: make([]driftLineJSON, len(ds.Lines)),
		}
		for i, l := range ds.Lines {
			out.Lines[i] = driftLineJSON{Points: vecs(l.Points), B: nums(l.B)}
		}
		return out, nil
	})(w, r)
}

// POST /api/v1/coords/transform
func (h *handlers) transform(w http.ResponseWriter, r *http.Request) {
	routine(h, "coord_trans", func(ctx context.Context, req transformRequest) (any, error) {
		times, from, to, err := req.parse()
		if err != nil {
			return nil, err
		}
		pos, err := h.svc.Coords.Transform(ctx, times, req.Positions, from, to)
		if err != nil {
			return nil, err
		}
		out := transformResponse{From: from.String(), To: to.String(), Positions: make([][3]*float64, len(pos))}
		for i, p := range pos {
			out.Positions[i] = vec(p)
		}
		return out, nil
	})(w, r)
}

// GET /api/v1/models
func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	m := h.svc.Fields.Model()
	var systems []string
	for c := spacetime.GDZ; c.Valid(); c++ {
		systems = append(systems, c.String())
	}
	httputil.WriteJSON(w, http.StatusOK, modelsResponse{
		Backend:        h.svc.Fields.Backend().Name(),
		Kext:           m.Kext.String(),
		Sysaxes:        m.Sysaxes.String(),
		Options:        m.Options,
		NTimeMax:       h.svc.Fields.NTimeMax(),
		ExternalModels: irbem.KextNames(),
		CoordSystems:   systems,
		MagInputKeys:   maginput.Names(),
	})
}
