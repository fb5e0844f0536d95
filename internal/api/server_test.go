package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PRBEM/IRBEM/internal/auth"
	"github.com/PRBEM/IRBEM/internal/batch"
	"github.com/PRBEM/IRBEM/internal/bounce"
	"github.com/PRBEM/IRBEM/internal/dipole"
	"github.com/PRBEM/IRBEM/internal/irbem"
	"github.com/PRBEM/IRBEM/internal/spacetime"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testServices(t *testing.T) Services {
	t.Helper()
	return backendServices(t, dipole.New())
}

func backendServices(t *testing.T, backend irbem.Backend) Services {
	t.Helper()
	logger := testLogger()
	model := irbem.DefaultModel()
	model.Kext = irbem.KextNone
	model.Sysaxes = spacetime.GEO
	fields, err := irbem.NewMagFields(backend, model, logger)
	if err != nil {
		t.Fatalf("NewMagFields failed: %v", err)
	}
	est := bounce.NewEstimator(fields, logger)
	return Services{
		Fields:    fields,
		Coords:    irbem.NewCoords(fields.Backend(), logger),
		Estimator: est,
		Pool:      batch.NewPool(est, 2, logger),
	}
}

func testHandler(t *testing.T, authCfg auth.Config) http.Handler {
	t.Helper()
	return NewServer(DefaultConfig(), testServices(t), testLogger(), authCfg).Handler()
}

// shellPoint is a point at magnetic latitude latDeg on the dipole line of
// the given L, as a JSON object.
func shellPoint(L, latDeg float64) string {
	lat := latDeg * math.Pi / 180
	c := math.Cos(lat)
	r := L * c * c
	return fmt.Sprintf(`{"time":"2015-02-02T06:12:43Z","x1":%g,"x2":0,"x3":%g}`, r*c, r*math.Sin(lat))
}

func post(t *testing.T, h http.Handler, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp map[string]any
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&resp); err != nil {
		t.Fatalf("%s: response is not JSON: %v (%q)", path, err, w.Body.String())
	}
	return w, resp
}

func TestBouncePeriodEndpoint(t *testing.T) {
	h := testHandler(t, auth.Config{})
	body := `{"point":` + shellPoint(4, 30) + `,"energies":[200,1000]}`

	w, resp := post(t, h, "/api/v1/bounce-period", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", w.Code, resp)
	}
	periods, ok := resp["periods"].([]any)
	if !ok || len(periods) != 2 {
		t.Fatalf("periods = %v, want two values", resp["periods"])
	}
	p0, p1 := periods[0].(float64), periods[1].(float64)
	if !(p0 > p1 && p1 > 0) {
		t.Errorf("periods = %v, want positive and decreasing", periods)
	}
	if _, ok := resp["bounce_points"].(map[string]any); !ok {
		t.Error("expected bounce_points in response")
	}
	if _, ok := resp["warnings"]; ok {
		t.Errorf("unexpected warnings: %v", resp["warnings"])
	}
}

func TestBouncePeriodWarning(t *testing.T) {
	h := testHandler(t, auth.Config{})
	body := `{"point":` + shellPoint(4, 30) + `,"energies":[500],"resample_count":50}`

	w, resp := post(t, h, "/api/v1/bounce-period", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", w.Code, resp)
	}
	warnings, _ := resp["warnings"].([]any)
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want one", resp["warnings"])
	}
}

// TestBounceBudget verifies that requests exceeding the compute budget are
// rejected with 400 and the limit in the body.
func TestBounceBudget(t *testing.T) {
	h := testHandler(t, auth.Config{})

	energies := make([]string, 65)
	for i := range energies {
		energies[i] = "100"
	}

	tests := []struct {
		name      string
		path      string
		body      string
		wantLimit float64
	}{
		{
			name:      "too many energies",
			path:      "/api/v1/bounce-period",
			body:      `{"point":` + shellPoint(4, 30) + `,"energies":[` + strings.Join(energies, ",") + `]}`,
			wantLimit: 64,
		},
		{
			name:      "resample count too large",
			path:      "/api/v1/bounce-period",
			body:      `{"point":` + shellPoint(4, 30) + `,"energies":[100],"resample_count":2000000}`,
			wantLimit: 1_000_000,
		},
		{
			name:      "too many batch queries",
			path:      "/api/v1/bounce-period/batch",
			body:      `{"queries":[` + strings.Repeat(`{"point":`+shellPoint(4, 30)+`,"energies":[100]},`, 256) + `{"point":` + shellPoint(4, 30) + `,"energies":[100]}]}`,
			wantLimit: 256,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := post(t, h, tt.path, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if resp["kind"] != kindBudget {
				t.Errorf("kind = %v, want %s", resp["kind"], kindBudget)
			}
			if resp["limit"] != tt.wantLimit {
				t.Errorf("limit = %v, want %v", resp["limit"], tt.wantLimit)
			}
		})
	}
}

func TestErrorKinds(t *testing.T) {
	h := testHandler(t, auth.Config{})

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantKind   string
	}{
		{
			name:       "open field line",
			path:       "/api/v1/bounce-period",
			body:       `{"point":` + shellPoint(20, 0) + `,"energies":[500],"pitch_angle":45}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   kindOpenFieldLine,
		},
		{
			name:       "mirror below reference surface",
			path:       "/api/v1/mirror-altitude",
			body:       `{"point":` + shellPoint(4, 30) + `,"reference_radius":3.5}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   kindMirrorBelowSurface,
		},
		{
			name:       "bad time",
			path:       "/api/v1/bounce-period",
			body:       `{"point":{"time":"not a time","x1":4,"x2":0,"x3":0},"energies":[500]}`,
			wantStatus: http.StatusBadRequest,
			wantKind:   kindInvalidInput,
		},
		{
			name:       "unknown maginput key",
			path:       "/api/v1/mirror-altitude",
			body:       `{"point":` + shellPoint(4, 30) + `,"maginput":{"Kpp":40}}`,
			wantStatus: http.StatusBadRequest,
			wantKind:   kindInvalidInput,
		},
		{
			name:       "duplicate maginput key",
			path:       "/api/v1/bounce-period",
			body:       `{"point":` + shellPoint(4, 30) + `,"energies":[500],"maginput":{"Kp":40,"kp":10}}`,
			wantStatus: http.StatusBadRequest,
			wantKind:   kindInvalidInput,
		},
		{
			name:       "malformed body",
			path:       "/api/v1/bounce-period",
			body:       `{"point":`,
			wantStatus: http.StatusBadRequest,
			wantKind:   kindInvalidInput,
		},
		{
			name:       "unknown field",
			path:       "/api/v1/lstar",
			body:       `{"points":[],"extra":1}`,
			wantStatus: http.StatusBadRequest,
			wantKind:   kindInvalidInput,
		},
		{
			name:       "no energies",
			path:       "/api/v1/bounce-period",
			body:       `{"point":` + shellPoint(4, 30) + `}`,
			wantStatus: http.StatusBadRequest,
			wantKind:   kindInvalidInput,
		},
		{
			name:       "bad pitch angle",
			path:       "/api/v1/mirror-point",
			body:       `{"point":` + shellPoint(4, 30) + `,"pitch_angle":0}`,
			wantStatus: http.StatusBadRequest,
			wantKind:   kindInvalidInput,
		},
		{
			name:       "bad hemisphere",
			path:       "/api/v1/foot-point",
			body:       `{"point":` + shellPoint(4, 30) + `,"stop_alt":100,"hemisphere":"east"}`,
			wantStatus: http.StatusBadRequest,
			wantKind:   kindInvalidInput,
		},
		{
			name:       "unsupported transform",
			path:       "/api/v1/coords/transform",
			body:       `{"times":["2015-02-02T06:12:43Z"],"positions":[[2,0,0]],"from":"GEO","to":"GSM"}`,
			wantStatus: http.StatusNotImplemented,
			wantKind:   kindUnsupported,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := post(t, h, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %v)", w.Code, tt.wantStatus, resp)
			}
			if resp["kind"] != tt.wantKind {
				t.Errorf("kind = %v, want %s", resp["kind"], tt.wantKind)
			}
			if resp["error"] == nil {
				t.Error("expected error field in response")
			}
		})
	}
}

func TestBatchEndpoint(t *testing.T) {
	h := testHandler(t, auth.Config{})
	body := `{"queries":[` +
		`{"point":` + shellPoint(4, 30) + `,"energies":[500]},` +
		`{"point":` + shellPoint(20, 0) + `,"energies":[500],"pitch_angle":45},` +
		`{"point":` + shellPoint(5, 20) + `,"energies":[500]}]}`

	w, resp := post(t, h, "/api/v1/bounce-period/batch", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", w.Code, resp)
	}
	results := resp["results"].([]any)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if resp["failed"] != 1.0 {
		t.Errorf("failed = %v, want 1", resp["failed"])
	}
	for _, i := range []int{0, 2} {
		item := results[i].(map[string]any)
		if _, ok := item["periods"]; !ok {
			t.Errorf("result %d has no periods: %v", i, item)
		}
	}
	bad := results[1].(map[string]any)
	if bad["kind"] != kindOpenFieldLine {
		t.Errorf("result 1 kind = %v, want %s", bad["kind"], kindOpenFieldLine)
	}
}

func TestMirrorAltitudeEndpoint(t *testing.T) {
	h := testHandler(t, auth.Config{})
	w, resp := post(t, h, "/api/v1/mirror-altitude", `{"point":`+shellPoint(4, 30)+`}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", w.Code, resp)
	}
	alt := resp["altitude_km"].(float64)
	if math.Abs(alt-2*bounce.EarthRadiusKm) > 1 {
		t.Errorf("altitude = %v km, want about %v km", alt, 2*bounce.EarthRadiusKm)
	}
}

func TestFieldRoutines(t *testing.T) {
	h := testHandler(t, auth.Config{})

	tests := []struct {
		name    string
		path    string
		body    string
		wantKey string
	}{
		{"trace", "/api/v1/trace-field-line", `{"point":` + shellPoint(4, 30) + `}`, "points"},
		{"lstar", "/api/v1/lstar", `{"points":[` + shellPoint(4, 30) + `,` + shellPoint(5, 0) + `]}`, "results"},
		{"field", "/api/v1/field", `{"points":[` + shellPoint(4, 30) + `],"maginput":{"Kp":40}}`, "results"},
		{"mirror point", "/api/v1/mirror-point", `{"point":` + shellPoint(4, 0) + `,"pitch_angle":45}`, "geo"},
		{"foot point", "/api/v1/foot-point", `{"point":` + shellPoint(4, 30) + `,"stop_alt":100,"hemisphere":"north"}`, "gdz"},
		{"magequator", "/api/v1/magequator", `{"point":` + shellPoint(4, 30) + `}`, "bmin"},
		{"mlt", "/api/v1/mlt", `{"point":` + shellPoint(4, 0) + `}`, "mlt"},
		{"drift shell", "/api/v1/drift-shell", `{"point":` + shellPoint(4, 30) + `}`, "lines"},
		{"transform", "/api/v1/coords/transform", `{"times":["2015-02-02T06:12:43Z"],"positions":[[2,0,0]],"from":"GEO","to":"SPH"}`, "positions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := post(t, h, tt.path, tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %v", w.Code, resp)
			}
			if resp[tt.wantKey] == nil {
				t.Errorf("response has no %q: %v", tt.wantKey, resp)
			}
		})
	}
}

// fillBackend answers like the dipole but plants the library's bad-data
// value in one drift line sample and one trace sample.
type fillBackend struct {
	*dipole.Backend
}

func (b fillBackend) DriftShell(c *irbem.DriftShellCall) error {
	if err := b.Backend.DriftShell(c); err != nil {
		return err
	}
	c.Blocal[0][3] = -1e31
	c.Posit[0][2][1] = -1e31
	return nil
}

func (b fillBackend) TraceFieldLine(c *irbem.TraceCall) error {
	if err := b.Backend.TraceFieldLine(c); err != nil {
		return err
	}
	c.Blocal[1] = -1e31
	return nil
}

func TestFillValuesAreNull(t *testing.T) {
	h := NewServer(DefaultConfig(), backendServices(t, fillBackend{dipole.New()}), testLogger(), auth.Config{}).Handler()

	w, resp := post(t, h, "/api/v1/drift-shell", `{"point":`+shellPoint(4, 30)+`}`)
	if w.Code != http.StatusOK {
		t.Fatalf("drift shell status = %d, body %v", w.Code, resp)
	}
	line := resp["lines"].([]any)[0].(map[string]any)
	b := line["b"].([]any)
	if b[3] != nil || b[2] == nil {
		t.Errorf("drift line b[2..3] = %v, want value then null", b[2:4])
	}
	pt := line["points"].([]any)[2].([]any)
	if pt[1] != nil || pt[0] == nil {
		t.Errorf("drift line point 2 = %v, want y null", pt)
	}

	w, resp = post(t, h, "/api/v1/trace-field-line", `{"point":`+shellPoint(4, 30)+`}`)
	if w.Code != http.StatusOK {
		t.Fatalf("trace status = %d, body %v", w.Code, resp)
	}
	if tb := resp["b"].([]any); tb[1] != nil || tb[0] == nil {
		t.Errorf("trace b[0..1] = %v, want value then null", tb[:2])
	}
}

func TestLstarOpenLineIsNull(t *testing.T) {
	h := testHandler(t, auth.Config{})
	w, resp := post(t, h, "/api/v1/lstar", `{"points":[`+shellPoint(20, 0)+`]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", w.Code, resp)
	}
	res := resp["results"].([]any)[0].(map[string]any)
	if res["lm"] != nil {
		t.Errorf("lm = %v, want null for an open line", res["lm"])
	}
	if res["blocal"] == nil {
		t.Error("blocal should be set even on an open line")
	}
}

func TestModelsEndpoint(t *testing.T) {
	h := testHandler(t, auth.Config{Enabled: true, Token: "s3cret"})
	req := httptest.NewRequest("GET", "/api/v1/models", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp modelsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Backend != "dipole" || resp.Kext != "None" || resp.Sysaxes != "GEO" {
		t.Errorf("models = %+v", resp)
	}
	if len(resp.CoordSystems) != 9 || len(resp.MagInputKeys) != 25 {
		t.Errorf("got %d systems and %d maginput keys", len(resp.CoordSystems), len(resp.MagInputKeys))
	}
}

func TestAuthRequired(t *testing.T) {
	h := testHandler(t, auth.Config{Enabled: true, Token: "s3cret"})
	body := `{"point":` + shellPoint(4, 30) + `}`

	w, _ := post(t, h, "/api/v1/mirror-altitude", body)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("without token: status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest("POST", "/api/v1/mirror-altitude", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with token: status = %d, want 200", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	h := testHandler(t, auth.Config{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (%q)", w.Code, w.Body.String())
	}
}

func TestComputeLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentPerIP = 1
	h := &handlers{
		cfg:     cfg,
		svc:     testServices(t),
		limiter: newComputeLimiter(cfg.MaxConcurrentPerIP, cfg.MaxConcurrentTotal),
		logger:  testLogger(),
	}

	// httptest requests come from 192.0.2.1; hold its only slot.
	if !h.limiter.acquire("192.0.2.1") {
		t.Fatal("acquire failed")
	}
	req := httptest.NewRequest("POST", "/api/v1/mirror-altitude", strings.NewReader(`{"point":`+shellPoint(4, 30)+`}`))
	w := httptest.NewRecorder()
	h.mirrorAltitude(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	h.limiter.release("192.0.2.1")
	req = httptest.NewRequest("POST", "/api/v1/mirror-altitude", strings.NewReader(`{"point":`+shellPoint(4, 30)+`}`))
	w = httptest.NewRecorder()
	h.mirrorAltitude(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("after release: status = %d, want 200", w.Code)
	}
	if got := h.limiter.count("192.0.2.1"); got != 0 {
		t.Errorf("slot not released: count = %d", got)
	}
}

func TestComputeLimiter(t *testing.T) {
	l := newComputeLimiter(2, 3)
	if !l.acquire("a") || !l.acquire("a") {
		t.Fatal("first two acquires for a should succeed")
	}
	if l.acquire("a") {
		t.Error("third acquire for a should fail")
	}
	if !l.acquire("b") {
		t.Error("acquire for b should succeed")
	}
	if l.acquire("c") {
		t.Error("global limit should reject c")
	}
	l.release("a")
	if !l.acquire("c") {
		t.Error("c should fit after a release")
	}
	l.release("a")
	l.release("b")
	l.release("c")
	if l.count("a") != 0 || l.total != 0 {
		t.Errorf("limiter not empty: a=%d total=%d", l.count("a"), l.total)
	}
}
