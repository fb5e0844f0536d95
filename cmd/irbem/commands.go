package main

import (
	"context"
	"math"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/PRBEM/IRBEM/internal/bounce"
	"github.com/PRBEM/IRBEM/internal/maginput"
	"github.com/PRBEM/IRBEM/internal/spacetime"
)

var bouncePeriodCmd = &cobra.Command{
	Use:   "bounce-period",
	Short: "Estimate the bounce period at the point for one or more energies",
	Long: `Trace the field line through the point, locate the mirror points of a
particle with the given local pitch angle and integrate 1/v_parallel along
the path between them. Periods are printed in seconds, one per energy (keV).`,
	Args: cobra.NoArgs,
	RunE: runBouncePeriod,
}

var mirrorAltitudeCmd = &cobra.Command{
	Use:   "mirror-altitude",
	Short: "Altitude (km) of the mirror point of a locally mirroring particle",
	Args:  cobra.NoArgs,
	RunE:  runMirrorAltitude,
}

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Trace the field line through the point",
	Args:  cobra.NoArgs,
	RunE:  runTrace,
}

var lstarCmd = &cobra.Command{
	Use:   "lstar",
	Short: "L, L*, Blocal, Bmin, I and MLT at the point",
	Args:  cobra.NoArgs,
	RunE:  runLstar,
}

var (
	bpEnergies   []float64
	bpPitchAngle float64
	bpRestEnergy float64
	bpResample   int
	refRadius    float64
)

func init() {
	rootCmd.AddCommand(bouncePeriodCmd)
	rootCmd.AddCommand(mirrorAltitudeCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(lstarCmd)

	def := bounce.DefaultOptions()
	bouncePeriodCmd.Flags().Float64SliceVar(&bpEnergies, "energies", nil, "Kinetic energies in keV (e.g., 200,500,1000)")
	bouncePeriodCmd.Flags().Float64Var(&bpPitchAngle, "pitch-angle", def.PitchAngle, "Local pitch angle in degrees")
	bouncePeriodCmd.Flags().Float64Var(&bpRestEnergy, "rest-energy", def.RestEnergy, "Particle rest energy in keV")
	bouncePeriodCmd.Flags().IntVar(&bpResample, "resample", def.ResampleCount, "Points the path is resampled at")
	bouncePeriodCmd.MarkFlagRequired("energies")

	for _, c := range []*cobra.Command{bouncePeriodCmd, mirrorAltitudeCmd, traceCmd} {
		c.Flags().Float64Var(&refRadius, "r0", def.ReferenceRadius, "Reference radius in Re where the trace stops")
	}
}

// commandContext is cancelled on interrupt.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

// num maps NaN to null in the printed JSON.
func num(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

type bounceOutput struct {
	Energies     []float64 `json:"energies"`
	Periods      []float64 `json:"periods"`
	MirrorB      float64   `json:"mirror_b"`
	BouncePoints struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"bounce_points"`
	Warnings []string `json:"warnings,omitempty"`
}

func runBouncePeriod(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	est := bounce.NewEstimator(s.fields, s.logger)
	res, err := est.BouncePeriod(ctx, s.point, s.input, bpEnergies,
		bounce.WithPitchAngle(bpPitchAngle),
		bounce.WithRestEnergy(bpRestEnergy),
		bounce.WithResampleCount(bpResample),
		bounce.WithReferenceRadius(refRadius),
	)
	if err != nil {
		return err
	}

	out := bounceOutput{
		Energies: res.Energies,
		Periods:  res.Periods,
		MirrorB:  res.MirrorB,
	}
	out.BouncePoints.Start = res.Bounce.Start
	out.BouncePoints.End = res.Bounce.End
	for _, w := range res.Warnings {
		out.Warnings = append(out.Warnings, w.String())
	}
	return printJSON(out)
}

func runMirrorAltitude(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	alt, err := bounce.NewEstimator(s.fields, s.logger).MirrorPointAltitude(ctx, s.point, s.input, refRadius)
	if err != nil {
		return err
	}
	return printJSON(map[string]float64{"altitude_km": alt})
}

func runTrace(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	line, err := s.fields.TraceFieldLine(ctx, s.point, s.input, refRadius)
	if err != nil {
		return err
	}
	points := make([][3]*float64, len(line.Points))
	b := make([]*float64, len(line.B))
	for i := range line.Points {
		points[i] = [3]*float64{num(line.Points[i][0]), num(line.Points[i][1]), num(line.Points[i][2])}
		b[i] = num(line.B[i])
	}
	return printJSON(struct {
		Points [][3]*float64 `json:"points"`
		B      []*float64    `json:"b"`
		Lm     *float64      `json:"lm"`
		Bmin   *float64      `json:"bmin"`
		XJ     *float64      `json:"xj"`
	}{points, b, num(line.Lm), num(line.Bmin), num(line.XJ)})
}

func runLstar(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.fields.MakeLstar(ctx, []spacetime.Point{s.point}, []maginput.Input{s.input})
	if err != nil {
		return err
	}
	r := res[0]
	return printJSON(map[string]*float64{
		"lm":     num(r.Lm),
		"lstar":  num(r.Lstar),
		"blocal": num(r.Blocal),
		"bmin":   num(r.Bmin),
		"xj":     num(r.XJ),
		"mlt":    num(r.MLT),
	})
}
