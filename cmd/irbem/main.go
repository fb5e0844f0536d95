package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/PRBEM/IRBEM/internal/dipole"
	"github.com/PRBEM/IRBEM/internal/irbem"
	"github.com/PRBEM/IRBEM/internal/irbem/native"
	"github.com/PRBEM/IRBEM/internal/maginput"
	"github.com/PRBEM/IRBEM/internal/spacetime"
)

var rootCmd = &cobra.Command{
	Use:   "irbem",
	Short: "Magnetic field model queries and bounce period estimates",
	Long: `Query a magnetic field backend for one point and print the result as JSON.

The point is given with --time and --x1/--x2/--x3 in the --sysaxes system.
Model inputs are passed as --maginput Kp=40,Dst=-20.

Examples:
  irbem bounce-period --time 2015-02-02T06:12:43Z --sysaxes GEO --x1 2.6 --x3 1.5 --energies 200,500
  irbem mirror-altitude --backend native --lib /opt/irbem/libirbem.so --kext T89 --maginput Kp=30 \
      --time 2015-02-02T06:12:43Z --x1 651 --x2 63 --x3 15.9
`,
	SilenceUsage: true,
}

// Flags shared by every subcommand.
var (
	flagBackend  string
	flagLibPath  string
	flagMaxL     float64
	flagKext     string
	flagSysaxes  string
	flagOptions  string
	flagTime     string
	flagX        [3]float64
	flagMagInput map[string]string
	flagVerbose  bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagBackend, "backend", "dipole", "Field backend (dipole, native)")
	pf.StringVar(&flagLibPath, "lib", "libirbem.so", "Path to the IRBEM shared library for --backend native")
	pf.Float64Var(&flagMaxL, "dipole-max-l", dipole.DefaultMaxL, "L above which dipole lines are open")
	pf.StringVar(&flagKext, "kext", "OPQ77", "External field model")
	pf.StringVar(&flagSysaxes, "sysaxes", "GDZ", "Coordinate system of the input point")
	pf.StringVar(&flagOptions, "options", "0,0,0,0,0", "Five comma separated model options")
	pf.StringVar(&flagTime, "time", "", "Time of the point (RFC 3339 or any common date format, UTC)")
	pf.Float64Var(&flagX[0], "x1", 0, "First coordinate")
	pf.Float64Var(&flagX[1], "x2", 0, "Second coordinate")
	pf.Float64Var(&flagX[2], "x3", 0, "Third coordinate")
	pf.StringToStringVar(&flagMagInput, "maginput", nil, "Model inputs as key=value pairs")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Log at debug level on stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// session is the state a subcommand works with.
type session struct {
	fields *irbem.MagFields
	point  spacetime.Point
	input  maginput.Input
	logger *slog.Logger
}

func (s *session) Close() error {
	return s.fields.Backend().Close()
}

// openSession builds the field client and parses the point flags.
func openSession() (*session, error) {
	logger := newLogger()

	model, err := parseModel()
	if err != nil {
		return nil, err
	}
	point, err := spacetime.ParsePoint(flagTime, flagX[0], flagX[1], flagX[2])
	if err != nil {
		return nil, fmt.Errorf("--time: %w", err)
	}
	input, err := parseMagInput(flagMagInput)
	if err != nil {
		return nil, fmt.Errorf("--maginput: %w", err)
	}

	var backend irbem.Backend
	switch flagBackend {
	case "dipole":
		backend = dipole.New(dipole.WithMaxL(flagMaxL))
	case "native":
		backend, err = native.Open(flagLibPath)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown backend %q", flagBackend)
	}

	fields, err := irbem.NewMagFields(backend, model, logger)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return &session{fields: fields, point: point, input: input, logger: logger}, nil
}

func parseModel() (irbem.Model, error) {
	var model irbem.Model
	var err error
	if model.Kext, err = irbem.ParseKext(flagKext); err != nil {
		return model, fmt.Errorf("--kext: %w", err)
	}
	if model.Sysaxes, err = spacetime.ParseCoordSystem(flagSysaxes); err != nil {
		return model, fmt.Errorf("--sysaxes: %w", err)
	}
	if model.Options, err = irbem.ParseOptions(flagOptions); err != nil {
		return model, fmt.Errorf("--options: %w", err)
	}
	return model, model.Validate()
}

func parseMagInput(kv map[string]string) (maginput.Input, error) {
	m := make(map[string]float64, len(kv))
	for k, v := range kv {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return maginput.Input{}, fmt.Errorf("%s: %w", k, err)
		}
		m[k] = f
	}
	return maginput.FromMap(m)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
