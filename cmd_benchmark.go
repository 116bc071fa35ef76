package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Command-line front end of the benchmark. It parses flags into a
// BenchConfig, opens the accelerator and (if a power regime was asked for)
// the device-management backend, and hands everything to the Driver.
//
// Examples:
//
//   go run -tags cuda . benchmark                       # 10240x10240, 100 trials
//   go run -tags cuda . benchmark -regime=sweep -restore
//   go run . benchmark -device=sim -n=128 -trials=10 -chart
//
// ===========================================================================

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tebeka/atexit"
)

// addPowerFlags registers the regime settings shared by the benchmark and
// power commands.
func addPowerFlags(fs *flag.FlagSet, p *PowerProfile, mgmt *string, deviceIndex *int) {
	fs.Func("low-power-mw", fmt.Sprintf("Constrained power limit in mW (default %d)", p.LowLimitMW), uint32Setter(&p.LowLimitMW))
	fs.Func("nominal-power-mw", fmt.Sprintf("Nominal power limit in mW (default %d)", p.NominalLimitMW), uint32Setter(&p.NominalLimitMW))
	fs.Func("mem-clock", fmt.Sprintf("Locked memory application clock in MHz (default %d)", p.MemClockMHz), uint32Setter(&p.MemClockMHz))
	fs.Func("gfx-clock", fmt.Sprintf("Locked graphics application clock in MHz (default %d)", p.GraphicsClockMHz), uint32Setter(&p.GraphicsClockMHz))
	fs.StringVar(mgmt, "mgmt", "auto", "Device management backend (nvml, sim, auto)")
	fs.IntVar(deviceIndex, "device-index", 0, "Accelerator device index")
}

func uint32Setter(dst *uint32) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return fmt.Errorf("not an unsigned 32-bit integer: %q", s)
		}
		*dst = uint32(v)
		return nil
	}
}

// benchFlags is the parsed benchmark command line.
type benchFlags struct {
	cfg     BenchConfig
	mgmt    string
	sizeSet bool
}

// parseBenchFlags parses args into a configuration.
func parseBenchFlags(args []string, output io.Writer) (benchFlags, error) {
	fs := flag.NewFlagSet("benchmark", flag.ContinueOnError)
	fs.SetOutput(output)

	bf := benchFlags{cfg: DefaultBenchConfig()}
	cfg := &bf.cfg

	var regime, baseline string
	fs.UintVar(&cfg.Size, "n", defaultSize, "Square matrix dimension")
	fs.IntVar(&cfg.Trials, "trials", defaultTrials, "Number of timed trials")
	fs.Int64Var(&cfg.Seed, "seed", defaultSeed, "Seed of the input generator")
	fs.Float64Var(&cfg.Tolerance, "tol", defaultTolerance, "L2 relative-error tolerance")
	fs.Float64Var(&cfg.ListTol, "list-tol", defaultListTol, "Absolute difference listed on a mismatch")
	fs.IntVar(&cfg.ListLength, "list", defaultListLength, "Number of differences listed on a mismatch")
	fs.StringVar(&cfg.Device, "device", "auto", "Accelerator backend (cuda, sim, auto)")
	fs.StringVar(&regime, "regime", string(RegimeNone), "Power phases (none, normal, constrained, sweep)")
	fs.StringVar(&baseline, "baseline", string(BaselineDevice), "Ground truth (device, cpu)")
	fs.BoolVar(&cfg.Restore, "restore", false, "Restore the normal regime when the process exits")
	fs.BoolVar(&cfg.PinHost, "pin-host", false, "mlock host buffers (Linux)")
	fs.BoolVar(&cfg.Chart, "chart", false, "Print an ASCII chart of the trial throughput")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	fs.BoolVar(&cfg.Quiet, "quiet", false, "Only print diagnostics and the summary")
	addPowerFlags(fs, &cfg.Power, &bf.mgmt, &cfg.DeviceIndex)

	if err := fs.Parse(args); err != nil {
		return bf, err
	}
	if fs.NArg() > 0 {
		return bf, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	tolSet := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "n":
			bf.sizeSet = true
		case "tol":
			tolSet = true
		}
	})

	cfg.Regime = Regime(strings.ToLower(regime))
	cfg.Baseline = BaselineMode(strings.ToLower(baseline))
	// A float64 CPU reference never matches float32 device sums bit for bit.
	if cfg.Baseline == BaselineCPU && !tolSet {
		cfg.Tolerance = defaultCPUTolerance
	}
	return bf, cfg.Validate()
}

// openManagement picks the device-management backend. auto follows the
// accelerator: the simulated device gets the simulated backend.
func openManagement(kind string, acc Accelerator) (ManagementLib, error) {
	switch strings.ToLower(kind) {
	case "nvml":
		return NewNVMLManagement()
	case "sim":
		return NewSimManagement(1), nil
	case "auto", "":
		if _, ok := acc.(*SimAccelerator); ok {
			return NewSimManagement(1), nil
		}
		return NewNVMLManagement()
	default:
		return nil, fmt.Errorf("unknown management backend %q (want nvml, sim or auto)", kind)
	}
}

// RunBenchmarkCommand is the entry point of the benchmark command.
func RunBenchmarkCommand(args []string) error {
	bf, err := parseBenchFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	return runBenchmark(bf, os.Stdout)
}

func runBenchmark(bf benchFlags, out io.Writer) error {
	cfg := bf.cfg
	rep := NewReporter(out, cfg.Quiet)

	acc, err := OpenAccelerator(cfg.Device, cfg.DeviceIndex)
	if err != nil {
		return err
	}
	defer acc.Close()

	if _, sim := acc.(*SimAccelerator); sim && !bf.sizeSet {
		cfg.Size = defaultSimSize
	}
	pinHostMemory = cfg.PinHost

	var power *PowerController
	if cfg.UsesPower() {
		lib, err := openManagement(bf.mgmt, acc)
		if err != nil {
			return fmt.Errorf("device management: %w", err)
		}
		power = NewPowerController(lib, cfg.DeviceIndex, cfg.Power)
		defer power.Close()

		// Registered handlers run from atexit.Exit, after the deferred Close,
		// so the handler initializes the library again and shuts it down.
		if cfg.Restore {
			atexit.Register(func() {
				if err := power.Restore(); err != nil {
					rep.PowerFailure(err)
				}
				_ = power.Close()
			})
		}
	}

	var metrics *Metrics
	if cfg.MetricsAddr != "" {
		metrics = NewMetrics()
		stop, err := metrics.Serve(cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer stop()
		rep.Phase("Serving metrics on %s/metrics", cfg.MetricsAddr)
	}

	rep.Banner(acc.Name(), DetectHost(), cfg)
	_, err = NewDriver(cfg, acc, power, rep, metrics).Run()
	return err
}
