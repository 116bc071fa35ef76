package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// RunDetectCommand prints what the benchmark would run on: the host, the
// accelerator the given backend resolves to and the management backend.
func RunDetectCommand(args []string) error {
	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	device := fs.String("device", "auto", "Accelerator backend (cuda, sim, auto)")
	mgmt := fs.String("mgmt", "auto", "Device management backend (nvml, sim, auto)")
	index := fs.Int("device-index", 0, "Accelerator device index")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	return runDetect(os.Stdout, *device, *mgmt, *index)
}

func runDetect(out io.Writer, device, mgmt string, index int) error {
	fmt.Fprintln(out, "=== Hardware Detection ===")
	fmt.Fprintln(out)

	host := DetectHost()
	fmt.Fprintf(out, "Operating System: %s\n", host.OS)
	fmt.Fprintf(out, "Architecture:     %s\n", host.Arch)
	fmt.Fprintf(out, "CPU Model:        %s\n", host.CPUModel)
	fmt.Fprintf(out, "CPU Cores:        %d\n", host.NumCPU)
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Features:\n")
	if len(host.Features) == 0 {
		fmt.Fprintf(out, "  (none detected)\n")
	}
	for _, f := range host.Features {
		fmt.Fprintf(out, "  ✓ %s\n", f)
	}
	fmt.Fprintln(out)

	acc, err := OpenAccelerator(device, index)
	if err != nil {
		fmt.Fprintf(out, "Accelerator:      unavailable (%v)\n", err)
	} else {
		fmt.Fprintf(out, "Accelerator:      %s\n", acc.Name())
		if _, sim := acc.(*SimAccelerator); sim {
			fmt.Fprintf(out, "                  (CUDA not available, benchmark runs on the simulator)\n")
		}
		if err := acc.Close(); err != nil {
			return err
		}
	}

	lib, err := openManagement(mgmt, acc)
	if err != nil {
		fmt.Fprintf(out, "Power control:    unavailable (%v)\n", err)
		return nil
	}
	ctl := NewPowerController(lib, index, DefaultPowerProfile())
	defer ctl.Close()
	name, err := ctl.DeviceName()
	if err != nil {
		fmt.Fprintf(out, "Power control:    unavailable (%v)\n", err)
		return nil
	}
	mw, err := ctl.PowerLimit()
	if err != nil {
		fmt.Fprintf(out, "Power control:    unavailable (%v)\n", err)
		return nil
	}
	p := ctl.Profile()
	fmt.Fprintf(out, "Power control:    %s\n", name)
	fmt.Fprintf(out, "Power limit:      %d mW\n", mw)
	fmt.Fprintf(out, "Regimes:          normal %d mW, constrained %d mW at %d/%d MHz\n",
		p.NominalLimitMW, p.LowLimitMW, p.MemClockMHz, p.GraphicsClockMHz)
	return nil
}
