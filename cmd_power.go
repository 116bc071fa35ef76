package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// RunPowerCommand moves a device between power regimes without running the
// benchmark, or queries its current power limit.
//
//	go run . power -set=constrained
//	go run . power -set=normal
//	go run . power -query
func RunPowerCommand(args []string) error {
	return runPower(args, os.Stdout, os.Stderr)
}

func runPower(args []string, out, errOut io.Writer) error {
	fs := flag.NewFlagSet("power", flag.ContinueOnError)
	fs.SetOutput(errOut)

	profile := DefaultPowerProfile()
	var mgmt, set string
	var deviceIndex int
	var query bool
	fs.StringVar(&set, "set", "", "Target regime (normal, constrained)")
	fs.BoolVar(&query, "query", false, "Print the current power limit")
	addPowerFlags(fs, &profile, &mgmt, &deviceIndex)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if set == "" && !query {
		fs.Usage()
		return errors.New("nothing to do: pass -set or -query")
	}

	var target PowerState
	if set != "" {
		var err error
		if target, err = ParsePowerState(set); err != nil {
			return err
		}
		if err := profile.Validate(); err != nil {
			return err
		}
	}

	lib, err := openManagement(mgmt, nil)
	if err != nil {
		return fmt.Errorf("device management: %w", err)
	}
	ctl := NewPowerController(lib, deviceIndex, profile)
	defer ctl.Close()

	if set != "" {
		if err := ctl.Transition(target); err != nil {
			return err
		}
		fmt.Fprintf(out, "Device %d set to %s power\n", ctl.Device(), target)
	}
	if query {
		mw, err := ctl.PowerLimit()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Device %d power limit: %d mW (%.1f W)\n", ctl.Device(), mw, float64(mw)/1000)
	}
	return nil
}
