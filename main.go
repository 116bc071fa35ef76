package main

import (
	"fmt"
	"os"

	"github.com/tebeka/atexit"
)

func main() {
	cmd, args := "benchmark", os.Args[1:]
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "benchmark", "bench":
		err = RunBenchmarkCommand(args)
	case "power":
		err = RunPowerCommand(args)
	case "detect":
		err = RunDetectCommand(args)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		atexit.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}
	// Runs the registered handlers, e.g. the -restore power transition.
	atexit.Exit(0)
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  sgemm-powerbench [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  benchmark   Time repeated SGEMM trials and validate each result (default)")
	fmt.Println("  power       Set or query the device power regime")
	fmt.Println("  detect      Print host, accelerator and power-control information")
	fmt.Println("  help        Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  sgemm-powerbench")
	fmt.Println("  sgemm-powerbench benchmark -regime=sweep -restore")
	fmt.Println("  sgemm-powerbench benchmark -device=sim -n=128 -trials=10 -chart")
	fmt.Println("  sgemm-powerbench benchmark -baseline=cpu -n=1024")
	fmt.Println("  sgemm-powerbench power -set=constrained")
	fmt.Println("  sgemm-powerbench power -query")
	fmt.Println()
	fmt.Println("Build with -tags cuda to run on a CUDA device.")
}
