package main

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// HostInfo describes the machine driving the accelerator.
type HostInfo struct {
	OS       string
	Arch     string
	CPUModel string
	NumCPU   int
	Features []string
}

// DetectHost gathers host information. CPU features come from
// golang.org/x/sys/cpu and only matter for the CPU reference path.
func DetectHost() HostInfo {
	info := HostInfo{
		OS:     runtime.GOOS,
		Arch:   runtime.GOARCH,
		NumCPU: runtime.NumCPU(),
	}
	if info.CPUModel = cpuModel(); info.CPUModel == "" {
		info.CPUModel = "unknown " + runtime.GOARCH + " CPU"
	}

	switch runtime.GOARCH {
	case "amd64", "386":
		for _, f := range []struct {
			name string
			ok   bool
		}{
			{"sse4.2", cpu.X86.HasSSE42},
			{"avx", cpu.X86.HasAVX},
			{"avx2", cpu.X86.HasAVX2},
			{"fma", cpu.X86.HasFMA},
			{"avx512f", cpu.X86.HasAVX512F},
		} {
			if f.ok {
				info.Features = append(info.Features, f.name)
			}
		}
	case "arm64":
		for _, f := range []struct {
			name string
			ok   bool
		}{
			{"asimd", cpu.ARM64.HasASIMD},
			{"fphp", cpu.ARM64.HasFPHP},
			{"sve", cpu.ARM64.HasSVE},
			{"sve2", cpu.ARM64.HasSVE2},
		} {
			if f.ok {
				info.Features = append(info.Features, f.name)
			}
		}
	}
	return info
}

func (h HostInfo) String() string {
	features := "none"
	if len(h.Features) > 0 {
		features = strings.Join(h.Features, " ")
	}
	return fmt.Sprintf("%s/%s, %s, %d CPUs, features: %s", h.OS, h.Arch, h.CPUModel, h.NumCPU, features)
}

// neoverseParts maps ARM (implementer 0x41) part numbers to names.
var neoverseParts = map[string]string{
	"0xd0c": "ARM Neoverse N1",
	"0xd40": "ARM Neoverse V1",
	"0xd49": "ARM Neoverse N2",
	"0xd4f": "ARM Neoverse V2",
}

// parseCPUModel extracts a model name from the contents of /proc/cpuinfo.
// x86 kernels report "model name"; arm64 kernels only report implementer
// and part numbers.
func parseCPUModel(cpuinfo string) string {
	var implementer, part string
	for _, line := range strings.Split(cpuinfo, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "model name":
			return value
		case "CPU implementer":
			if implementer == "" {
				implementer = value
			}
		case "CPU part":
			if part == "" {
				part = value
			}
		}
	}
	if implementer == "" {
		return ""
	}
	if name, ok := neoverseParts[part]; ok && implementer == "0x41" {
		return name
	}
	return "ARM64 CPU (implementer: " + implementer + ", part: " + part + ")"
}
