package cmd

import (
	"fmt"
	"os"

	"github.com/klauspost/cpuid/v2"
)

// hostInfo describes the machine a run executes on, for logs and checkpoints.
func hostInfo() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s (%s, %d cores/%d threads, avx2=%v)",
		hostname, cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, cpuid.CPU.Supports(cpuid.AVX2))
}
