// Package cpuspec picks an interpreter thread count for the host CPU.
// Hybrid desktop CPUs run inference best on their performance cores only.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec describes the host CPU.
type CPUSpec struct {
	BrandName        string
	PerformanceCores int // 0 when unknown
	LogicalCores     int
}

type coreRule struct {
	pattern *regexp.Regexp
	pCores  int
}

// Known hybrid parts. Matching is done on the lower-cased brand string.
var coreRules = []coreRule{
	{regexp.MustCompile(`i[79]-1[234][79]00`), 8},
	{regexp.MustCompile(`i5-1[234][46]00`), 6},
	{regexp.MustCompile(`i5-13500`), 6},
	{regexp.MustCompile(`i3-1[234]100`), 4},
	{regexp.MustCompile(`ultra\s+[79]\s+(processor\s+)?2[68]5`), 8},
	{regexp.MustCompile(`ultra\s+7\s+(processor\s+)?255`), 8},
	{regexp.MustCompile(`ultra\s+5\s+(processor\s+)?235`), 6},
	{regexp.MustCompile(`ultra\s+5\s+(processor\s+)?225`), 4},
	{regexp.MustCompile(`apple m1 ultra`), 16},
	{regexp.MustCompile(`apple m[23] ultra`), 24},
	{regexp.MustCompile(`apple m[1234] pro`), 8},
	{regexp.MustCompile(`apple m[234] max`), 12},
	{regexp.MustCompile(`apple m1 max`), 8},
	{regexp.MustCompile(`apple m4`), 6},
	{regexp.MustCompile(`apple m[123]\b`), 4},
}

// GetCPUSpec inspects the host CPU.
func GetCPUSpec() CPUSpec {
	brand := cpuid.CPU.BrandName
	return CPUSpec{
		BrandName:        brand,
		PerformanceCores: performanceCores(brand),
		LogicalCores:     cpuid.CPU.LogicalCores,
	}
}

func performanceCores(brand string) int {
	brand = strings.ToLower(brand)
	for _, r := range coreRules {
		if r.pattern.MatchString(brand) {
			return r.pCores
		}
	}
	return 0
}

// ThreadCount returns the number of interpreter threads to use. A positive
// configured value wins, capped at the available CPUs.
func (c CPUSpec) ThreadCount(configured int) int {
	available := runtime.NumCPU()
	switch {
	case configured > 0:
		return min(configured, available)
	case c.PerformanceCores > 0:
		return min(c.PerformanceCores, available)
	case c.LogicalCores > 0:
		return min(c.LogicalCores, available)
	default:
		return available
	}
}
