package resources

import (
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"

	"github.com/delinoio/delidev/internal/domain"
)

// ParseMemoryLimit parses a human memory limit like "512m", "2g", "1024" (bytes)
// into a byte count usable by the Docker resources struct.
func ParseMemoryLimit(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	s = strings.TrimSpace(strings.ToLower(s))
	var mult int64 = 1
	switch {
	case strings.HasSuffix(s, "g"):
		mult = 1 << 30
		s = strings.TrimSuffix(s, "g")
	case strings.HasSuffix(s, "m"):
		mult = 1 << 20
		s = strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "k"):
		mult = 1 << 10
		s = strings.TrimSuffix(s, "k")
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, domain.NewValidation("memory_limit", "invalid memory limit: "+s)
	}
	return int64(val * float64(mult)), nil
}

// ParseCPULimit parses a fractional CPU count like "0.5" or "2" into a Docker
// CPU quota/period pair using a fixed 100ms period, the same convention the
// Docker CLI itself uses for --cpus.
func ParseCPULimit(s string) (quota int64, period int64, err error) {
	if s == "" {
		return 0, 0, nil
	}
	cpus, perr := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if perr != nil || cpus <= 0 {
		return 0, 0, domain.NewValidation("cpu_limit", "invalid cpu limit: "+s)
	}
	const cpuPeriod = int64(100000)
	return int64(cpus * float64(cpuPeriod)), cpuPeriod, nil
}

// ResourcesFor builds a container.Resources from human-readable memory/CPU
// limit strings, tolerating empty strings (no limit).
func ResourcesFor(memLimit, cpuLimit string) (container.Resources, error) {
	var res container.Resources
	if memLimit != "" {
		mem, err := ParseMemoryLimit(memLimit)
		if err != nil {
			return res, err
		}
		res.Memory = mem
	}
	if cpuLimit != "" {
		quota, period, err := ParseCPULimit(cpuLimit)
		if err != nil {
			return res, err
		}
		res.CPUQuota = quota
		res.CPUPeriod = period
	}
	return res, nil
}
