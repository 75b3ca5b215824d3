package supervisor

import (
	"os/exec"
	"strconv"
	"strings"
)

// sampleUsage returns resident memory in bytes and cpu percent for pid.
func sampleUsage(pid int) (int64, float64) {
	if pid <= 0 {
		return 0, 0
	}

	output, err := exec.Command("ps", "-o", "rss=,%cpu=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return 0, 0
	}
	return parseUsage(string(output))
}

func parseUsage(output string) (int64, float64) {
	fields := strings.Fields(output)
	if len(fields) < 2 {
		return 0, 0
	}

	rssKB, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, 0
	}
	cpu, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		cpu = 0
	}
	return rssKB * 1024, cpu
}
