package forecast

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/aircast/aircast/internal/models"
)

// Volume thresholds for switching to the sequential family. The
// sequential model is more accurate with enough data but memory-hungry
// and slow to train, so tighter memory raises the bar.
const (
	DefaultSequentialThreshold = 10000
	lowMemSequentialThreshold  = 20000
	minMemSequentialThreshold  = 40000

	lowMemBytes = 2 << 30 // 2 GiB
	minMemBytes = 1 << 30 // 1 GiB
)

// Select is the model selection policy: sequential only when enough
// data has accumulated and the runtime can carry a sequence model,
// otherwise the ensemble. Pure; same inputs always give the same family.
func Select(dataVolume, threshold int, sequentialCapable bool) models.ModelFamily {
	if sequentialCapable && dataVolume >= threshold {
		return models.FamilySequential
	}
	return models.FamilyEnsemble
}

// SequentialVolumeThreshold derives the minimum data volume for the
// sequential family from available memory. Zero (unknown) memory gets
// the most conservative threshold.
func SequentialVolumeThreshold(availableMemBytes uint64) int {
	switch {
	case availableMemBytes >= lowMemBytes:
		return DefaultSequentialThreshold
	case availableMemBytes >= minMemBytes:
		return lowMemSequentialThreshold
	default:
		return minMemSequentialThreshold
	}
}

// AvailableMemory reads MemAvailable from /proc/meminfo. Returns 0 on
// platforms or failures where it cannot be determined.
func AvailableMemory() uint64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}
