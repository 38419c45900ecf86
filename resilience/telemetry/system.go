package telemetry

import (
	"runtime"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// heapAllocBytes returns the bytes of allocated heap objects right now.
func heapAllocBytes() uint64 {
	var ms runtime.MemStats

	runtime.ReadMemStats(&ms)

	return ms.HeapAlloc
}

// cpuPercentSinceLast returns the average CPU utilization across all cores
// since the previous call from any goroutine, or 0 when the reading fails.
// Calling it once to prime and again after the measured work yields the
// utilization over that window.
func cpuPercentSinceLast() float64 {
	out, err := cpu.Percent(0, false)
	if err != nil || len(out) == 0 {
		return 0
	}

	return out[0]
}

// systemMemoryPercent returns the host's used-memory percentage, or 0 when
// the reading fails.
func systemMemoryPercent() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}

	return vm.UsedPercent
}
