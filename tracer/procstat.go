package tracer

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// clockTicksPerSecond is USER_HZ, the unit /proc/<pid>/stat's utime/stime
// fields are counted in. It is 100 on every kernel config judges actually
// run on (CONFIG_HZ changes the timer tick, not USER_HZ); hardcoding it
// avoids a cgo dependency on sysconf(_SC_CLK_TCK) for a value that never
// moves on these systems.
const clockTicksPerSecond = 100

// readProcCPUTime reads cumulative user+system CPU time for pid from
// /proc/<pid>/stat. Returns an error once the tracee has exited and the
// procfs entry is gone; callers treat that as "counters are now frozen",
// not as a fault.
func readProcCPUTime(pid int) (time.Duration, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}

	// comm can itself contain spaces or parens, so find the LAST ')' and
	// parse fields from there; field 3 (state) is the first token after
	// it.
	idx := bytes.LastIndexByte(data, ')')
	if idx < 0 || idx+2 >= len(data) {
		return 0, fmt.Errorf("procstat: malformed /proc/%d/stat", pid)
	}
	fields := strings.Fields(string(data[idx+2:]))
	// fields[0] is field 3 (state); utime is field 14, stime field 15.
	const utimeIdx, stimeIdx = 14 - 3, 15 - 3
	if len(fields) <= stimeIdx {
		return 0, fmt.Errorf("procstat: short /proc/%d/stat", pid)
	}
	utime, err := strconv.ParseUint(fields[utimeIdx], 10, 64)
	if err != nil {
		return 0, err
	}
	stime, err := strconv.ParseUint(fields[stimeIdx], 10, 64)
	if err != nil {
		return 0, err
	}
	ticks := utime + stime
	return time.Duration(ticks) * time.Second / clockTicksPerSecond, nil
}

// readProcPeakRSS reads VmHWM (peak resident set size) in KiB from
// /proc/<pid>/status.
func readProcPeakRSS(pid int) (int64, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "VmHWM:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("procstat: malformed VmHWM line")
		}
		return strconv.ParseInt(fields[1], 10, 64)
	}
	return 0, fmt.Errorf("procstat: VmHWM not found for pid %d", pid)
}
