// Package threadenum implements thread enumeration and stack capture
// (§4.6). The task-list reader reuses bradfitz-livecore's general
// /proc/<pid>/task directory-scan idiom (internal/proc/threads.go's
// ParseThreads) but adds the double-read stability check from
// original_source's get_task_list (the teacher never needed this check:
// it freezes every thread with ptrace before reading the task list, so
// the set cannot change out from under it; this dumper's target is
// already a dead/frozen core image streamed from the kernel, so instead
// the race is against the kernel still reaping exited threads while
// /proc/<pid>/task is being read, which is exactly the race the original
// guards against).
package threadenum

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ListTasks reads /proc/<pid>/task/, returning the sorted tid list. It
// reads the directory twice and fails if the entry count differs between
// reads (§4.6, §8 "Task-list stability"): "initialization returns an
// error rather than producing an undersized list."
func ListTasks(pid int) ([]int, error) {
	first, err := readTaskDir(pid)
	if err != nil {
		return nil, err
	}
	second, err := readTaskDir(pid)
	if err != nil {
		return nil, err
	}
	if len(first) != len(second) {
		return nil, fmt.Errorf("threadenum: task list unstable: %d then %d entries", len(first), len(second))
	}
	sort.Ints(first)
	return first, nil
}

func readTaskDir(pid int) ([]int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, fmt.Errorf("threadenum: read task dir: %w", err)
	}
	var tids []int
	for _, e := range entries {
		if tid, err := strconv.Atoi(e.Name()); err == nil {
			tids = append(tids, tid)
		}
	}
	return tids, nil
}

// StackPointer reads field 29 (kstkesp) of /proc/<pid>/task/<tid>/stat —
// the kernel stack pointer of a stopped/dead task.
func StackPointer(pid, tid int) (uintptr, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/task/%d/stat", pid, tid))
	if err != nil {
		return 0, fmt.Errorf("threadenum: read stat: %w", err)
	}
	// comm (field 2) is parenthesized and may itself contain spaces/parens;
	// resync on the last ')' before splitting the remaining fields.
	s := string(data)
	close := strings.LastIndexByte(s, ')')
	if close < 0 {
		return 0, fmt.Errorf("threadenum: malformed stat line")
	}
	rest := strings.Fields(s[close+1:])
	// rest[0] is field 3 (state); field 29 is kstkesp -> index 29-3 = 26.
	const kstkespIdx = 29 - 3
	if len(rest) <= kstkespIdx {
		return 0, fmt.Errorf("threadenum: stat line too short")
	}
	v, err := strconv.ParseUint(rest[kstkespIdx], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("threadenum: parse kstkesp: %w", err)
	}
	return uintptr(v), nil
}

// StackRange describes the lived portion of one thread's stack to
// capture: [SP, FileEnd) of its containing VMA, per §4.6, clipped to
// maxSize if non-zero.
type StackRange struct {
	Tid         int
	SP          uintptr
	Length      uint64
	Truncated   bool
}

// ComputeStackRange computes the capture range for tid's current stack
// pointer sp given the VMA's file-end, applying the max_stack_size
// truncation rule.
func ComputeStackRange(tid int, sp, vmaFileEnd uintptr, maxStackSize uint64) StackRange {
	if vmaFileEnd <= sp {
		return StackRange{Tid: tid, SP: sp, Length: 0}
	}
	length := uint64(vmaFileEnd - sp)
	truncated := false
	if maxStackSize != 0 && length > maxStackSize {
		length = maxStackSize
		truncated = true
	}
	return StackRange{Tid: tid, SP: sp, Length: length, Truncated: truncated}
}

// ReadStat is exposed for tests/tools that want the raw stat line without
// going through a real /proc mount.
func ReadStat(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if sc.Scan() {
		return sc.Text(), nil
	}
	return "", sc.Err()
}
