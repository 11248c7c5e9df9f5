// Package robustlist implements the robust-mutex list walker (§4.7): it
// invokes the raw get_robust_list(2) syscall to locate the futex robust
// list head in the target, then follows list.next until the walk returns
// to the start. Grounded on golang.org/x/sys/unix's raw-syscall pattern
// (bradfitz-livecore/internal/copy/workers.go uses unix.Syscall-style raw
// calls for process_vm_readv the same way); get_robust_list has no
// wrapper in x/sys/unix, so it is invoked via unix.Syscall6 with the
// architecture's syscall number, matching how the original calls the
// syscall directly via syscall(2) since glibc never wrapped it either.
package robustlist

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kraj/minicoredumper/internal/remote"
)

// sysGetRobustList is the x86-64 syscall number for get_robust_list(2).
const sysGetRobustList = 274

// robustListSize is sizeof(struct robust_list_head) on x86-64: a
// robust_list (8 bytes next pointer), futex_offset (8 bytes, long), and
// list_op_pending (8 bytes pointer).
const robustListSize = 24

// HeadSize is the exported form of robustListSize, for callers that need
// to dump the head structure itself (§4.7) rather than just validate it.
const HeadSize = robustListSize

// Head is the raw struct robust_list_head as read from the target.
type Head struct {
	Addr          uintptr
	List          uintptr // head.list.next
	FutexOffset   int64
	ListOpPending uintptr
}

// GetHead issues get_robust_list(pid, &head_ptr, &len_ptr) and returns the
// address of the target's robust_list_head, or ok=false if the kernel
// reports none (head null or length mismatch per §4.7: "if head is null
// or len is wrong, stop").
func GetHead(pid int) (addr uintptr, ok bool, err error) {
	var headPtr uintptr
	var lenVal uintptr
	_, _, errno := unix.Syscall6(sysGetRobustList, uintptr(pid),
		uintptr(unsafe.Pointer(&headPtr)), uintptr(unsafe.Pointer(&lenVal)), 0, 0, 0)
	if errno != 0 {
		return 0, false, fmt.Errorf("robustlist: get_robust_list: %w", errno)
	}
	if headPtr == 0 || lenVal != robustListSize {
		return 0, false, nil
	}
	return headPtr, true, nil
}

// Walk follows the circular robust-futex list starting at headAddr,
// calling visit(nodeAddr) for every node after the head (the head itself
// is not visited), stopping on a null next or when a node's next equals
// the head (§4.7, §8
// "Robust-list termination": "total dumped bytes <= max_nodes *
// sizeof(robust_list)"). maxNodes bounds the walk defensively even though
// the termination condition should always fire first.
func Walk(mem *remote.Reader, headAddr uintptr, maxNodes int, visit func(nodeAddr uintptr) error) error {
	if maxNodes <= 0 {
		maxNodes = 100000
	}
	node, err := mem.ReadUint64(headAddr)
	if err != nil {
		return fmt.Errorf("robustlist: read head.list.next: %w", err)
	}
	start := headAddr
	cur := uintptr(node)
	for i := 0; i < maxNodes && cur != 0 && cur != start; i++ {
		if err := visit(cur); err != nil {
			return err
		}
		next, err := mem.ReadUint64(cur)
		if err != nil {
			return fmt.Errorf("robustlist: read node.next: %w", err)
		}
		cur = uintptr(next)
	}
	return nil
}
