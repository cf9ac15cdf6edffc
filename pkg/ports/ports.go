package ports

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-logr/logr"
	"github.com/gofrs/flock"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
)

var ErrNoFreeRange = errors.New("no free port range")
var ErrRangeExhausted = errors.New("port range exhausted")

// Allocator hands out port ranges guarded by lock files, so concurrent
// harness runs on one host never share a listen port.
type Allocator struct {
	LockDir    string
	Start      int
	RangeSize  int
	RangeCount int
	// CheckBind verifies that each port of a claimed range is free.
	CheckBind bool
}

func NewAllocator(lockDir string) *Allocator {
	return &Allocator{
		LockDir:    lockDir,
		Start:      consts.DefaultPortRangeStart,
		RangeSize:  consts.DefaultPortRangeSize,
		RangeCount: consts.DefaultPortRangeCount,
		CheckBind:  true,
	}
}

// Range is a claimed block of ports.
type Range struct {
	Start int
	Size  int

	mu   sync.Mutex
	next int
	lock *flock.Flock
}

// Acquire claims the first free range, starting from an offset derived from
// the pid so concurrent runs rarely probe the same lock first.
func (a *Allocator) Acquire(ctx context.Context) (*Range, error) {
	logger := logr.FromContextOrDiscard(ctx)
	if err := os.MkdirAll(a.LockDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create port lock dir: %w", err)
	}
	offset := os.Getpid() % a.RangeCount
	for i := 0; i < a.RangeCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := (offset + i) % a.RangeCount
		start := a.Start + idx*a.RangeSize
		lock := flock.New(filepath.Join(a.LockDir, "range_"+strconv.Itoa(start)+".lock"))
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to lock port range %d: %w", start, err)
		}
		if !locked {
			continue
		}
		if a.CheckBind && !rangeBindable(start, a.RangeSize) {
			logger.V(1).Info("Port range is busy", "start", start)
			_ = lock.Unlock()
			continue
		}
		logger.Info("Port range acquired", "start", start, "size", a.RangeSize)
		return &Range{Start: start, Size: a.RangeSize, next: start, lock: lock}, nil
	}
	return nil, ErrNoFreeRange
}

func rangeBindable(start, size int) bool {
	for port := start; port < start+size; port++ {
		if !Bindable(port) {
			return false
		}
	}
	return true
}

// Bindable reports whether a TCP listener can be opened on the port.
func Bindable(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// Next returns the next unused port of the range.
func (r *Range) Next() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= r.Start+r.Size {
		return 0, ErrRangeExhausted
	}
	port := r.next
	r.next++
	return port, nil
}

// Take returns n consecutive ports.
func (r *Range) Take(n int) ([]int, error) {
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		p, err := r.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Contains reports whether port belongs to the range.
func (r *Range) Contains(port int) bool {
	return port >= r.Start && port < r.Start+r.Size
}

// Release unlocks the range.
func (r *Range) Release() error {
	if r.lock == nil {
		return nil
	}
	return r.lock.Unlock()
}
