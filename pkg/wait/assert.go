package wait

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// T records assertion failures of one WaitAssert attempt. It satisfies
// both assert.TestingT and require.TestingT.
type T struct {
	mu       sync.Mutex
	messages []string
	stack    string
}

type failNow struct{}

func (t *T) Errorf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stack == "" {
		t.stack = string(debug.Stack())
	}
	t.messages = append(t.messages, fmt.Sprintf(format, args...))
}

// FailNow aborts the current attempt.
func (t *T) FailNow() {
	panic(failNow{})
}

func (t *T) Helper() {}

func (t *T) failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages) > 0
}

// WaitAssert re-runs check until it reports no assertion failures. On
// timeout the messages and stack of the last failed attempt are returned
// inside WaitFailed, so the report points at the failing assertion.
func WaitAssert(ctx context.Context, check func(t *T), opts ...Option) error {
	o := buildOptions(opts)
	var last *T
	_, err := poll(ctx, o, func(ctx context.Context, _ *Observer) (bool, error) {
		t := &T{}
		func() {
			defer func() {
				if r := recover(); r != nil {
					if _, ok := r.(failNow); !ok {
						panic(r)
					}
				}
			}()
			check(t)
		}()
		if t.failed() {
			last = t
			return false, nil
		}
		return true, nil
	})
	if failed, ok := err.(*WaitFailed); ok && last != nil {
		failed.Messages = last.messages
		failed.Stack = last.stack
	}
	return err
}
