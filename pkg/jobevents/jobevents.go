// Package jobevents implements a filesystem rendezvous between the harness
// and user job processes. A job reaching a breakpoint atomically creates a
// sentinel file and blocks until a per-job release file appears. On resume the
// job removes both files, so the next hit of the same breakpoint blocks again.
package jobevents

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"github.com/ytsaurus/ytsaurus-harness/pkg/consts"
	"github.com/ytsaurus/ytsaurus-harness/pkg/wait"
)

const (
	DefaultBreakpoint = "default"
	DefaultTimeout    = time.Minute

	pollInterval     = 200 * time.Millisecond
	jobPollInterval  = "0.1"
	reachedSuffix    = ".reached"
	releasedSuffix   = ".released"
	breakpointPrefix = "breakpoint_"
	eventPrefix      = "event_"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// JobEvents is shared by the harness and every job that knows Dir.
type JobEvents struct {
	Dir string
}

// New creates the rendezvous directory.
func New(dir string) (*JobEvents, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("failed to create job events dir: %w", err)
	}
	// Jobs may run under a different user.
	if err := os.Chmod(dir, 0o777); err != nil {
		return nil, err
	}
	return &JobEvents{Dir: dir}, nil
}

// Env returns the environment entry that points jobs at the directory.
func (e *JobEvents) Env() string {
	return consts.EnvJobEventsPath + "=" + e.Dir
}

func checkName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid job event name %q", name)
	}
	return nil
}

func (e *JobEvents) reachedPath(name, jobID string) string {
	return filepath.Join(e.Dir, breakpointPrefix+name+"_"+jobID+reachedSuffix)
}

func (e *JobEvents) releasedPath(name, jobID string) string {
	return filepath.Join(e.Dir, breakpointPrefix+name+"_"+jobID+releasedSuffix)
}

func (e *JobEvents) eventPath(name string) string {
	return filepath.Join(e.Dir, eventPrefix+name)
}

// BreakpointCmd returns a shell snippet for a job command. The job id comes
// from YT_JOB_ID, falling back to the shell pid. The sentinel is removed
// before the release file so that the harness never sees a released job as
// stopped.
func (e *JobEvents) BreakpointCmd(name string) string {
	if name == "" {
		name = DefaultBreakpoint
	}
	if err := checkName(name); err != nil {
		panic(err)
	}
	prefix := shellQuote(filepath.Join(e.Dir, breakpointPrefix+name+"_"))
	reached := prefix + `"$job_id"` + reachedSuffix
	released := prefix + `"$job_id"` + releasedSuffix
	return fmt.Sprintf(
		`(job_id="${%s:-$$}"; set -C; : > %s 2>/dev/null; while [ ! -e %s ]; do sleep %s; done; rm -f %s; rm -f %s)`,
		consts.EnvJobID, reached, released, jobPollInterval, reached, released,
	)
}

// NotifyEventCmd returns a shell snippet raising the event from a job.
func (e *JobEvents) NotifyEventCmd(name string) string {
	if err := checkName(name); err != nil {
		panic(err)
	}
	return fmt.Sprintf(`(set -C; : > %s 2>/dev/null; true)`, shellQuote(e.eventPath(name)))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// NotifyEvent raises the event from the harness side.
func (e *JobEvents) NotifyEvent(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	return createExclusive(e.eventPath(name))
}

// createExclusive creates path with O_EXCL; an existing file is not an error.
func createExclusive(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o666)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return err
	}
	return f.Close()
}

// WaitEvent blocks until the event was raised.
func (e *JobEvents) WaitEvent(ctx context.Context, name string, timeout time.Duration) error {
	if err := checkName(name); err != nil {
		return err
	}
	path := e.eventPath(name)
	return e.watch(ctx, timeout, fmt.Sprintf("event %q", name), func() (bool, error) {
		_, err := os.Stat(path)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	})
}

// reachedJobs lists jobs that reached the breakpoint and were not released.
func (e *JobEvents) reachedJobs(name string) ([]string, error) {
	entries, err := os.ReadDir(e.Dir)
	if err != nil {
		return nil, err
	}
	prefix := breakpointPrefix + name + "_"
	var jobs []string
	for _, entry := range entries {
		fileName := entry.Name()
		if !strings.HasPrefix(fileName, prefix) || !strings.HasSuffix(fileName, reachedSuffix) {
			continue
		}
		jobID := strings.TrimSuffix(strings.TrimPrefix(fileName, prefix), reachedSuffix)
		if _, err := os.Stat(e.releasedPath(name, jobID)); err == nil {
			continue
		}
		jobs = append(jobs, jobID)
	}
	slices.Sort(jobs)
	return jobs, nil
}

// WaitBreakpoint blocks until at least jobCount distinct jobs are stopped at
// the breakpoint and returns their ids. Released jobs are never returned.
func (e *JobEvents) WaitBreakpoint(ctx context.Context, name string, jobCount int, timeout time.Duration) ([]string, error) {
	if name == "" {
		name = DefaultBreakpoint
	}
	if err := checkName(name); err != nil {
		return nil, err
	}
	if jobCount <= 0 {
		jobCount = 1
	}
	var jobs []string
	err := e.watch(ctx, timeout, fmt.Sprintf("%d jobs at breakpoint %q", jobCount, name), func() (bool, error) {
		var err error
		jobs, err = e.reachedJobs(name)
		if err != nil {
			return false, err
		}
		return len(jobs) >= jobCount, nil
	})
	if err != nil {
		return nil, err
	}
	logr.FromContextOrDiscard(ctx).Info("Jobs reached breakpoint", "breakpoint", name, "jobs", jobs)
	return jobs, nil
}

// ReleaseBreakpoint resumes the given jobs, or every job currently stopped
// at the breakpoint when none are given.
func (e *JobEvents) ReleaseBreakpoint(name string, jobIDs ...string) error {
	if name == "" {
		name = DefaultBreakpoint
	}
	if err := checkName(name); err != nil {
		return err
	}
	if len(jobIDs) == 0 {
		var err error
		jobIDs, err = e.reachedJobs(name)
		if err != nil {
			return err
		}
	}
	var errs []error
	for _, id := range jobIDs {
		if err := createExclusive(e.releasedPath(name, id)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// watch evaluates check whenever the directory changes, with a polling
// fallback for filesystems without inotify.
func (e *JobEvents) watch(ctx context.Context, timeout time.Duration, description string, check func() (bool, error)) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		watcher = nil
	} else if err := watcher.Add(e.Dir); err != nil {
		_ = watcher.Close()
		watcher = nil
	}
	if watcher != nil {
		defer watcher.Close()
	}

	changed := make(chan struct{}, 1)
	stop := make(chan struct{})
	defer close(stop)
	if watcher != nil {
		go func() {
			for {
				select {
				case <-stop:
					return
				case _, ok := <-watcher.Events:
					if !ok {
						return
					}
					select {
					case changed <- struct{}{}:
					default:
					}
				case _, ok := <-watcher.Errors:
					if !ok {
						return
					}
				}
			}
		}()
	}

	return wait.Wait(ctx, func(ctx context.Context) (bool, error) {
		ok, err := check()
		if ok || err != nil {
			return ok, err
		}
		select {
		case <-changed:
		case <-ctx.Done():
		case <-time.After(pollInterval):
		}
		return false, nil
	}, wait.WithTimeout(timeout), wait.WithInterval(time.Millisecond), wait.WithDescription("%s", description))
}
