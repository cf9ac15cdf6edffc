package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// CollectCores moves core files found under searchDirs into targetDir and
// returns their new paths.
func CollectCores(searchDirs []string, targetDir string) ([]string, error) {
	var moved []string
	for _, dir := range searchDirs {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() || !isCoreFile(d.Name()) {
				return nil
			}
			if err := os.MkdirAll(targetDir, 0o755); err != nil {
				return err
			}
			dst := filepath.Join(targetDir, d.Name())
			if _, err := os.Stat(dst); err == nil {
				dst = filepath.Join(targetDir, strconv.Itoa(len(moved))+"_"+d.Name())
			}
			if err := moveFile(path, dst); err != nil {
				return fmt.Errorf("failed to move core %s: %w", path, err)
			}
			moved = append(moved, dst)
			return nil
		})
		if err != nil {
			return moved, err
		}
	}
	return moved, nil
}

func isCoreFile(name string) bool {
	return name == "core" || strings.HasPrefix(name, "core.") || strings.HasSuffix(name, ".core")
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Rename fails across filesystems.
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// LeftoverProcess is a process left behind by an earlier aborted run.
type LeftoverProcess struct {
	Pid  int
	Name string
}

// FindLeftovers scans /proc for processes whose binary name starts with one
// of prefixes and that carry the supervisor marker of a run other than
// currentRunID.
func FindLeftovers(procDir string, prefixes []string, currentRunID string) ([]LeftoverProcess, error) {
	entries, err := os.ReadDir(procDir)
	if err != nil {
		return nil, err
	}
	var found []LeftoverProcess
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == os.Getpid() {
			continue
		}
		cmdline, err := os.ReadFile(filepath.Join(procDir, entry.Name(), "cmdline"))
		if err != nil || len(cmdline) == 0 {
			continue
		}
		name := filepath.Base(string(bytes.SplitN(cmdline, []byte{0}, 2)[0]))
		if !hasAnyPrefix(name, prefixes) {
			continue
		}
		environ, err := os.ReadFile(filepath.Join(procDir, entry.Name(), "environ"))
		if err != nil {
			continue
		}
		runID, marked := markerValue(environ)
		if !marked || runID == currentRunID {
			continue
		}
		found = append(found, LeftoverProcess{Pid: pid, Name: name})
	}
	return found, nil
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func markerValue(environ []byte) (string, bool) {
	prefix := []byte(MarkerEnv + "=")
	for _, kv := range bytes.Split(environ, []byte{0}) {
		if bytes.HasPrefix(kv, prefix) {
			return string(kv[len(prefix):]), true
		}
	}
	return "", false
}

// CleanupLeftovers kills leftovers of previous runs before a new
// environment starts.
func CleanupLeftovers(ctx context.Context, prefixes []string, currentRunID string) error {
	logger := logr.FromContextOrDiscard(ctx)
	leftovers, err := FindLeftovers("/proc", prefixes, currentRunID)
	if err != nil {
		return err
	}
	g, _ := errgroup.WithContext(ctx)
	for _, p := range leftovers {
		g.Go(func() error {
			logger.Info("Killing leftover process", "pid", p.Pid, "name", p.Name)
			if err := unix.Kill(p.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
				return fmt.Errorf("failed to kill leftover %s (%d): %w", p.Name, p.Pid, err)
			}
			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				if err := unix.Kill(p.Pid, 0); errors.Is(err, unix.ESRCH) {
					return nil
				}
				time.Sleep(50 * time.Millisecond)
			}
			return nil
		})
	}
	return g.Wait()
}
