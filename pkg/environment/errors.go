package environment

import (
	"fmt"
	"os"
	"strings"

	"github.com/ytsaurus/ytsaurus-harness/pkg/supervisor"
	"github.com/ytsaurus/ytsaurus-harness/pkg/yterrs"
)

// DeadProcess describes a process that exited without being asked to.
type DeadProcess struct {
	Role       string
	Index      int
	Status     supervisor.ExitStatus
	StderrPath string
	StderrTail string
}

func (p DeadProcess) String() string {
	s := fmt.Sprintf("%s/%d (%s)", p.Role, p.Index, p.Status)
	if p.StderrTail != "" {
		s += ": " + p.StderrTail
	}
	return s
}

// EnvironmentUnhealthy is returned once any supervised process died.
type EnvironmentUnhealthy struct {
	Dead []DeadProcess
}

func (e *EnvironmentUnhealthy) Error() string {
	parts := make([]string, 0, len(e.Dead))
	for _, p := range e.Dead {
		parts = append(parts, p.String())
	}
	return "environment is unhealthy: " + strings.Join(parts, "; ")
}

func (e *EnvironmentUnhealthy) ErrorKind() yterrs.Kind { return yterrs.KindEnvironmentUnhealthy }

const stderrTailSize = 512

func tail(path string, size int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := max(info.Size()-size, 0)
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return ""
	}
	return strings.TrimSpace(string(buf))
}
