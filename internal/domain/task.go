package domain

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	EnvFileName          = ".env"
	RequirementsFileName = "requirements.txt"
)

var (
	ErrUnsafePath    = errors.New("path escapes the workspace")
	ErrDuplicatePath = errors.New("two files resolve to the same path")
)

// Task is the in-memory record of one deployment attempt. The remote
// workspace is the durable source of truth; this record only caches what the
// last deploy or log query observed.
type Task struct {
	ID          string     `json:"task_id"`
	VMID        string     `json:"vm_id"`
	Address     string     `json:"target_address"`
	RemotePath  string     `json:"remote_path"`
	LaunchMode  LaunchMode `json:"launch_mode"`
	Status      TaskStatus `json:"status"`
	PID         int        `json:"pid,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskBundle is everything uploaded for a task. It is immutable once built.
type TaskBundle struct {
	TaskID       string
	Files        map[string]string
	Environment  map[string]string
	Requirements []string
}

// WorkspacePath is the remote directory owned by taskID.
func WorkspacePath(base, taskID string) string {
	return path.Join(base, taskID)
}

func LogFileName(taskID string) string {
	return taskID + ".log"
}

func PIDFileName(taskID string) string {
	return taskID + ".pid"
}

func ExitFileName(taskID string) string {
	return taskID + ".exit"
}

// CleanRelativePath validates a caller supplied file path and returns its
// cleaned form. Empty, absolute and parent-traversing paths are rejected.
func CleanRelativePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", ErrUnsafePath
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", ErrUnsafePath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", ErrUnsafePath
		}
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == "" {
		return "", ErrUnsafePath
	}
	return cleaned, nil
}

// Validate checks every file path of the bundle. Keys that differ only in
// spelling, such as "a.py" and "./a.py", are rejected since one would
// silently overwrite the other.
func (b TaskBundle) Validate() error {
	seen := make(map[string]string, len(b.Files))
	for p := range b.Files {
		cleaned, err := CleanRelativePath(p)
		if err != nil {
			return fmt.Errorf("%w: %q", err, p)
		}
		if prev, ok := seen[cleaned]; ok {
			return fmt.Errorf("%w: %q and %q", ErrDuplicatePath, prev, p)
		}
		seen[cleaned] = p
	}
	return nil
}
