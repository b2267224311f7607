package domain

import (
	"fmt"
	"strings"
)

// CommandResult is what a remote command produced. A non-zero ExitStatus is
// a normal outcome, not a transport error.
type CommandResult struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// CommandSpec selects how a task is started. Exactly one mode is active.
type CommandSpec struct {
	Mode        LaunchMode `json:"mode"`
	Interpreter string     `json:"interpreter,omitempty"`
	EntryPoint  string     `json:"entry_point,omitempty"`
	Command     string     `json:"command,omitempty"`
	// Marker overrides the process-table search term.
	Marker string `json:"-"`
}

func EntryPointCommand(interpreter, entryPoint string) CommandSpec {
	return CommandSpec{Mode: LaunchModeEntryPoint, Interpreter: interpreter, EntryPoint: entryPoint}
}

func ExplicitCommand(command string) CommandSpec {
	return CommandSpec{Mode: LaunchModeCommand, Command: command}
}

func (c CommandSpec) Validate() error {
	switch c.Mode {
	case LaunchModeEntryPoint:
		if c.Interpreter == "" || c.EntryPoint == "" {
			return fmt.Errorf("entry point launch needs interpreter and entry file")
		}
		if _, err := CleanRelativePath(c.EntryPoint); err != nil {
			return fmt.Errorf("entry point %q: %w", c.EntryPoint, err)
		}
	case LaunchModeCommand:
		if strings.TrimSpace(c.Command) == "" {
			return fmt.Errorf("explicit command is empty")
		}
	default:
		return fmt.Errorf("unknown launch mode %q", c.Mode)
	}
	return nil
}

// ShellCommand is the foreground command line the workload runs as.
func (c CommandSpec) ShellCommand() string {
	if c.Mode == LaunchModeCommand {
		return c.Command
	}
	return c.Interpreter + " " + c.EntryPoint
}

// Label is the human readable form reported back to callers.
func (c CommandSpec) Label() string {
	if c.Mode == LaunchModeCommand {
		return c.Command
	}
	return c.EntryPoint
}

// ProbeToken is the process-table search term used when no pid sentinel
// exists for a task.
func (c CommandSpec) ProbeToken() string {
	if c.Marker != "" {
		return c.Marker
	}
	if c.Mode == LaunchModeCommand {
		if strings.Contains(c.Command, "flwr") {
			return "flwr"
		}
		fields := strings.Fields(c.Command)
		if len(fields) > 0 {
			return fields[0]
		}
		return ""
	}
	return c.EntryPoint
}
