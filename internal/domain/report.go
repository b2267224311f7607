package domain

import "time"

// DeploymentReport is returned by every deploy call, successful or not.
// Err keeps the underlying error for status mapping and is never serialized.
type DeploymentReport struct {
	TaskID        string    `json:"task_id,omitempty"`
	VMID          string    `json:"vm_id"`
	TargetAddress string    `json:"target_address,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
	EntryPoint    string    `json:"entry_point,omitempty"`
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	Output        string    `json:"output,omitempty"`
	RemotePath    string    `json:"remote_path,omitempty"`
	ProcessCheck  string    `json:"process_check,omitempty"`
	PID           int       `json:"pid,omitempty"`
	Error         string    `json:"error,omitempty"`
	Err           error     `json:"-"`
}

// LogReport carries log content and liveness. Success with a non-nil Error
// is the soft "log not there yet" outcome.
type LogReport struct {
	Success        bool       `json:"success"`
	TaskID         string     `json:"task_id"`
	VMID           string     `json:"vm_id"`
	LogContent     string     `json:"log_content"`
	ProcessRunning bool       `json:"process_running"`
	ProcessInfo    string     `json:"process_info"`
	Status         TaskStatus `json:"status"`
	ExitCode       *int       `json:"exit_code,omitempty"`
	Error          *string    `json:"error"`
	Timestamp      time.Time  `json:"timestamp"`
	Err            error      `json:"-"`
}

// LocalRun tracks a workload started on the orchestrator host itself.
type LocalRun struct {
	TaskID        string         `json:"task_id"`
	ServerAddress string         `json:"server_address"`
	LocalEpochs   int            `json:"local_epochs"`
	Dir           string         `json:"temp_dir"`
	Command       string         `json:"command"`
	Status        LocalRunStatus `json:"status"`
	PID           int            `json:"pid,omitempty"`
	ExitCode      *int           `json:"exit_code,omitempty"`
	Error         string         `json:"error,omitempty"`
	SubmittedAt   time.Time      `json:"submitted_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
