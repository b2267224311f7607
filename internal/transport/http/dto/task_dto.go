package dto

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fleecy/participant/internal/core/ports"
	"github.com/fleecy/participant/internal/domain"
)

const defaultEntryPoint = "main.py"

// DeployTaskRequest accepts either a single source file (fl_code, stored
// under entry_point) or a whole file map.
type DeployTaskRequest struct {
	VMID         string                 `json:"vm_id"`
	FLCode       string                 `json:"fl_code,omitempty"`
	EntryPoint   string                 `json:"entry_point,omitempty"`
	Files        map[string]string      `json:"files,omitempty"`
	EnvConfig    map[string]interface{} `json:"env_config"`
	Command      string                 `json:"command,omitempty"`
	Requirements []string               `json:"requirements,omitempty"`
}

func (r *DeployTaskRequest) Validate() []string {
	var errors []string

	if strings.TrimSpace(r.VMID) == "" {
		errors = append(errors, "vm_id is required")
	}
	if r.FLCode == "" && len(r.Files) == 0 {
		errors = append(errors, "either fl_code or files is required")
	}
	if r.FLCode != "" && len(r.Files) > 0 {
		if _, clash := r.Files[r.GetEntryPoint()]; clash {
			errors = append(errors, fmt.Sprintf("fl_code conflicts with files[%q]", r.GetEntryPoint()))
		}
	}
	if r.Command == "" && r.FLCode == "" && r.EntryPoint == "" {
		if _, ok := r.Files[defaultEntryPoint]; !ok {
			errors = append(errors, "entry_point or command is required when files has no main.py")
		}
	}
	for _, req := range r.Requirements {
		if strings.ContainsAny(req, "\n\r") {
			errors = append(errors, "requirements must be single-line entries")
			break
		}
	}

	return errors
}

func (r *DeployTaskRequest) GetEntryPoint() string {
	if r.EntryPoint == "" {
		return defaultEntryPoint
	}
	return r.EntryPoint
}

// ToInput builds the orchestrator input. interpreter runs the entry point
// when no explicit command is given.
func (r *DeployTaskRequest) ToInput(interpreter string) ports.DeployInput {
	files := make(map[string]string, len(r.Files)+1)
	for k, v := range r.Files {
		files[k] = v
	}
	if r.FLCode != "" {
		files[r.GetEntryPoint()] = r.FLCode
	}

	cmd := domain.EntryPointCommand(interpreter, r.GetEntryPoint())
	if strings.TrimSpace(r.Command) != "" {
		cmd = domain.ExplicitCommand(r.Command)
	}

	return ports.DeployInput{
		VMID:         r.VMID,
		Files:        files,
		Environment:  EnvironmentFromConfig(r.EnvConfig),
		Command:      cmd,
		Requirements: r.Requirements,
	}
}

// EnvironmentFromConfig renders JSON values as strings. Arrays and objects
// are re-encoded as compact JSON.
func EnvironmentFromConfig(cfg map[string]interface{}) map[string]string {
	env := make(map[string]string, len(cfg))
	for k, v := range cfg {
		switch val := v.(type) {
		case nil:
			env[k] = ""
		case string:
			env[k] = val
		case float64:
			env[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case []interface{}, map[string]interface{}:
			raw, err := json.Marshal(val)
			if err != nil {
				env[k] = fmt.Sprintf("%v", val)
				continue
			}
			env[k] = string(raw)
		default:
			env[k] = fmt.Sprintf("%v", val)
		}
	}
	return env
}

type ExecuteFlowerRequest struct {
	VMID              string                 `json:"vm_id"`
	AggregatorAddress string                 `json:"aggregator_address"`
	PartitionID       int                    `json:"partition_id"`
	NumPartitions     int                    `json:"num_partitions"`
	LocalEpochs       int                    `json:"local_epochs"`
	EnvConfig         map[string]interface{} `json:"env_config"`
	Files             map[string]string      `json:"files"`
}

func (r *ExecuteFlowerRequest) Validate() []string {
	var errors []string

	if strings.TrimSpace(r.VMID) == "" {
		errors = append(errors, "vm_id is required")
	}
	if strings.TrimSpace(r.AggregatorAddress) == "" {
		errors = append(errors, "aggregator_address is required")
	}
	if r.NumPartitions < 0 {
		errors = append(errors, "num_partitions must not be negative")
	}
	if r.LocalEpochs < 0 {
		errors = append(errors, "local_epochs must not be negative")
	}
	if len(r.Files) == 0 {
		errors = append(errors, "files is required")
	}

	return errors
}

type ExecuteLocalRequest struct {
	ServerAddress string            `json:"server_address"`
	LocalEpochs   int               `json:"local_epochs"`
	Files         map[string]string `json:"files"`
}

func (r *ExecuteLocalRequest) Validate() []string {
	var errors []string

	if strings.TrimSpace(r.ServerAddress) == "" {
		errors = append(errors, "server_address is required")
	}
	if r.LocalEpochs < 0 {
		errors = append(errors, "local_epochs must not be negative")
	}
	var missing []string
	for _, name := range []string{"client_app.py", "task.py"} {
		if _, ok := r.Files[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		errors = append(errors, "required files missing: "+strings.Join(missing, ", "))
	}

	return errors
}

func (r *ExecuteLocalRequest) ToInput() ports.LocalRunInput {
	return ports.LocalRunInput{
		Files:         r.Files,
		ServerAddress: r.ServerAddress,
		LocalEpochs:   r.LocalEpochs,
	}
}

type LocalRunResponse struct {
	*domain.LocalRun
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type VMListResponse struct {
	Status    string            `json:"status"`
	Count     int               `json:"count"`
	VMs       []domain.VMRecord `json:"vms"`
	Timestamp time.Time         `json:"timestamp"`
}

func NewVMListResponse(vms []domain.VMRecord) VMListResponse {
	if vms == nil {
		vms = []domain.VMRecord{}
	}
	return VMListResponse{
		Status:    "success",
		Count:     len(vms),
		VMs:       vms,
		Timestamp: time.Now(),
	}
}
