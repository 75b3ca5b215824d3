package models

import "errors"

var ErrProcessNotFound = errors.New("process not found")

// Process statuses reported by the supervisor.
const (
	StatusOnline    = "online"
	StatusStopping  = "stopping"
	StatusStopped   = "stopped"
	StatusErrored   = "errored"
	StatusLaunching = "launching"
)

// Exec modes.
const (
	ExecModeFork    = "fork"
	ExecModeCluster = "cluster"
)

// TargetAll addresses every process known to the supervisor.
const TargetAll = "all"

// Process is the read projection of a supervised process.
type Process struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Pid       int     `json:"pid"`
	Status    string  `json:"status"`
	Script    string  `json:"script"`
	CPU       float64 `json:"cpu"`
	Memory    int64   `json:"memory"`
	Uptime    int64   `json:"uptime"`
	ExecMode  string  `json:"exec_mode"`
	Instances int     `json:"instances"`
	Restarts  int     `json:"restarts"`
}

// ProcessDetail is a Process plus the data needed to locate its logs.
type ProcessDetail struct {
	Process
	Args       []string `json:"args,omitempty"`
	Cwd        string   `json:"cwd"`
	OutLogPath string   `json:"out_log_path"`
	ErrLogPath string   `json:"err_log_path"`
}

// StartSpec is what the panel hands to the supervisor once a start request
// has been validated and its script resolved.
type StartSpec struct {
	Script    string   `json:"script"`
	Name      string   `json:"name"`
	Args      []string `json:"args,omitempty"`
	Instances int      `json:"instances"`
	ExecMode  string   `json:"exec_mode"`
	Cwd       string   `json:"cwd"`
	Env       []string `json:"env,omitempty"`
}
