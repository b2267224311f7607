package services

import "errors"

// Resolution errors
var (
	ErrVMNotFound  = errors.New("inventory: vm not found")
	ErrVMNoAddress = errors.New("inventory: vm has no floating ip")
)

// Deployment errors
var (
	ErrInvalidTask  = errors.New("deploy: invalid task")
	ErrDeployFailed = errors.New("deploy: workspace provisioning failed")
	ErrLaunchFailed = errors.New("deploy: launch failed")
)

// Task errors
var (
	ErrTaskNotFound = errors.New("task: not found")
	ErrLogFetch     = errors.New("task: log retrieval failed")
)

// Local runner errors
var (
	ErrLocalRunNotFound = errors.New("local: run not found")
	ErrLocalRunInvalid  = errors.New("local: invalid input")
	ErrLocalRunFailed   = errors.New("local: failed to start")
)

// Flower bundle errors
var (
	ErrBundleMissingFile = errors.New("flower: missing required file")
	ErrBundleInvalidTOML = errors.New("flower: invalid pyproject.toml")
)
