package services

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/fleecy/participant/internal/config"
	"github.com/fleecy/participant/internal/core/ports"
	"github.com/fleecy/participant/internal/domain"
	"github.com/fleecy/participant/internal/infrastructure/logger"
)

// WorkspaceDeployer materialises a task bundle under the remote workspace
// root. Every step overwrites what a previous attempt left, so re-running a
// failed provisioning is safe.
type WorkspaceDeployer struct {
	baseDir        string
	interpreter    string
	installTimeout time.Duration
	logger         *logger.Logger
}

func NewWorkspaceDeployer(cfg config.WorkspaceConfig, log *logger.Logger) *WorkspaceDeployer {
	d := &WorkspaceDeployer{
		baseDir:        cfg.BaseDir,
		interpreter:    cfg.Interpreter,
		installTimeout: cfg.InstallTimeout,
		logger:         log,
	}
	if d.baseDir == "" {
		d.baseDir = "/tmp/fl-workspace"
	}
	if d.interpreter == "" {
		d.interpreter = "python3"
	}
	if d.installTimeout <= 0 {
		d.installTimeout = 10 * time.Minute
	}
	return d
}

func (d *WorkspaceDeployer) BaseDir() string {
	return d.baseDir
}

// Provision uploads the bundle and returns the workspace path. Dependency
// installation problems are logged and never fail the call.
func (d *WorkspaceDeployer) Provision(ctx context.Context, session ports.RemoteSession, bundle domain.TaskBundle) (string, error) {
	if err := bundle.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}

	ws := domain.WorkspacePath(d.baseDir, bundle.TaskID)
	if err := d.mkdir(ctx, session, ws); err != nil {
		return "", err
	}

	paths := make([]string, 0, len(bundle.Files))
	cleaned := make(map[string]string, len(bundle.Files))
	for p := range bundle.Files {
		c, _ := domain.CleanRelativePath(p)
		paths = append(paths, c)
		cleaned[c] = p
	}
	sort.Strings(paths)

	created := map[string]bool{}
	for _, rel := range paths {
		if dir := path.Dir(rel); dir != "." && !created[dir] {
			if err := d.mkdir(ctx, session, path.Join(ws, dir)); err != nil {
				return "", err
			}
			created[dir] = true
		}
		if err := d.write(ctx, session, path.Join(ws, rel), bundle.Files[cleaned[rel]]); err != nil {
			return "", err
		}
	}

	if err := d.write(ctx, session, path.Join(ws, domain.EnvFileName), envFileContent(bundle.Environment)); err != nil {
		return "", err
	}

	if len(bundle.Requirements) > 0 {
		reqPath := path.Join(ws, domain.RequirementsFileName)
		if err := d.write(ctx, session, reqPath, strings.Join(bundle.Requirements, "\n")+"\n"); err != nil {
			return "", err
		}
		d.installRequirements(ctx, session, ws)
	}

	d.logger.Infow("workspace_provisioned", "task_id", bundle.TaskID, "path", ws, "files", len(paths))
	return ws, nil
}

func (d *WorkspaceDeployer) mkdir(ctx context.Context, session ports.RemoteSession, dir string) error {
	res, err := session.Run(ctx, "mkdir -p "+shellQuote(dir))
	if err != nil {
		return fmt.Errorf("%w: mkdir %s: %w", ErrDeployFailed, dir, err)
	}
	if res.ExitStatus != 0 {
		return fmt.Errorf("%w: mkdir %s: exit %d: %s", ErrDeployFailed, dir, res.ExitStatus, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (d *WorkspaceDeployer) write(ctx context.Context, session ports.RemoteSession, remotePath, content string) error {
	if err := session.WriteFile(ctx, remotePath, []byte(content)); err != nil {
		return fmt.Errorf("%w: %w", ErrDeployFailed, err)
	}
	return nil
}

func (d *WorkspaceDeployer) installRequirements(ctx context.Context, session ports.RemoteSession, ws string) {
	installCtx, cancel := context.WithTimeout(ctx, d.installTimeout)
	defer cancel()

	cmd := fmt.Sprintf("cd %s && %s -m pip install -r %s", shellQuote(ws), d.interpreter, domain.RequirementsFileName)
	res, err := session.Run(installCtx, cmd)
	switch {
	case err != nil:
		d.logger.Warnw("requirements_install_failed", "path", ws, "error", err)
	case res.ExitStatus != 0:
		d.logger.Warnw("requirements_install_failed", "path", ws, "exit_status", res.ExitStatus, "stderr", strings.TrimSpace(res.Stderr))
	case strings.TrimSpace(res.Stderr) != "":
		d.logger.Warnw("requirements_install_warnings", "path", ws, "stderr", strings.TrimSpace(res.Stderr))
	default:
		d.logger.Infow("requirements_installed", "path", ws)
	}
}

// envFileContent renders KEY=VALUE lines sorted by key. Values are written
// verbatim.
func envFileContent(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, env[k])
	}
	return b.String()
}
