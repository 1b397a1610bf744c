// Package bootstrap prepares the legacy Python tooling that still runs next
// to this binary on the sync hosts: a virtual environment, the Poetry
// dependency manager inside it, and the project dependencies Poetry
// declares. Each target is a thin wrapper over the external tools; their
// behavior, output, and exit codes are passed through untouched.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/evergreen-ci/utility"
	"github.com/google/shlex"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/jasper"
	"github.com/pkg/errors"

	arxivsync "github.com/arXiv/arxiv-sync"
)

// Target names one step of the bootstrap chain.
type Target string

const (
	// TargetEnv creates the virtual environment and upgrades pip inside
	// it.
	TargetEnv Target = "env"
	// TargetTools installs Poetry into the environment. Depends on env.
	TargetTools Target = "tools"
	// TargetSync installs the dependencies Poetry declares for the
	// project. Depends on tools. This is the default target.
	TargetSync Target = "sync"
)

// ParseTarget maps a flag value to a Target; the empty string selects the
// default target.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case "":
		return TargetSync, nil
	case TargetEnv, TargetTools, TargetSync:
		return Target(s), nil
	default:
		return "", errors.Errorf("unknown bootstrap target '%s'", s)
	}
}

// ExitError reports a target whose recipe exited nonzero, carrying the
// tool's own exit code.
type ExitError struct {
	Target Target
	Code   int
	cause  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("target '%s' failed with exit code %d: %v", e.Target, e.Code, e.cause)
}

func (e *ExitError) Unwrap() error { return e.cause }

// ExitCode maps a bootstrap error to the process exit status: the failing
// tool's code when one is known, 1 for anything else, 0 for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code != 0 {
		return exitErr.Code
	}
	return 1
}

// Runner executes bootstrap targets in dependency order. Recipes whose
// artifact already exists are skipped, so re-running any target is safe.
type Runner struct {
	python     string
	venvDir    string
	dir        string
	poetrySpec string
	syncCmd    []string

	run func(ctx context.Context, cmd *jasper.Command) error
}

// NewRunner builds a Runner from the bootstrap settings section.
func NewRunner(conf arxivsync.BootstrapConfig) (*Runner, error) {
	syncCmd := []string{"poetry", "install", "--sync"}
	if conf.SyncArgs != "" {
		parsed, err := shlex.Split(conf.SyncArgs)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing sync command '%s'", conf.SyncArgs)
		}
		if len(parsed) == 0 {
			return nil, errors.New("sync command is empty")
		}
		syncCmd = parsed
	}

	r := &Runner{
		python:     conf.Python,
		venvDir:    conf.VenvDir,
		dir:        conf.Dir,
		poetrySpec: conf.PoetrySpec,
		syncCmd:    syncCmd,
	}
	r.run = func(ctx context.Context, cmd *jasper.Command) error {
		return cmd.Run(ctx)
	}
	return r, nil
}

// Run executes the target after any targets it depends on.
func (r *Runner) Run(ctx context.Context, target Target) error {
	switch target {
	case TargetEnv:
		return r.runEnv(ctx)
	case TargetTools:
		if err := r.runEnv(ctx); err != nil {
			return err
		}
		return r.runTools(ctx)
	case TargetSync:
		if err := r.runEnv(ctx); err != nil {
			return err
		}
		if err := r.runTools(ctx); err != nil {
			return err
		}
		return r.runSync(ctx)
	default:
		return errors.Errorf("unknown bootstrap target '%s'", target)
	}
}

func (r *Runner) venvPath() string {
	if filepath.IsAbs(r.venvDir) || r.dir == "" {
		return r.venvDir
	}
	return filepath.Join(r.dir, r.venvDir)
}

func (r *Runner) binPath(name string) string {
	return filepath.Join(r.venvPath(), "bin", name)
}

func (r *Runner) command() *jasper.Command {
	cmd := jasper.NewCommand().
		SetOutputSender(level.Info, grip.GetSender()).
		SetErrorSender(level.Error, grip.GetSender())
	if r.dir != "" {
		cmd = cmd.Directory(r.dir)
	}
	return cmd
}

func (r *Runner) execute(ctx context.Context, target Target, cmd *jasper.Command) error {
	err := r.run(ctx, cmd)
	if err == nil {
		return nil
	}
	code := 1
	if c, _ := cmd.Wait(ctx); c != 0 {
		code = c
	}
	return &ExitError{Target: target, Code: code, cause: err}
}

func (r *Runner) runEnv(ctx context.Context) error {
	venv := r.venvPath()
	if utility.FileExists(venv) {
		grip.Info(message.Fields{
			"message": "virtual environment already exists, skipping",
			"target":  TargetEnv,
			"path":    venv,
		})
		return nil
	}

	grip.Info(message.Fields{
		"message": "creating virtual environment",
		"target":  TargetEnv,
		"path":    venv,
	})
	cmd := r.command().
		Add([]string{r.python, "-m", "venv", venv}).
		Add([]string{r.binPath("pip"), "install", "--upgrade", "pip"})
	return r.execute(ctx, TargetEnv, cmd)
}

func (r *Runner) runTools(ctx context.Context) error {
	poetry := r.binPath("poetry")
	if utility.FileExists(poetry) {
		grip.Info(message.Fields{
			"message": "dependency manager already installed, skipping",
			"target":  TargetTools,
			"path":    poetry,
		})
		return nil
	}

	grip.Info(message.Fields{
		"message": "installing dependency manager",
		"target":  TargetTools,
		"spec":    r.poetrySpec,
	})
	cmd := r.command().Add([]string{r.binPath("pip"), "install", r.poetrySpec})
	return r.execute(ctx, TargetTools, cmd)
}

func (r *Runner) runSync(ctx context.Context) error {
	venv := r.venvPath()

	// Activation amounts to putting the venv bin directory first on PATH
	// and setting VIRTUAL_ENV. The executable itself must be resolved to
	// the venv copy explicitly: the PATH handed to the child does not
	// affect how its binary is looked up.
	args := make([]string, len(r.syncCmd))
	copy(args, r.syncCmd)
	if !filepath.IsAbs(args[0]) && utility.FileExists(r.binPath(args[0])) {
		args[0] = r.binPath(args[0])
	}

	grip.Info(message.Fields{
		"message": "synchronizing project dependencies",
		"target":  TargetSync,
		"cmd":     args,
	})
	cmd := r.command().
		Add(args).
		AddEnv("VIRTUAL_ENV", venv).
		AddEnv("PATH", filepath.Join(venv, "bin")+string(os.PathListSeparator)+os.Getenv("PATH"))
	return r.execute(ctx, TargetSync, cmd)
}
