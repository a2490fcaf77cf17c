// Package executor runs external conversion tools and locates the files
// they produce.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trackshift/platform/docgateway/internal/apperr"
)

// Command describes one external invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string // appended to the parent environment
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result carries the captured output streams.
type Result struct {
	Stdout []byte
	Stderr []byte
}

// Output returns stderr, or stdout when stderr is empty, trimmed.
func (r Result) Output() string {
	if s := strings.TrimSpace(string(r.Stderr)); s != "" {
		return s
	}
	return strings.TrimSpace(string(r.Stdout))
}

// Runner runs a Command to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands as subprocesses. The process is killed when ctx
// is cancelled or Timeout elapses.
type ExecRunner struct {
	Timeout time.Duration
	Logger  zerolog.Logger
}

// NewExecRunner returns an ExecRunner with the given per-invocation timeout.
func NewExecRunner(timeout time.Duration, logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{Timeout: timeout, Logger: logger}
}

func (e *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	e.Logger.Debug().
		Str("tool", c.Name).
		Dur("elapsed", time.Since(start)).
		Bool("ok", err == nil).
		Msg("process finished")
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return res, &apperr.ToolError{Tool: c.Name, Detail: res.Output(), Err: err}
}

// RunAndLocateOutput runs cmd and then picks the newest file with extension
// ext in outDir. A located file is success even when the process exited
// non-zero; some office converters report failure on success.
func RunAndLocateOutput(ctx context.Context, r Runner, cmd Command, outDir, ext string) (string, error) {
	_, runErr := r.Run(ctx, cmd)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", &apperr.ToolError{Tool: cmd.Name, Err: ctxErr}
	}
	path, err := LocateNewest(outDir, ext)
	if err == nil {
		if runErr != nil {
			zerolog.Ctx(ctx).Warn().Err(runErr).Str("tool", cmd.Name).Str("path", path).Msg("tool exited non-zero but left output")
		}
		return path, nil
	}
	if runErr != nil {
		return "", runErr
	}
	return "", &apperr.ToolError{
		Tool: cmd.Name,
		Err:  fmt.Errorf("no %s output in %s: %w", ext, outDir, err),
	}
}

// ErrNoOutput means the output directory holds no file of the wanted type.
var ErrNoOutput = errors.New("no output file")

// LocateNewest returns the most recently modified regular file in dir whose
// extension matches ext case-insensitively.
func LocateNewest(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("scan output dir: %w", err)
	}
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	var (
		best    string
		bestMod time.Time
	)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if strings.ToLower(filepath.Ext(e.Name())) != ext {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = filepath.Join(dir, e.Name())
			bestMod = info.ModTime()
		}
	}
	if best == "" {
		return "", ErrNoOutput
	}
	return best, nil
}

// WithScratchDir creates a private directory under parent, runs fn with it,
// and removes it afterwards whatever fn returns.
func WithScratchDir(parent, prefix string, fn func(dir string) error) error {
	dir, err := os.MkdirTemp(parent, prefix)
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)
	return fn(dir)
}
