package executor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/mbellotti/testyard/internal/models"
)

// Script file names per format. pytest discovery requires the test_ prefix.
var scriptFileNames = map[string]string{
	models.FormatPytest:     "test_script.py",
	models.FormatPlaywright: "script.spec.ts",
	models.FormatYAML:       "suite.yaml",
}

// defaultCommands are the per-format command templates. {script} and
// {result} are substituted before splitting; config overrides take priority.
var defaultCommands = map[string]string{
	models.FormatPytest:     "python3 -m pytest {script} -q",
	models.FormatPlaywright: "npx playwright test {script} --reporter=line",
	models.FormatYAML:       "ty-runner {script} --result {result}",
}

// scriptFileName returns the file name a script of the given format is
// written to inside the working directory.
func scriptFileName(format string) (string, error) {
	name, ok := scriptFileNames[format]
	if !ok {
		return "", fmt.Errorf("executor: unsupported format %q", format)
	}
	return name, nil
}

// buildCommand constructs the exec.Cmd for one execution. The process runs
// in its own group so termination reaches the whole tree.
func buildCommand(ctx context.Context, format, workDir, scriptPath, resultPath string, overrides map[string]string) (*exec.Cmd, error) {
	tmpl, ok := overrides[format]
	if !ok || tmpl == "" {
		tmpl, ok = defaultCommands[format]
		if !ok {
			return nil, fmt.Errorf("executor: no command for format %q", format)
		}
	}

	expanded := strings.NewReplacer(
		"{script}", scriptPath,
		"{workdir}", workDir,
		"{result}", resultPath,
	).Replace(tmpl)

	parts := strings.Fields(expanded)
	if len(parts) == 0 {
		return nil, fmt.Errorf("executor: empty command for format %q", format)
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = workDir
	cmd.Env = append(cmd.Environ(), "TESTYARD_RESULT="+resultPath)

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second

	return cmd, nil
}
