package main

import (
	"context"
	"io"
	"os/exec"
	"time"

	"github.com/devkitPro/pacman-sub000/ports"
)

// execScriptlet runs a package's .INSTALL hook as a standalone shell
// script, the demonstration CLI's concrete ports.ScriptletRunner.
// Real chrooting to rootPath is left to deployment (spec.md §1 keeps
// scriptlet execution a caller-supplied capability; the core only ever
// treats its failure as a warning, never fatal), so this runs the
// script with rootPath exported as an environment variable instead,
// following golang-dep's cmd.go pattern of wrapping exec.Command with a
// bounded-activity timeout (monitoredCmd) rather than a bare run.
type execScriptlet struct {
	timeout time.Duration
}

func newExecScriptlet() *execScriptlet {
	return &execScriptlet{timeout: 2 * time.Minute}
}

func (s *execScriptlet) Run(hook ports.ScriptletHook, scriptPath, rootPath string, args []string, stdout, stderr io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	cmdArgs := append([]string{string(hook)}, args...)
	cmd := exec.CommandContext(ctx, scriptPath, cmdArgs...)
	cmd.Env = append(cmd.Environ(), "PACTRANS_ROOT="+rootPath)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}
