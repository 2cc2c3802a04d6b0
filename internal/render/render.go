// Package render drives the external ray tracer.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// waitDelay bounds how long output pipes are drained after the renderer is
// killed on cancellation.
const waitDelay = 2 * time.Second

// Renderer turns a scene file into a raster at outPath and returns the
// renderer's combined diagnostics.
type Renderer interface {
	Render(ctx context.Context, scenePath, outPath string, width, height int) ([]byte, error)
}

// Error reports a renderer run that exited unsuccessfully.
type Error struct {
	ExitCode int
	Output   []byte
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("renderer exited with code %d: %v", e.ExitCode, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// POVRay invokes a POV-Ray compatible binary as
// `<binary> -D +H<h> +W<w> +O<out> <scene>`.
type POVRay struct {
	Binary    string
	ExtraArgs []string
}

func (p POVRay) binary() string {
	if p.Binary == "" {
		return "povray"
	}
	return p.Binary
}

// Lookup resolves the renderer binary. A missing binary fails every render
// the same way, so callers check it once before a run starts.
func (p POVRay) Lookup() (string, error) {
	path, err := exec.LookPath(p.binary())
	if err != nil {
		return "", fmt.Errorf("renderer %q not usable: %w", p.binary(), err)
	}
	return path, nil
}

func (p POVRay) Args(scenePath, outPath string, width, height int) []string {
	args := []string{
		"-D",
		"+H" + strconv.Itoa(height),
		"+W" + strconv.Itoa(width),
		"+O" + outPath,
	}
	args = append(args, p.ExtraArgs...)
	return append(args, scenePath)
}

func (p POVRay) Render(ctx context.Context, scenePath, outPath string, width, height int) ([]byte, error) {
	cmd := exec.CommandContext(ctx, p.binary(), p.Args(scenePath, outPath, width, height)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = waitDelay
	err := cmd.Run()
	if err == nil {
		return out.Bytes(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out.Bytes(), ctxErr
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return out.Bytes(), &Error{ExitCode: code, Output: out.Bytes(), Err: err}
}
