// Package elastix drives the elastix and transformix executables.
//
// Every call gets its own work directory. Images are handed over as NIfTI
// files and parameter maps as elastix parameter files; the fitted transforms
// and result images are read back the same way. Nothing is kept between calls.
package elastix

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	aerrors "amsaf/internal/errors"
	"amsaf/internal/models"
	"amsaf/internal/output"
	"amsaf/pkg/nifti"
	"amsaf/pkg/parammap"
	"amsaf/pkg/registration"
)

const (
	// DefaultElastix is looked up on PATH when no executable is configured
	DefaultElastix = "elastix"

	// DefaultTransformix is looked up on PATH when no executable is configured
	DefaultTransformix = "transformix"

	// logTailLines is how much of the engine output an error carries
	logTailLines = 20
)

// Options configures the executables and where they work
type Options struct {
	// ElastixPath is the elastix executable; empty means DefaultElastix
	ElastixPath string

	// TransformixPath is the transformix executable; empty means DefaultTransformix
	TransformixPath string

	// WorkDir is the parent of the per-call work directories; empty means os.TempDir()
	WorkDir string

	// KeepWorkDir leaves the per-call work directories in place for inspection
	KeepWorkDir bool
}

// Engine runs registrations and transform applications through elastix.
// It implements registration.Capability.
type Engine struct {
	opts Options
}

// NewEngine creates an engine with the given executables
func NewEngine(opts Options) *Engine {
	if opts.ElastixPath == "" {
		opts.ElastixPath = DefaultElastix
	}
	if opts.TransformixPath == "" {
		opts.TransformixPath = DefaultTransformix
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	return &Engine{opts: opts}
}

// Register implements registration.Engine.
//
// The maps are written as p0.txt..pn.txt and passed to elastix in order, the
// first one as the active stage. elastix writes one TransformParameters.<i>.txt
// per stage, each naming the previous one as its initial transform, and the
// final result image as result.<n-1>.nii.
func (e *Engine) Register(req registration.Request) (*registration.Result, error) {
	if len(req.ParameterMaps) == 0 {
		return nil, aerrors.NewConfigurationError("no parameter maps", "", "")
	}

	dir, cleanup, err := e.workDir("elastix")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	fixedPath := filepath.Join(dir, "fixed.nii")
	movingPath := filepath.Join(dir, "moving.nii")
	if err := nifti.Write(req.Fixed, fixedPath); err != nil {
		return nil, err
	}
	if err := nifti.Write(req.Moving, movingPath); err != nil {
		return nil, err
	}

	maps := parammap.AssocAll("ResultImageFormat", "nii", req.ParameterMaps)
	last := len(maps) - 1
	maps[last] = parammap.Assoc("WriteResultImage", "true", maps[last])

	args := []string{"-f", fixedPath, "-m", movingPath, "-out", dir}
	for i, m := range maps {
		p := filepath.Join(dir, fmt.Sprintf("p%d.txt", i))
		if err := parammap.WriteFile(p, m); err != nil {
			return nil, err
		}
		args = append(args, "-p", p)
	}

	if err := e.run(e.opts.ElastixPath, args, filepath.Join(dir, "elastix.log"), req.Verbose); err != nil {
		return nil, err
	}

	transforms := make([]parammap.Map, len(maps))
	for i := range maps {
		path := filepath.Join(dir, fmt.Sprintf("TransformParameters.%d.txt", i))
		m, err := parammap.ReadFile(path)
		if err != nil {
			return nil, aerrors.NewEngineError(fmt.Sprintf("elastix did not write transform %d", i), err)
		}
		transforms[i] = m
	}

	img, err := nifti.Read(filepath.Join(dir, fmt.Sprintf("result.%d.nii", last)))
	if err != nil {
		return nil, aerrors.NewEngineError("elastix did not write a result image", err)
	}

	return &registration.Result{
		Image:                  img,
		TransformParameterMaps: transforms,
	}, nil
}

// Transform implements registration.Transformer.
//
// The chain is written as t0.txt..tn.txt with each file naming the previous
// one as its initial transform, which is how elastix itself links a fitted
// chain; transformix is then pointed at the last file.
func (e *Engine) Transform(img *models.Image, transformMaps []parammap.Map, verbose bool) (*models.Image, error) {
	if len(transformMaps) == 0 {
		return nil, aerrors.NewConfigurationError("no transforms to apply", "", "")
	}

	dir, cleanup, err := e.workDir("transformix")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	inPath := filepath.Join(dir, "input.nii")
	if err := nifti.Write(img, inPath); err != nil {
		return nil, err
	}

	chain, err := writeChain(dir, transformMaps)
	if err != nil {
		return nil, err
	}

	args := []string{"-in", inPath, "-out", dir, "-tp", chain[len(chain)-1]}
	if err := e.run(e.opts.TransformixPath, args, filepath.Join(dir, "transformix.log"), verbose); err != nil {
		return nil, err
	}

	out, err := nifti.Read(filepath.Join(dir, "result.nii"))
	if err != nil {
		return nil, aerrors.NewEngineError("transformix did not write a result image", err)
	}
	return out, nil
}

// transformixDefaults are bindings transformix reads from every transform
// file. Maps fitted by elastix carry them; hand-built maps may not.
var transformixDefaults = []parammap.Entry{
	{Key: "FixedImageDimension", Values: parammap.Singleton("3")},
	{Key: "MovingImageDimension", Values: parammap.Singleton("3")},
	{Key: "FixedInternalImagePixelType", Values: parammap.Singleton("float")},
	{Key: "MovingInternalImagePixelType", Values: parammap.Singleton("float")},
}

// writeChain writes the transform files and returns their paths in order
func writeChain(dir string, maps []parammap.Map) ([]string, error) {
	paths := make([]string, len(maps))
	previous := parammap.NoInitialTransform
	for i, m := range maps {
		for _, d := range transformixDefaults {
			if !m.Has(d.Key) {
				m = parammap.AssocValues(d.Key, d.Values, m)
			}
		}
		m = parammap.Assoc(parammap.KeyInitialTransformFileName, previous, m)
		m = parammap.Assoc("ResultImageFormat", "nii", m)

		paths[i] = filepath.Join(dir, fmt.Sprintf("t%d.txt", i))
		if err := parammap.WriteFile(paths[i], m); err != nil {
			return nil, err
		}
		previous = paths[i]
	}
	return paths, nil
}

// workDir creates a fresh directory for one engine call
func (e *Engine) workDir(prefix string) (string, func(), error) {
	dir := filepath.Join(e.opts.WorkDir, prefix+"-"+uuid.New().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, aerrors.NewIOError(dir, err)
	}
	cleanup := func() {
		if e.opts.KeepWorkDir {
			output.Debug("keeping work directory", "dir", dir)
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			output.Warn("failed to remove work directory", "dir", dir, "err", err)
		}
	}
	return dir, cleanup, nil
}

// run executes one engine binary. The combined output is always captured so
// a failure can report its tail; with verbose it is also echoed to stdout.
func (e *Engine) run(executable string, args []string, logFile string, verbose bool) error {
	path, err := exec.LookPath(executable)
	if err != nil {
		return aerrors.NewEngineErrorWithContext(
			"registration engine executable not found",
			map[string]string{"executable": executable},
			err,
		)
	}

	var captured bytes.Buffer
	var sink io.Writer = &captured
	if verbose {
		sink = io.MultiWriter(os.Stdout, &captured)
	}

	cmd := exec.Command(path, args...)
	cmd.Stdout = sink
	cmd.Stderr = sink

	output.Debug("running engine", "executable", path, "args", strings.Join(args, " "))
	err = cmd.Run()
	if err == nil {
		return nil
	}

	details := map[string]string{
		"executable": path,
		"log":        logTail(logFile, captured.String()),
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		details["exitCode"] = strconv.Itoa(exitErr.ExitCode())
	}
	return aerrors.NewEngineErrorWithContext(filepath.Base(path)+" failed", details, err)
}

// logTail returns the last lines of the engine's log file, falling back to
// its captured console output
func logTail(logFile, captured string) string {
	text := captured
	if data, err := os.ReadFile(logFile); err == nil && len(data) > 0 {
		text = string(data)
	}

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > logTailLines {
		lines = lines[len(lines)-logTailLines:]
	}
	return strings.Join(lines, " | ")
}
