package geometry

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"pintsurf/internal/models"
	"pintsurf/pkg/gifti"
	"pintsurf/pkg/logging"
)

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args and captures stdout and stderr together.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// WorkbenchOptions configures a Workbench provider.
type WorkbenchOptions struct {
	Binary       string
	TempDir      string
	RunID        string
	LeftSurface  string
	RightSurface string
	Runner       Runner
	Logger       *slog.Logger
}

// Workbench answers geodesic queries with Connectome Workbench. Every
// intermediate file lives in a run-scoped scratch directory that Close
// removes.
type Workbench struct {
	binary   string
	runner   Runner
	surfaces map[models.Hemisphere]string
	counts   map[models.Hemisphere]int
	tmpDir   string
	seq      atomic.Int64
	log      *slog.Logger
}

// NewWorkbench validates the surfaces and creates the scratch directory.
func NewWorkbench(opts WorkbenchOptions) (*Workbench, error) {
	if opts.Binary == "" {
		opts.Binary = "wb_command"
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	w := &Workbench{
		binary: opts.Binary,
		runner: opts.Runner,
		surfaces: map[models.Hemisphere]string{
			models.Left:  opts.LeftSurface,
			models.Right: opts.RightSurface,
		},
		counts: make(map[models.Hemisphere]int, 2),
		log:    logging.OrDefault(opts.Logger),
	}

	for h, path := range w.surfaces {
		surf, err := gifti.ReadSurface(path)
		if err != nil {
			return nil, fmt.Errorf("read %s surface: %w", h.Structure(), err)
		}
		w.counts[h] = len(surf.Points)
	}

	dir, err := os.MkdirTemp(opts.TempDir, "pintsurf-"+opts.RunID+"-")
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	w.tmpDir = dir
	return w, nil
}

// TempDir returns the run-scoped scratch directory.
func (w *Workbench) TempDir() string { return w.tmpDir }

// Close removes the scratch directory and everything in it.
func (w *Workbench) Close() error {
	if w.tmpDir == "" {
		return nil
	}
	err := os.RemoveAll(w.tmpDir)
	w.tmpDir = ""
	return err
}

// VertexCount returns the number of vertices on hemisphere h.
func (w *Workbench) VertexCount(h models.Hemisphere) int { return w.counts[h] }

// SurfacePath returns the surface file used for hemisphere h.
func (w *Workbench) SurfacePath(h models.Hemisphere) string { return w.surfaces[h] }

// scratch returns a unique file name in the scratch directory.
func (w *Workbench) scratch(prefix, ext string) string {
	return filepath.Join(w.tmpDir, fmt.Sprintf("%s-%06d%s", prefix, w.seq.Add(1), ext))
}

// run invokes the tool and folds its output into any error.
func (w *Workbench) run(ctx context.Context, args ...string) error {
	w.log.Debug("running geometry tool", "tool", w.binary, "args", strings.Join(args, " "))
	out, err := w.runner.Run(ctx, w.binary, args...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrToolNotFound, w.binary)
		}
		return fmt.Errorf("%s %s failed: %w: %s", w.binary, args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Distance runs -surface-geodesic-distance limited to limit mm.
func (w *Workbench) Distance(ctx context.Context, h models.Hemisphere, origin int, limit float64) ([]float64, error) {
	if origin < 0 || origin >= w.counts[h] {
		return nil, fmt.Errorf("%w: %d on %s", ErrVertexOutOfRange, origin, h)
	}
	out := w.scratch("dist", ".func.gii")
	defer os.Remove(out)

	err := w.run(ctx, "-surface-geodesic-distance", w.surfaces[h], strconv.Itoa(origin), out,
		"-limit", formatMM(limit))
	if err != nil {
		return nil, err
	}

	cols, err := gifti.ReadMetric(out)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 || len(cols[0]) != w.counts[h] {
		return nil, fmt.Errorf("%w: distance metric does not cover %s", gifti.ErrShape, h.Structure())
	}
	field := cols[0]
	for i, d := range field {
		if d < 0 || math.IsNaN(d) {
			field[i] = Unset
		}
	}
	return field, nil
}

// Regions runs -surface-geodesic-rois with the EXCLUDE overlap logic.
func (w *Workbench) Regions(ctx context.Context, h models.Hemisphere, radius float64, vertices []int) ([]int, error) {
	n := w.counts[h]
	if len(vertices) == 0 {
		return make([]int, n), nil
	}

	list := w.scratch("vertices", ".txt")
	defer os.Remove(list)
	if err := writeVertexList(list, vertices); err != nil {
		return nil, err
	}

	out := w.scratch("rois", ".func.gii")
	defer os.Remove(out)

	err := w.run(ctx, "-surface-geodesic-rois", w.surfaces[h], formatMM(radius), list, out,
		"-overlap-logic", "EXCLUDE")
	if err != nil {
		return nil, err
	}

	cols, err := gifti.ReadMetric(out)
	if err != nil {
		return nil, err
	}
	if len(cols) != len(vertices) {
		return nil, fmt.Errorf("%w: %d roi columns for %d vertices", gifti.ErrShape, len(cols), len(vertices))
	}

	owner := make([]int, n)
	for i, col := range cols {
		if len(col) != n {
			return nil, fmt.Errorf("%w: roi column %d has %d values", gifti.ErrShape, i, len(col))
		}
		for v, x := range col {
			if x > 0 {
				claim(owner, v, i+1)
			}
		}
	}
	return excludeOverlaps(owner), nil
}

// SeparateCortex splits a CIFTI file into left and right GIFTI files in the
// scratch directory. kind is "metric" for dense scalars/series and "label"
// for dense labels.
func (w *Workbench) SeparateCortex(ctx context.Context, cifti, kind string) (left, right string, err error) {
	ext := ".func.gii"
	if kind == "label" {
		ext = ".label.gii"
	}
	left = w.scratch("cortex-left", ext)
	right = w.scratch("cortex-right", ext)

	err = w.run(ctx, "-cifti-separate", cifti, "COLUMN",
		"-"+kind, models.Left.Structure(), left,
		"-"+kind, models.Right.Structure(), right)
	if err != nil {
		return "", "", err
	}
	return left, right, nil
}

// Smooth applies geodesic Gaussian smoothing of the given FWHM (mm) to a
// CIFTI file and returns the smoothed copy.
func (w *Workbench) Smooth(ctx context.Context, cifti string, fwhm float64) (string, error) {
	sigma := fwhm / (2 * math.Sqrt(2*math.Ln2))
	out := w.scratch("smoothed", ".dtseries.nii")

	err := w.run(ctx, "-cifti-smoothing", cifti, formatMM(sigma), formatMM(sigma), "COLUMN", out,
		"-left-surface", w.surfaces[models.Left],
		"-right-surface", w.surfaces[models.Right])
	if err != nil {
		return "", err
	}
	return out, nil
}

func writeVertexList(path string, vertices []int) error {
	var buf bytes.Buffer
	for _, v := range vertices {
		buf.WriteString(strconv.Itoa(v))
		buf.WriteByte('\n')
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func formatMM(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ToolStatus represents the availability of the geometry tool
type ToolStatus struct {
	Available bool
	Version   string
	Path      string
	Error     error
}

// CheckTool verifies that binary is on PATH and answers -version.
func CheckTool(ctx context.Context, binary string, runner Runner) ToolStatus {
	if runner == nil {
		runner = ExecRunner{}
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return ToolStatus{Available: false, Error: fmt.Errorf("%w: %v", ErrToolNotFound, err)}
	}

	output, err := runner.Run(ctx, binary, "-version")
	if err != nil && len(output) == 0 {
		return ToolStatus{Available: false, Path: path, Error: err}
	}
	return ToolStatus{Available: true, Version: extractVersion(string(output)), Path: path}
}

// extractVersion pulls the "Version:" line out of wb_command -version output.
func extractVersion(output string) string {
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if v, ok := strings.CutPrefix(line, "Version:"); ok {
			return strings.TrimSpace(v)
		}
	}
	return "unknown"
}
