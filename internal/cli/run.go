package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pintsurf/internal/models"
	"pintsurf/pkg/config"
	"pintsurf/pkg/geometry"
	"pintsurf/pkg/gifti"
	"pintsurf/pkg/ledger"
	"pintsurf/pkg/metrics"
	"pintsurf/pkg/pint"
	"pintsurf/pkg/signal"
	"pintsurf/pkg/table"
)

// runInputs are the positional arguments of the run command.
type runInputs struct {
	funcPath     string
	leftSurface  string
	rightSurface string
	vertices     string
	prefix       string
	limits       string
}

func newRunCmd(a *app) *cobra.Command {
	var (
		limits          string
		geometryBackend string
		samplingRadius  float64
		searchRadius    float64
		paddingRadius   float64
		preSmooth       float64
		pcorr           bool
		outputAll       bool
		seed            int64
		workers         int
		metricsTextfile string
		ledgerPath      string
	)

	cmd := &cobra.Command{
		Use:   "run <func> <left-surface> <right-surface> <vertices> <output-prefix>",
		Short: "Refine seed vertices against functional data",
		Long: `Run the PINT refinement. <func> is a CIFTI dtseries file or a
"left,right" pair of GIFTI metric (.func.gii) or comma-delimited text files.
<vertices> is a table with hemi, NETWORK and tvertex (or x, y, z) columns.

Outputs:
  <prefix>_summary.csv          refined vertex table
  <prefix>_tvertex_meants.csv   sampling means around the input vertices
  <prefix>_ivertex_meants.csv   sampling means around the refined vertices
  <prefix>_iterations.csv       per-iteration max displacement`,
		Args: cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			f := cmd.Flags()
			if f.Changed("sampling-radius") {
				cfg.PINT.SamplingRadius = samplingRadius
			}
			if f.Changed("search-radius") {
				cfg.PINT.SearchRadius = searchRadius
			}
			if f.Changed("padding-radius") {
				cfg.PINT.PaddingRadius = paddingRadius
			}
			if f.Changed("pcorr") {
				cfg.PINT.PartialCorrelation = pcorr
			}
			if f.Changed("outputall") {
				cfg.PINT.OutputAll = outputAll
			}
			if f.Changed("pre-smooth") {
				cfg.PINT.PreSmoothFWHM = preSmooth
			}
			if f.Changed("seed") {
				cfg.PINT.Seed = seed
			}
			if f.Changed("workers") {
				cfg.PINT.Workers = workers
			}
			if f.Changed("geometry") {
				cfg.Geometry = geometryBackend
			}
			if f.Changed("metrics-textfile") {
				cfg.Output.MetricsTextfile = metricsTextfile
			}
			if f.Changed("ledger") {
				cfg.Output.Ledger = ledgerPath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			in := runInputs{
				funcPath:     args[0],
				leftSurface:  args[1],
				rightSurface: args[2],
				vertices:     args[3],
				prefix:       args[4],
				limits:       limits,
			}
			return a.run(cmd.Context(), cfg, in)
		},
	}

	cmd.Flags().StringVar(&limits, "limits", "", "anatomical limits: CIFTI dlabel file or left,right label GIFTI pair")
	cmd.Flags().StringVar(&geometryBackend, "geometry", config.GeometryWorkbench, "geometry backend (wb|mesh)")
	cmd.Flags().Float64Var(&samplingRadius, "sampling-radius", 6, "sampling disk radius in mm")
	cmd.Flags().Float64Var(&searchRadius, "search-radius", 6, "search disk radius in mm")
	cmd.Flags().Float64Var(&paddingRadius, "padding-radius", 12, "padding disk radius in mm")
	cmd.Flags().Float64Var(&preSmooth, "pre-smooth", 0, "smooth the functional data with this FWHM in mm first")
	cmd.Flags().BoolVar(&pcorr, "pcorr", false, "score candidates by partial correlation against the other networks")
	cmd.Flags().BoolVar(&outputAll, "outputall", false, "write every iteration's vertex and distance")
	cmd.Flags().Int64Var(&seed, "seed", 1, "seed of the vertex visitation order")
	cmd.Flags().IntVar(&workers, "workers", 0, "vertices relocated concurrently (default from configuration)")
	cmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file after the run")
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "record the run in this SQLite database")

	return cmd
}

// needsTool reports whether the run requires Connectome Workbench even
// when the in-process mesh answers geodesic queries.
func needsTool(cfg *config.Config, in runInputs) bool {
	return cfg.Geometry == config.GeometryWorkbench ||
		cfg.PINT.PreSmoothFWHM > 0 ||
		signal.IsCIFTI(in.funcPath) ||
		(in.limits != "" && signal.IsCIFTI(in.limits))
}

func (a *app) run(ctx context.Context, cfg *config.Config, in runInputs) (err error) {
	started := time.Now()
	runID := uuid.NewString()
	log := a.log.With("run_id", runID)

	var wb *geometry.Workbench
	if needsTool(cfg, in) {
		wb, err = geometry.NewWorkbench(geometry.WorkbenchOptions{
			Binary:       cfg.Tool.Binary,
			TempDir:      cfg.Tool.TempDir,
			RunID:        runID,
			LeftSurface:  in.leftSurface,
			RightSurface: in.rightSurface,
			Logger:       log,
		})
		if err != nil {
			return err
		}
		defer func() {
			if cerr := wb.Close(); cerr != nil {
				log.Warn("failed to remove scratch directory", "error", cerr)
			}
		}()
	}

	var provider geometry.Provider
	locators := table.Locators{}
	if cfg.Geometry == config.GeometryMesh {
		mesh, err := geometry.LoadMesh(in.leftSurface, in.rightSurface)
		if err != nil {
			return err
		}
		provider = mesh
		for _, h := range models.Hemispheres {
			locators[h] = geometry.NewVertexLocator(mesh.Points(h))
		}
	} else {
		provider = wb
		for h, path := range map[models.Hemisphere]string{models.Left: in.leftSurface, models.Right: in.rightSurface} {
			surf, err := gifti.ReadSurface(path)
			if err != nil {
				return err
			}
			locators[h] = geometry.NewVertexLocator(surf.Points)
		}
	}

	funcPath := in.funcPath
	if cfg.PINT.PreSmoothFWHM > 0 {
		if !signal.IsCIFTI(funcPath) {
			return fmt.Errorf("pre-smoothing needs a CIFTI input, got %s", funcPath)
		}
		log.Info("smoothing functional data", "fwhm_mm", cfg.PINT.PreSmoothFWHM)
		if funcPath, err = wb.Smooth(ctx, funcPath, cfg.PINT.PreSmoothFWHM); err != nil {
			return err
		}
	}

	// A nil *Workbench must not reach the loaders as a non-nil interface.
	var sep signal.Separator
	if wb != nil {
		sep = wb
	}

	sig, err := signal.Load(ctx, funcPath, sep)
	if err != nil {
		return fmt.Errorf("load functional data: %w", err)
	}
	log.Info("functional data loaded",
		"left_vertices", sig.Index().Left,
		"right_vertices", sig.Index().Right,
		"timepoints", sig.Timepoints())

	vertices, err := table.ReadFile(in.vertices, locators)
	if err != nil {
		return err
	}

	rec := metrics.NewRecorder()
	opts := []pint.Option{
		pint.WithSeed(cfg.PINT.Seed),
		pint.WithMetrics(rec),
		pint.WithRunID(runID),
	}
	if in.limits != "" {
		labels, err := signal.LoadLabels(ctx, in.limits, sep, sig.Index())
		if err != nil {
			return fmt.Errorf("load limits: %w", err)
		}
		opts = append(opts, pint.WithLimits(labels))
	}

	driver := pint.NewDriver(pint.ParamsFromConfig(cfg), provider, a.log, opts...)
	res, err := driver.Run(ctx, vertices, sig)
	if err != nil {
		return err
	}

	if err := a.writeOutputs(ctx, driver, cfg, in.prefix, vertices, sig, res); err != nil {
		return err
	}

	if cfg.Output.MetricsTextfile != "" {
		if err := rec.WriteTextfile(cfg.Output.MetricsTextfile); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}

	if cfg.Output.Ledger != "" {
		if err := recordLedger(ctx, cfg, in, runID, started, vertices, res); err != nil {
			return fmt.Errorf("record ledger: %w", err)
		}
		log.Info("run recorded", "ledger", cfg.Output.Ledger)
	}

	if !res.Converged() {
		log.Warn("run did not converge", "state", res.State, "repair_state", res.RepairState)
	}
	return nil
}

func (a *app) writeOutputs(ctx context.Context, d *pint.Driver, cfg *config.Config, prefix string, vertices models.Table, sig *signal.Matrix, res *pint.Result) error {
	if err := table.WriteFile(prefix+"_summary.csv", vertices, cfg.PINT.OutputAll); err != nil {
		return err
	}
	if err := table.WriteSummaryFile(prefix+"_iterations.csv", res.Summary); err != nil {
		return err
	}

	for _, out := range []struct {
		suffix string
		final  bool
	}{
		{"_tvertex_meants.csv", false},
		{"_ivertex_meants.csv", true},
	} {
		rows, err := d.Meants(ctx, vertices, sig, out.final)
		if err != nil {
			return err
		}
		if err := signal.WriteMeants(prefix+out.suffix, rows); err != nil {
			return err
		}
	}
	return nil
}

func recordLedger(ctx context.Context, cfg *config.Config, in runInputs, runID string, started time.Time, vertices models.Table, res *pint.Result) (err error) {
	store, err := ledger.Open(cfg.Output.Ledger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, store.Close())
	}()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	return store.RecordRun(ctx, &ledger.Run{
		ID:          runID,
		StartedAt:   started,
		FinishedAt:  time.Now(),
		FuncPath:    in.funcPath,
		TablePath:   in.vertices,
		State:       string(res.State),
		RepairState: string(res.RepairState),
		Iterations:  res.Iterations,
		ConfigJSON:  string(cfgJSON),
		Vertices:    vertices,
	})
}
