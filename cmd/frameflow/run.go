package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule"
	ierrors "github.com/mantonx/frameflow/internal/modules/interpolationmodule/errors"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type runOptions struct {
	engine     string
	input      string
	output     string
	multiplier int
	tileSize   int
	padWidth   int
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Interpolate a frame directory",
		Example: "  frameflow run -e rife-ncnn -i ./frames -o ./frames-4x -m 4\n" +
			"  frameflow run -i ./frames -o ./out   # pick the engine interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInterpolation(cmd.Context(), root, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.engine, "engine", "e", "", "engine: "+engineNames())
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "input frame directory")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output frame directory")
	cmd.Flags().IntVarP(&opts.multiplier, "multiplier", "m", 2, "frame multiplier (2, 4 or 8)")
	cmd.Flags().IntVar(&opts.tileSize, "tile", 0, "tile size override")
	cmd.Flags().IntVar(&opts.padWidth, "pad", 0, "zero-pad width override for output names")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func engineNames() string {
	names := make([]string, 0, len(types.AllEngines()))
	for _, k := range types.AllEngines() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

func runInterpolation(ctx context.Context, root *rootOptions, opts *runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(root, &terminalNotifier{out: os.Stderr})
	if err != nil {
		return err
	}
	defer a.Close()
	mgr := a.manager()

	kind, err := resolveEngine(opts.engine, mgr.Engines())
	if err != nil {
		return err
	}

	req := types.InterpolationRequest{
		Engine:     kind,
		InputDir:   opts.input,
		OutputDir:  opts.output,
		Multiplier: opts.multiplier,
		TileSize:   opts.tileSize,
		PadWidth:   opts.padWidth,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopSignals := handleInterrupts(cancel, mgr)
	defer stopSignals()

	progressCtx, stopProgress := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		trackPasses(progressCtx, mgr)
	}()

	result, runErr := mgr.Interpolate(runCtx, req)
	stopProgress()
	wg.Wait()

	if result == nil {
		return runErr
	}
	printResult(os.Stdout, result, runErr)
	if runErr != nil {
		return fmt.Errorf("interpolation failed")
	}
	if result.State == types.RunStateSucceeded && a.cfg.Encoder.Enabled {
		// the feed keeps delivering the final frames after the run returns
		if _, err := mgr.Wait(runCtx); err != nil {
			return fmt.Errorf("encoder feed did not finish: %w", err)
		}
		fmt.Println(successStyle.Render("Encoding input complete"))
	}
	return nil
}

// resolveEngine parses name, or asks the user to pick an installed engine
// when name is empty.
func resolveEngine(name string, engines []types.EngineInfo) (types.EngineKind, error) {
	if name != "" {
		kind, ok := types.ParseEngineKind(name)
		if !ok {
			return "", ierrors.ValidationError("select_engine",
				fmt.Errorf("unknown engine %q, expected one of %s", name, engineNames()))
		}
		return kind, nil
	}

	prompt := promptui.Select{
		Label: "Interpolation engine",
		Items: engines,
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}",
			Active:   "▸ {{ .Name | cyan }} ({{ .Kind }}){{ if not .Installed }} {{ \"not installed\" | red }}{{ end }}",
			Inactive: "  {{ .Name }} ({{ .Kind }}){{ if not .Installed }} {{ \"not installed\" | faint }}{{ end }}",
			Selected: "Engine: {{ .Name | green }}",
			Details: `
Package:    {{ .PackageDir }}
Output:     {{ .DefaultOutputExt }}
Multiplier: {{ if .NativeMultiplier }}single pass{{ else }}chained doublings{{ end }}`,
		},
		Size: len(engines),
	}
	idx, _, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return "", fmt.Errorf("no engine selected")
		}
		return "", fmt.Errorf("engine prompt failed: %w", err)
	}
	return engines[idx].Kind, nil
}

// handleInterrupts cancels the run cooperatively on the first SIGINT or
// SIGTERM and kills the engine on the second.
func handleInterrupts(cancel context.CancelFunc, mgr *interpolationmodule.Manager) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		count := 0
		for {
			select {
			case <-done:
				return
			case <-sigCh:
				count++
				if count == 1 {
					fmt.Fprintln(os.Stderr, warnStyle.Render("\nCanceling after the current pass. Press Ctrl-C again to stop the engine now."))
					cancel()
					continue
				}
				fmt.Fprintln(os.Stderr, warnStyle.Render("\nStopping the engine."))
				_ = mgr.Cancel(true)
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// trackPasses renders a pass progress bar from the manager's snapshots.
func trackPasses(ctx context.Context, mgr *interpolationmodule.Manager) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var bar *progressbar.ProgressBar
	for {
		select {
		case <-ctx.Done():
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(os.Stderr)
			}
			return
		case <-ticker.C:
		}

		snap, ok := mgr.Current()
		if !ok || snap.TotalPasses == 0 || snap.State != types.RunStateRunning {
			continue
		}
		if bar == nil {
			bar = newPassBar(snap)
		}
		bar.Describe(passDescription(snap))
		_ = bar.Set(snap.CurrentPass - 1)
	}
}

func newPassBar(snap types.SessionSnapshot) *progressbar.ProgressBar {
	return progressbar.NewOptions(snap.TotalPasses,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(passDescription(snap)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "▐",
			BarEnd:        "▌",
		}),
		progressbar.OptionShowCount(),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func passDescription(snap types.SessionSnapshot) string {
	if snap.Canceled {
		return fmt.Sprintf("%s canceling", snap.Engine)
	}
	return fmt.Sprintf("%s pass %d/%d", snap.Engine, snap.CurrentPass, snap.TotalPasses)
}
