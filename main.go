// Command amend evaluates a parametric shape script, samples its surface
// around a brush and reports how each hyperparameter moves the samples.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/chazu/amend/internal/config"
	"github.com/chazu/amend/internal/logger"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

func main() {
	flags := config.RegisterFlags(flag.CommandLine)
	stlDir := flag.String("stl", "", "Write one world-space STL per object into this directory")
	project := flag.String("project", "", "Project the samples onto this STL mesh")
	watch := flag.Bool("watch", false, "Re-run whenever the script changes")
	overrides := config.Values{}
	flag.Var(overrides, "set", "Hyperparameter override name=value (repeatable)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] script\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	script := flag.Arg(0)

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	app := NewApp(cfg, logger.Named("amend"))
	app.Overrides = overrides
	app.STLDir = *stlDir
	app.ProjectSTL = *project

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *watch {
		err = watchScript(ctx, app, script)
	} else {
		err = runScript(ctx, app, script)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

// runScript runs the script at path once and logs the report.
func runScript(ctx context.Context, app *App, path string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	report, err := app.Run(ctx, string(source))
	if err != nil {
		return err
	}
	log := logger.Named("report")
	for _, o := range report.Objects {
		log.Info("object",
			zap.String("name", o.Name),
			zap.Int("triangles", o.Triangles),
			zap.String("min", formatVec(o.Bounds.Min)),
			zap.String("max", formatVec(o.Bounds.Max)))
	}
	log.Info("done", zap.String("script", path), zap.Object("report", report))
	log.Debug("trace", zap.Object("trace", report.Trace))
	log.Debug("profiling", zap.Object("counters", app.Profiling()))
	return nil
}

// watchScript runs the script, then runs it again each time it is written.
// Errors from a run are logged and watching continues.
func watchScript(ctx context.Context, app *App, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	// Editors often replace the file, so watch its directory.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	log := logger.Named("watch")
	rerun := make(chan struct{}, 1)
	debounced := debounce.New(100 * time.Millisecond)
	trigger := func() {
		select {
		case rerun <- struct{}{}:
		default:
		}
	}
	trigger()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rerun:
			if err := runScript(ctx, app, abs); err != nil {
				log.Warn("run failed", zap.Error(err))
			}
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != abs {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				log.Debug("changed", zap.String("file", event.Name), zap.Stringer("op", event.Op))
				debounced(trigger)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", zap.Error(err))
		}
	}
}
