package main

import (
	"context"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"time"

	"github.com/faiface/mainthread"
	"github.com/pkg/errors"

	"github.com/memmaker/voxelterrain/engine/util"
	"github.com/memmaker/voxelterrain/engine/voxel"
	"github.com/memmaker/voxelterrain/engine/world"
)

func main() {
	configPath := flag.String("config", "terrain.toml", "path of the TOML configuration, created with defaults if missing")
	flag.Parse()

	mainthread.Run(func() {
		if err := runBuilder(*configPath); err != nil {
			util.LogSystemError("terrain build failed", "error", err)
			os.Exit(1)
		}
	})
}

func runBuilder(configPath string) error {
	uc, err := readConfig(configPath)
	if err != nil {
		return err
	}
	util.SetupLogging(os.Stderr, util.ParseLogLevel(uc.Log.Level), util.ParseLogCategories(uc.Log.Categories))

	conf, err := uc.Config(util.Logger(util.LogVoxel))
	if err != nil {
		return err
	}
	terrain, err := openTerrain(uc.World.Snapshot, conf)
	if err != nil {
		return err
	}
	defer terrain.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if !runFrames(ctx, terrain, uc.Frames.Rate, uc.Frames.Limit) {
		util.LogSystemInfo("terrain incomplete, skipping save and export")
		return nil
	}
	return finish(terrain, uc.World.Snapshot, uc.World.Export)
}

// openTerrain loads the snapshot at path when it exists and generates a new terrain otherwise.
func openTerrain(path string, conf world.Config) (*world.Terrain, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return world.LoadTerrain(path, conf)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(err, "stat snapshot %s", path)
		}
	}
	return world.NewTerrain(conf)
}

// runFrames drives the terrain from the main thread until every chunk is
// done, the frame limit is hit or ctx is cancelled. It reports whether the
// terrain finished.
func runFrames(ctx context.Context, terrain *world.Terrain, rate, limit int) bool {
	if rate <= 0 {
		rate = 60
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	progress := newProgressReporter(os.Stdout)
	defer progress.Close()
	start := time.Now()

	for frame := 1; ; frame++ {
		select {
		case <-ctx.Done():
			util.LogSystemInfo("interrupted", "frame", frame)
			return false
		case <-ticker.C:
		}

		var ready []*voxel.Chunk
		mainthread.Call(func() {
			ready = terrain.Update()
		})
		done, failed, total := terrain.Progress()
		progress.Frame(frame, len(ready), done, failed, total, terrain.Worker().WorkCount())

		if terrain.Done() {
			util.LogSystemInfo("terrain built", "frames", frame, "elapsed", time.Since(start).Round(time.Millisecond), "ready", done, "failed", failed)
			for _, stage := range terrain.Worker().Stats().Stages {
				util.LogSystemInfo("stage timing", "stage", stage.Name, "avg_ms", stage.AverageDuration(), "max_ms", stage.MaxDuration, "count", stage.ExecutionCount)
			}
			return true
		}
		if limit > 0 && frame >= limit {
			util.LogSystemInfo("frame limit reached", "frames", frame, "ready", done, "total", total)
			return false
		}
	}
}

func finish(terrain *world.Terrain, snapshot, export string) error {
	deadline := time.Now().Add(5 * time.Second)
	for terrain.Worker().IsBusy() {
		if time.Now().After(deadline) {
			return errors.New("build worker did not settle")
		}
		time.Sleep(time.Millisecond)
	}
	if snapshot != "" {
		if err := terrain.SaveToDisk(snapshot); err != nil {
			return err
		}
	}
	if export != "" {
		if _, err := terrain.ExportGLTF(export); err != nil {
			return err
		}
	}
	return nil
}
