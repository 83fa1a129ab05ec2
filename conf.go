package main

import (
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/memmaker/voxelterrain/engine/builder"
	"github.com/memmaker/voxelterrain/engine/util"
	"github.com/memmaker/voxelterrain/engine/voxel"
	"github.com/memmaker/voxelterrain/engine/world"
)

// UserConfig is the on-disk configuration of the terrain builder. It is
// stored as TOML and converted to a world.Config with Config.
type UserConfig struct {
	World struct {
		// Seed drives the heightmap generator, 0 to 4294967295.
		Seed int64
		// Width, Height and Depth are the terrain size in chunks.
		Width  int32
		Height int32
		Depth  int32
		// Snapshot is loaded on startup when it exists and written once the
		// terrain is built. Leave empty to always generate and never save.
		Snapshot string
		// Export is the glTF file written once the terrain is built. A .glb
		// extension writes the binary container. Leave empty to skip.
		Export string
	}
	Worker struct {
		// QueueCapacity bounds the build queue, 0 leaves it unbounded.
		QueueCapacity int
		// ErrorRetention bounds the number of retained worker errors, 0 keeps all.
		ErrorRetention int
		// MaxRetries is how often a failed stage is scheduled again before the chunk is given up on.
		MaxRetries int
	}
	Log struct {
		// Level is one of debug, info, warn or error.
		Level string
		// Categories limits output to voxel, worker, io and system. Empty logs every category.
		Categories []string
	}
	Frames struct {
		// Rate is the number of frames per second the owning thread runs.
		Rate int
		// Limit stops the frame loop after this many frames, 0 runs until the terrain is done.
		Limit int
	}
}

// DefaultConfig returns the configuration written when no file exists yet.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.World.Seed = 1337
	c.World.Width = 4
	c.World.Height = 1
	c.World.Depth = 4
	c.World.Snapshot = "maps/terrain.nbt.zst"
	c.World.Export = "export/terrain.glb"
	c.Worker.MaxRetries = 2
	c.Log.Level = "info"
	c.Frames.Rate = 60
	return c
}

// Config converts the user configuration into a world.Config.
func (uc UserConfig) Config(log *slog.Logger) (world.Config, error) {
	if uc.World.Width <= 0 || uc.World.Height <= 0 || uc.World.Depth <= 0 {
		return world.Config{}, errors.Errorf("config: world size %dx%dx%d must be positive", uc.World.Width, uc.World.Height, uc.World.Depth)
	}
	if uc.Worker.QueueCapacity < 0 || uc.Worker.ErrorRetention < 0 || uc.Worker.MaxRetries < 0 {
		return world.Config{}, errors.New("config: worker limits must not be negative")
	}
	if uc.World.Seed < 0 || uc.World.Seed > math.MaxUint32 {
		return world.Config{}, errors.Errorf("config: seed %d out of range 0..%d", uc.World.Seed, uint32(math.MaxUint32))
	}
	return world.Config{
		Width:     uc.World.Width,
		Height:    uc.World.Height,
		Depth:     uc.World.Depth,
		Generator: voxel.NewHeightmapGenerator(uint32(uc.World.Seed)),
		Log:       log,
		Worker: builder.Config{
			Log:            util.Logger(util.LogWorker),
			QueueCapacity:  uc.Worker.QueueCapacity,
			ErrorRetention: uc.Worker.ErrorRetention,
		},
		MaxRetries: uc.Worker.MaxRetries,
	}, nil
}

// readConfig reads the configuration at path, writing the defaults there first if it does not exist.
func readConfig(path string) (UserConfig, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		data, err = toml.Marshal(c)
		if err != nil {
			return c, errors.Wrap(err, "encode default config")
		}
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return c, errors.Wrap(err, "create config directory")
			}
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return c, errors.Wrap(err, "write default config")
		}
		return c, nil
	}
	if err != nil {
		return c, errors.Wrap(err, "read config")
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, errors.Wrap(err, "decode config")
	}
	if c.Frames.Rate <= 0 {
		c.Frames.Rate = 60
	}
	return c, nil
}
