package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/pointmatch/internal/match"
	"github.com/banshee-data/pointmatch/internal/transformio"
)

// DefaultConfigPath is the path to the checked-in defaults file.
const DefaultConfigPath = "config/match.defaults.json"

// maxConfigFileSize caps config files at 1MB.
const maxConfigFileSize = 1 * 1024 * 1024

// MatchConfig holds matching and output parameters. Every field is optional;
// the Get* accessors supply defaults for fields the file leaves out. The
// same JSON shape is accepted by the HTTP match endpoint.
type MatchConfig struct {
	// Engine params
	Tolerance    *float64 `json:"tolerance,omitempty"`
	Index        *string  `json:"index,omitempty"` // auto, linear, grid, kdtree
	GridCellSize *float64 `json:"grid_cell_size,omitempty"`
	Workers      *int     `json:"workers,omitempty"`
	EmptyModel   *string  `json:"empty_model,omitempty"` // reject, match-all

	// Output params
	OutputFormat *string `json:"output_format,omitempty"` // matrix, rowmajor, trs
	OutputDir    *string `json:"output_dir,omitempty"`
	Persist      *bool   `json:"persist,omitempty"`
	DBPath       *string `json:"db_path,omitempty"`

	// Cycler params
	CycleAnimate *string `json:"cycle_animate,omitempty"` // duration string like "3s"
	CycleDwell   *string `json:"cycle_dwell,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrBool(v bool) *bool          { return &v }

// DefaultMatchConfig returns a config with every field set to its default.
func DefaultMatchConfig() *MatchConfig {
	return &MatchConfig{
		Tolerance:    ptrFloat64(0.1),
		Index:        ptrString(string(match.IndexAuto)),
		GridCellSize: ptrFloat64(0),
		Workers:      ptrInt(1),
		EmptyModel:   ptrString(string(match.EmptyModelReject)),
		OutputFormat: ptrString(string(transformio.FormatMatrix)),
		OutputDir:    ptrString("."),
		Persist:      ptrBool(false),
		DBPath:       ptrString("pointmatch.db"),
		CycleAnimate: ptrString("3s"),
		CycleDwell:   ptrString("2s"),
	}
}

// LoadMatchConfig loads a MatchConfig from a JSON file. Omitted fields stay
// nil and fall back to defaults through the Get* accessors.
func LoadMatchConfig(path string) (*MatchConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &MatchConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set.
func (c *MatchConfig) Validate() error {
	if c.Tolerance != nil {
		if v := *c.Tolerance; math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("tolerance must be finite and >= 0, got %v", v)
		}
	}
	if c.Index != nil {
		if _, err := match.ParseIndexKind(*c.Index); err != nil {
			return err
		}
	}
	if c.GridCellSize != nil && *c.GridCellSize < 0 {
		return fmt.Errorf("grid_cell_size must be non-negative, got %v", *c.GridCellSize)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.EmptyModel != nil {
		if _, err := match.ParseEmptyModelPolicy(*c.EmptyModel); err != nil {
			return err
		}
	}
	if c.OutputFormat != nil {
		if _, err := transformio.ParseFormat(*c.OutputFormat); err != nil {
			return err
		}
	}
	for name, v := range map[string]*string{"cycle_animate": c.CycleAnimate, "cycle_dwell": c.CycleDwell} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, d)
		}
	}
	return nil
}

// Merge overlays every field set in o onto c.
func (c *MatchConfig) Merge(o *MatchConfig) {
	if o == nil {
		return
	}
	if o.Tolerance != nil {
		c.Tolerance = o.Tolerance
	}
	if o.Index != nil {
		c.Index = o.Index
	}
	if o.GridCellSize != nil {
		c.GridCellSize = o.GridCellSize
	}
	if o.Workers != nil {
		c.Workers = o.Workers
	}
	if o.EmptyModel != nil {
		c.EmptyModel = o.EmptyModel
	}
	if o.OutputFormat != nil {
		c.OutputFormat = o.OutputFormat
	}
	if o.OutputDir != nil {
		c.OutputDir = o.OutputDir
	}
	if o.Persist != nil {
		c.Persist = o.Persist
	}
	if o.DBPath != nil {
		c.DBPath = o.DBPath
	}
	if o.CycleAnimate != nil {
		c.CycleAnimate = o.CycleAnimate
	}
	if o.CycleDwell != nil {
		c.CycleDwell = o.CycleDwell
	}
}

// GetTolerance returns the tolerance value or the default.
func (c *MatchConfig) GetTolerance() float64 {
	if c.Tolerance == nil {
		return 0.1
	}
	return *c.Tolerance
}

// GetIndex returns the index kind or the default.
func (c *MatchConfig) GetIndex() match.IndexKind {
	if c.Index == nil {
		return match.IndexAuto
	}
	k, err := match.ParseIndexKind(*c.Index)
	if err != nil {
		return match.IndexAuto
	}
	return k
}

// GetGridCellSize returns the grid cell size; zero lets the engine pick.
func (c *MatchConfig) GetGridCellSize() float64 {
	if c.GridCellSize == nil {
		return 0
	}
	return *c.GridCellSize
}

// GetWorkers returns the worker count or the default.
func (c *MatchConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers < 1 {
		return 1
	}
	return *c.Workers
}

// GetEmptyModel returns the empty-model policy or the default.
func (c *MatchConfig) GetEmptyModel() match.EmptyModelPolicy {
	if c.EmptyModel == nil {
		return match.EmptyModelReject
	}
	p, err := match.ParseEmptyModelPolicy(*c.EmptyModel)
	if err != nil {
		return match.EmptyModelReject
	}
	return p
}

// GetOutputFormat returns the output format or the default.
func (c *MatchConfig) GetOutputFormat() transformio.Format {
	if c.OutputFormat == nil {
		return transformio.FormatMatrix
	}
	f, err := transformio.ParseFormat(*c.OutputFormat)
	if err != nil {
		return transformio.FormatMatrix
	}
	return f
}

// GetOutputDir returns the output directory or the default.
func (c *MatchConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return "."
	}
	return *c.OutputDir
}

// GetPersist returns the persist flag or the default.
func (c *MatchConfig) GetPersist() bool {
	if c.Persist == nil {
		return false
	}
	return *c.Persist
}

// GetDBPath returns the database path or the default.
func (c *MatchConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "pointmatch.db"
	}
	return *c.DBPath
}

// GetCycleAnimate parses and returns the animate duration.
func (c *MatchConfig) GetCycleAnimate() time.Duration {
	return parseDurationOr(c.CycleAnimate, 3*time.Second)
}

// GetCycleDwell parses and returns the dwell duration.
func (c *MatchConfig) GetCycleDwell() time.Duration {
	return parseDurationOr(c.CycleDwell, 2*time.Second)
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// EngineOptions converts the engine params into match.Options.
func (c *MatchConfig) EngineOptions() match.Options {
	return match.Options{
		Index:        c.GetIndex(),
		GridCellSize: c.GetGridCellSize(),
		Workers:      c.GetWorkers(),
		EmptyModel:   c.GetEmptyModel(),
	}
}
