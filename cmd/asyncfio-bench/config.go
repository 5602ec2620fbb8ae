package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joeycumines/go-asyncfio"
	"gopkg.in/yaml.v3"
)

// config is the benchmark configuration. A YAML profile (-config) supplies
// values first, then any flags given explicitly override it.
type config struct {
	File           string        `yaml:"file"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	RunTime        time.Duration `yaml:"run_time"`
	Rate           float64       `yaml:"rate"`
	Depth          int           `yaml:"depth"`
	Block          int           `yaml:"block"`
	Workers        int           `yaml:"workers"`
	Entries        uint          `yaml:"entries"`
	Direct         bool          `yaml:"direct"`
	NoOp           bool          `yaml:"noop"`
	TrackLatencies bool          `yaml:"track_latencies"`
	Random         bool          `yaml:"random"`
}

func defaultConfig() config {
	return config{
		Depth:   128,
		Block:   4096,
		Workers: 1,
		Direct:  true,
		Random:  true,
	}
}

func bindFlags(fs *flag.FlagSet, cfg *config, profile *string) {
	fs.StringVar(profile, "config", "", "YAML profile; explicit flags override it")
	fs.IntVar(&cfg.Depth, "d", cfg.Depth, "I/O depth per worker")
	fs.IntVar(&cfg.Block, "b", cfg.Block, "Block size in bytes")
	fs.IntVar(&cfg.Workers, "w", cfg.Workers, "Number of workers, each with its own executor")
	fs.BoolVar(&cfg.Direct, "O", cfg.Direct, "Use O_DIRECT")
	fs.BoolVar(&cfg.NoOp, "N", cfg.NoOp, "Submit no-ops only")
	fs.BoolVar(&cfg.TrackLatencies, "t", cfg.TrackLatencies, "Track wakeup and command latencies")
	fs.DurationVar(&cfg.RunTime, "r", cfg.RunTime, "Run time (0 = until interrupted)")
	fs.BoolVar(&cfg.Random, "R", cfg.Random, "Random offsets instead of sequential")
	fs.Float64Var(&cfg.Rate, "rate", cfg.Rate, "Max operations per second per worker (0 = unlimited)")
	fs.UintVar(&cfg.Entries, "entries", cfg.Entries, "Ring entries (0 = depth, rounded up)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address")
}

func parseConfig(args []string, stderr io.Writer) (*config, error) {
	// first pass only locates the profile
	var profile string
	scratch := defaultConfig()
	pre := flag.NewFlagSet("asyncfio-bench", flag.ContinueOnError)
	pre.SetOutput(io.Discard)
	bindFlags(pre, &scratch, &profile)
	if err := pre.Parse(args); err != nil && !errors.Is(err, flag.ErrHelp) {
		// reported properly by the second pass
		profile = ""
	}

	cfg := defaultConfig()
	if profile != "" {
		data, err := os.ReadFile(profile)
		if err != nil {
			return nil, fmt.Errorf("reading profile: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing profile %s: %w", profile, err)
		}
	}

	fs := flag.NewFlagSet("asyncfio-bench", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: asyncfio-bench [flags] <file>\n\n")
		fs.PrintDefaults()
	}
	bindFlags(fs, &cfg, &profile)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		cfg.File = fs.Arg(0)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *config) validate() error {
	switch {
	case c.File == "" && !c.NoOp:
		return errors.New("a file is required unless -N is set")
	case c.Depth <= 0:
		return fmt.Errorf("invalid depth %d", c.Depth)
	case c.Block <= 0:
		return fmt.Errorf("invalid block size %d", c.Block)
	case c.Workers <= 0:
		return fmt.Errorf("invalid worker count %d", c.Workers)
	case c.Rate < 0:
		return fmt.Errorf("invalid rate %v", c.Rate)
	}
	return nil
}

// ringEntries picks the ring size: explicit, else the depth rounded up to a
// power of two.
func (c *config) ringEntries() uint32 {
	if c.Entries != 0 {
		return uint32(c.Entries)
	}
	n := uint32(1)
	for n < uint32(c.Depth) && n < asyncfio.DefaultRingEntries*8 {
		n <<= 1
	}
	return n
}
