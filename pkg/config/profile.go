package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/runningwild/spindle/pkg/engine"
)

// Profile is the YAML job description accepted through -X, for invocations
// too involved for single-letter flags. Byte-sized fields take the same
// K/M/G/b suffixes as the command line.
type Profile struct {
	Duration int `yaml:"duration"`
	Warmup   int `yaml:"warmup"`
	Cooldown int `yaml:"cooldown"`

	Latency      bool    `yaml:"latency"`
	IopsStdDev   bool    `yaml:"iops_std_dev"`
	BucketMs     uint64  `yaml:"bucket_ms"`
	Seed         *uint64 `yaml:"seed"`   // absent = time-seeded
	Engine       string  `yaml:"engine"` // kernel, suspend, uring
	NoAffinity   bool    `yaml:"no_affinity"`
	Affinity     string  `yaml:"affinity"`
	TotalThreads int     `yaml:"total_threads"`
	MetricsAddr  string  `yaml:"metrics_addr"`

	Targets []ProfileTarget `yaml:"targets"`
}

type ProfileTarget struct {
	Path string `yaml:"path"`

	BlockSize    string `yaml:"block_size"`
	BaseOffset   string `yaml:"base_offset"`
	MaxSize      string `yaml:"max_size"`
	CreateSize   string `yaml:"create_size"`
	Stride       string `yaml:"stride"`
	ThreadStride string `yaml:"thread_stride"`
	Throughput   string `yaml:"throughput"`

	Access   string `yaml:"access"` // sequential, interlocked, random
	Direct   bool   `yaml:"direct"`
	Sync     bool   `yaml:"sync"`
	Overlap  int    `yaml:"overlap"`
	Threads  int    `yaml:"threads"`
	WritePct int    `yaml:"write_pct"`

	Buffers         string `yaml:"buffers"` // pattern, zero, random
	SeparateBuffers bool   `yaml:"separate_buffers"`
}

func loadProfile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse profile %s: %w", path, err)
	}

	job := &cfg.Job
	job.Duration = 10
	job.Warmup = 5
	job.BucketDurationMs = 1000
	job.Backend = engine.BackendKernel

	if p.Duration != 0 {
		job.Duration = p.Duration
	}
	if p.Warmup != 0 {
		job.Warmup = p.Warmup
	}
	job.Cooldown = p.Cooldown
	job.MeasureLatency = p.Latency
	job.MeasureIopsStdDev = p.IopsStdDev
	if p.BucketMs != 0 {
		job.BucketDurationMs = p.BucketMs
	}
	if p.Seed != nil {
		job.RandSeed = *p.Seed
	} else {
		job.UseTimeSeed = true
	}
	switch p.Engine {
	case "", "kernel":
	case "suspend":
		job.Backend = engine.BackendSuspend
	case "uring":
		job.Backend = engine.BackendUring
	default:
		return fmt.Errorf("profile: unknown engine %q", p.Engine)
	}
	job.DisableAffinity = p.NoAffinity
	cfg.AffinitySpec = p.Affinity
	cfg.MetricsAddr = p.MetricsAddr
	if p.TotalThreads != 0 {
		job.UseTotalThreads = true
		job.TotalThreads = p.TotalThreads
	}

	if len(p.Targets) == 0 {
		return fmt.Errorf("profile: no targets specified")
	}
	for i := range p.Targets {
		t, err := profileTarget(&p.Targets[i], job)
		if err != nil {
			return err
		}
		job.Targets = append(job.Targets, t)
	}
	return nil
}

func profileTarget(pt *ProfileTarget, job *engine.JobConfig) (*engine.Target, error) {
	if pt.Path == "" {
		return nil, fmt.Errorf("profile: target without a path")
	}

	t := &engine.Target{
		Path:             pt.Path,
		SectorSize:       512,
		BlockSize:        64 * 1024,
		Overlap:          2,
		ThreadsPerTarget: 1,
		DirectIO:         pt.Direct,
		SyncIO:           pt.Sync,
		SeparateBuffers:  pt.SeparateBuffers,
	}

	size := func(s string, dst *int64) error {
		if s == "" {
			return nil
		}
		v, err := parseByteSize(s, t.BlockSize)
		if err != nil {
			return fmt.Errorf("profile target %s: %w", pt.Path, err)
		}
		*dst = v
		return nil
	}

	if err := size(pt.BlockSize, &t.BlockSize); err != nil {
		return nil, err
	}
	t.Stride = t.BlockSize
	if err := size(pt.BaseOffset, &t.BaseOffset); err != nil {
		return nil, err
	}
	if err := size(pt.MaxSize, &t.MaxSize); err != nil {
		return nil, err
	}
	if pt.CreateSize != "" {
		if err := size(pt.CreateSize, &t.Size); err != nil {
			return nil, err
		}
		t.CreateFile = true
	}
	if err := size(pt.Stride, &t.Stride); err != nil {
		return nil, err
	}
	if err := size(pt.ThreadStride, &t.ThreadStride); err != nil {
		return nil, err
	}
	if err := size(pt.Throughput, &t.MaxThroughput); err != nil {
		return nil, err
	}

	switch pt.Access {
	case "", "sequential":
	case "interlocked":
		t.Mode = engine.SequentialInterlocked
	case "random":
		t.Mode = engine.RandomAligned
	default:
		return nil, fmt.Errorf("profile target %s: unknown access %q", pt.Path, pt.Access)
	}
	if t.Mode == engine.SequentialInterlocked && t.ThreadStride != 0 {
		return nil, fmt.Errorf("profile target %s: thread_stride must be 0 with interlocked access", pt.Path)
	}

	if pt.Overlap != 0 {
		t.Overlap = pt.Overlap
	}
	if pt.Threads != 0 {
		t.ThreadsPerTarget = pt.Threads
	}
	if job.UseTotalThreads {
		t.ThreadsPerTarget = 0
	}
	if pt.WritePct < 0 || pt.WritePct > 100 {
		return nil, fmt.Errorf("profile target %s: write_pct must be 0-100", pt.Path)
	}
	t.WritePercentage = pt.WritePct

	switch pt.Buffers {
	case "", "pattern":
	case "zero":
		t.Content = engine.ZeroFill
	case "random":
		t.Content = engine.RandomFill
	default:
		return nil, fmt.Errorf("profile target %s: unknown buffers %q", pt.Path, pt.Buffers)
	}

	return t, nil
}
