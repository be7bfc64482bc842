package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/runningwild/spindle/pkg/engine"
)

func parse(t *testing.T, args ...string) *Config {
	t.Helper()
	cfg, err := Parse(append([]string{"spindle"}, args...))
	if err != nil {
		t.Fatalf("Parse(%v): %v", args, err)
	}
	return cfg
}

func parseErr(t *testing.T, args ...string) error {
	t.Helper()
	_, err := Parse(append([]string{"spindle"}, args...))
	if err == nil {
		t.Fatalf("Parse(%v): expected error", args)
	}
	return err
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in    string
		block int64
		want  int64
	}{
		{"4096", 1, 4096},
		{"64K", 1, 64 * 1024},
		{"2M", 1, 2 * 1024 * 1024},
		{"1G", 1, 1 << 30},
		{"4b", 4096, 16384},
	}
	for _, c := range cases {
		got, err := parseByteSize(c.in, c.block)
		if err != nil {
			t.Errorf("parseByteSize(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("parseByteSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
	for _, in := range []string{"", "K", "12Q", "-5", "1.5M"} {
		if _, err := parseByteSize(in, 1); err == nil {
			t.Errorf("parseByteSize(%q): expected error", in)
		}
	}
}

func TestDefaults(t *testing.T) {
	cfg := parse(t, "/tmp/target")
	job := &cfg.Job
	if job.Duration != 10 || job.Warmup != 5 {
		t.Errorf("duration/warmup defaults: %d/%d", job.Duration, job.Warmup)
	}
	if job.Backend != engine.BackendKernel {
		t.Errorf("default backend: %v", job.Backend)
	}
	tg := job.Targets[0]
	if tg.BlockSize != 64*1024 || tg.Overlap != 2 || tg.ThreadsPerTarget != 1 {
		t.Errorf("target defaults: block=%d overlap=%d threads=%d", tg.BlockSize, tg.Overlap, tg.ThreadsPerTarget)
	}
	if tg.Stride != tg.BlockSize {
		t.Errorf("default stride %d != block size %d", tg.Stride, tg.BlockSize)
	}
	if tg.Mode != engine.SequentialPerThread {
		t.Errorf("default mode: %v", tg.Mode)
	}
}

func TestAttachedAndSeparateArgs(t *testing.T) {
	a := parse(t, "-b4K", "-o8", "/tmp/x")
	b := parse(t, "-b", "4K", "-o", "8", "/tmp/x")
	if a.Job.Targets[0].BlockSize != 4096 || b.Job.Targets[0].BlockSize != 4096 {
		t.Error("block size not picked up in both forms")
	}
	if a.Job.Targets[0].Overlap != 8 || b.Job.Targets[0].Overlap != 8 {
		t.Error("overlap not picked up in both forms")
	}
}

func TestAccessModes(t *testing.T) {
	if tg := parse(t, "-r", "/t").Job.Targets[0]; tg.Mode != engine.RandomAligned || tg.Stride != 64*1024 {
		t.Errorf("-r: mode=%v stride=%d", tg.Mode, tg.Stride)
	}
	if tg := parse(t, "-b4K", "-r8K", "/t").Job.Targets[0]; tg.Stride != 8192 {
		t.Errorf("-r8K: stride=%d", tg.Stride)
	}
	if tg := parse(t, "-si", "/t").Job.Targets[0]; tg.Mode != engine.SequentialInterlocked || tg.Stride != 64*1024 {
		t.Errorf("-si: mode=%v stride=%d", tg.Mode, tg.Stride)
	}
	if tg := parse(t, "-b4K", "-si4K", "/t").Job.Targets[0]; tg.Stride != 4096 {
		t.Errorf("-si4K: stride=%d", tg.Stride)
	}
	// -r overrides -s.
	if tg := parse(t, "-s8K", "-r", "/t").Job.Targets[0]; tg.Mode != engine.RandomAligned {
		t.Errorf("-r should override -s: mode=%v", tg.Mode)
	}
}

func TestBlockSuffix(t *testing.T) {
	tg := parse(t, "-b4K", "-B2b", "/t").Job.Targets[0]
	if tg.BaseOffset != 8192 {
		t.Errorf("-B2b with -b4K: base=%d", tg.BaseOffset)
	}
}

func TestConflicts(t *testing.T) {
	parseErr(t, "-t2", "-F4", "/t")
	parseErr(t, "-si", "-T4K", "/t")
	parseErr(t, "-Zzr", "/t")
	parseErr(t, "-w101", "/t")
	parseErr(t, "-xq", "/t")
	parseErr(t, "-Sq", "/t")
	parseErr(t)            // no targets
	parseErr(t, "-b0", "/t") // zero block size
}

func TestCachingAndBuffers(t *testing.T) {
	tg := parse(t, "-Sh", "/t").Job.Targets[0]
	if !tg.DirectIO || !tg.SyncIO {
		t.Errorf("-Sh: direct=%v sync=%v", tg.DirectIO, tg.SyncIO)
	}
	tg = parse(t, "-Zzs", "/t").Job.Targets[0]
	if tg.Content != engine.ZeroFill || !tg.SeparateBuffers {
		t.Errorf("-Zzs: content=%v separate=%v", tg.Content, tg.SeparateBuffers)
	}
}

func TestSeedAndBackend(t *testing.T) {
	job := parse(t, "-z42", "-xp", "/t").Job
	if job.UseTimeSeed || job.RandSeed != 42 {
		t.Errorf("-z42: time=%v seed=%d", job.UseTimeSeed, job.RandSeed)
	}
	if job.Backend != engine.BackendSuspend {
		t.Errorf("-xp: backend=%v", job.Backend)
	}
	if job := parse(t, "-z", "/t").Job; !job.UseTimeSeed {
		t.Error("plain -z should time-seed")
	}
	if job := parse(t, "-xu", "/t").Job; job.Backend != engine.BackendUring {
		t.Errorf("-xu: backend=%v", job.Backend)
	}
}

func TestIopsStdDev(t *testing.T) {
	job := parse(t, "-D", "/t").Job
	if !job.MeasureIopsStdDev || job.BucketDurationMs != 1000 {
		t.Errorf("-D: measure=%v bucket=%d", job.MeasureIopsStdDev, job.BucketDurationMs)
	}
	if job := parse(t, "-D500", "/t").Job; job.BucketDurationMs != 500 {
		t.Errorf("-D500: bucket=%d", job.BucketDurationMs)
	}
}

func TestFinalize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "target")
	if err := os.WriteFile(path, make([]byte, 1<<20), 0o664); err != nil {
		t.Fatal(err)
	}

	cfg := parse(t, "-b4K", path)
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	tg := cfg.Job.Targets[0]
	if tg.Size != 1<<20 || tg.MaxSize != 1<<20 {
		t.Errorf("size=%d max=%d, want 1MiB", tg.Size, tg.MaxSize)
	}

	// Missing target without -c.
	cfg = parse(t, filepath.Join(dir, "missing"))
	if err := cfg.Finalize(); err == nil {
		t.Error("Finalize should fail on a missing target")
	}

	// Max size larger than the file.
	cfg = parse(t, "-f2M", path)
	if err := cfg.Finalize(); err == nil {
		t.Error("Finalize should reject -f larger than the file")
	}

	// Block size larger than the usable interval.
	cfg = parse(t, "-b2M", "-c1M", filepath.Join(dir, "fresh"))
	if err := cfg.Finalize(); err == nil {
		t.Error("Finalize should reject block size over the usable interval")
	}

	// Existing file already large enough: -c degrades to reuse.
	cfg = parse(t, "-c64K", path)
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if cfg.Job.Targets[0].CreateFile {
		t.Error("-c on a large-enough existing file should not recreate it")
	}
}

func TestProfile(t *testing.T) {
	dir := t.TempDir()
	profile := filepath.Join(dir, "job.yaml")
	content := strings.TrimSpace(`
duration: 3
warmup: 1
latency: true
engine: suspend
seed: 7
targets:
  - path: /tmp/dev-a
    block_size: 4K
    access: random
    overlap: 4
    write_pct: 30
`)
	if err := os.WriteFile(profile, []byte(content), 0o664); err != nil {
		t.Fatal(err)
	}

	cfg := parse(t, "-X", profile)
	job := &cfg.Job
	if job.Duration != 3 || job.Warmup != 1 || !job.MeasureLatency {
		t.Errorf("profile job: %+v", job)
	}
	if job.Backend != engine.BackendSuspend || job.RandSeed != 7 || job.UseTimeSeed {
		t.Errorf("profile backend/seed: %v %d %v", job.Backend, job.RandSeed, job.UseTimeSeed)
	}
	tg := job.Targets[0]
	if tg.Path != "/tmp/dev-a" || tg.BlockSize != 4096 || tg.Mode != engine.RandomAligned ||
		tg.Overlap != 4 || tg.WritePercentage != 30 {
		t.Errorf("profile target: %+v", tg)
	}

	// Profile conflicts with other flags and targets.
	parseErr(t, "-X", profile, "-b4K")
	parseErr(t, "-X", profile, "/tmp/extra")
}
