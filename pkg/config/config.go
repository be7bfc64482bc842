package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/runningwild/spindle/pkg/engine"
	"github.com/runningwild/spindle/pkg/sysinfo"
)

// Config is the fully parsed invocation: the job plus everything the
// outer layers need (verbosity, affinity spec, metrics address, command
// line echo for the report).
type Config struct {
	CmdLine string
	Verbose bool

	AffinitySpec string
	MetricsAddr  string

	Job engine.JobConfig
}

// Parse builds a Config from os.Args-style argv. Filesystem-dependent
// validation happens later in Finalize.
func Parse(argv []string) (*Config, error) {
	o, err := parseArgs(argv[1:])
	if err != nil {
		return nil, err
	}

	cfg := &Config{CmdLine: strings.Join(argv, " ")}
	cfg.Verbose = o.has('v')

	if o.has('X') {
		for letter := range o.seen {
			if letter != 'X' && letter != 'v' {
				return nil, fmt.Errorf("-X profile conflicts with -%c", letter)
			}
		}
		if len(o.targets) > 0 {
			return nil, fmt.Errorf("-X profile conflicts with positional targets")
		}
		if err := loadProfile(o.arg('X'), cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	if err := fromOptions(o, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromOptions(o *options, cfg *Config) error {
	if len(o.targets) == 0 {
		return fmt.Errorf("no targets specified")
	}

	job := &cfg.Job
	job.Duration = 10
	job.Warmup = 5
	job.BucketDurationMs = 1000
	job.Backend = engine.BackendKernel

	// All targets share one option set on the command line; dummy collects
	// it and is stamped onto each target at the end.
	dummy := engine.Target{
		SectorSize:       512,
		BlockSize:        64 * 1024,
		Overlap:          2,
		ThreadsPerTarget: 1,
	}

	cfg.AffinitySpec = o.arg('a')
	cfg.MetricsAddr = o.arg('M')

	var err error
	if o.has('b') {
		if dummy.BlockSize, err = parseByteSize(o.arg('b'), 1); err != nil {
			return err
		}
	}
	if o.has('B') {
		if dummy.BaseOffset, err = parseByteSize(o.arg('B'), dummy.BlockSize); err != nil {
			return err
		}
	}
	if o.has('c') {
		if dummy.Size, err = parseByteSize(o.arg('c'), dummy.BlockSize); err != nil {
			return err
		}
		dummy.CreateFile = true
	}
	if o.has('C') {
		job.Cooldown = atoiChecked(o.arg('C'))
	}
	if o.has('d') {
		job.Duration = atoiChecked(o.arg('d'))
	}
	if o.has('D') {
		job.MeasureIopsStdDev = true
		if arg := o.arg('D'); arg != "" {
			job.BucketDurationMs = uint64(atoiChecked(arg))
			if job.BucketDurationMs == 0 {
				return fmt.Errorf("-D interval must be non-zero")
			}
		}
	}
	if o.has('f') {
		if dummy.MaxSize, err = parseByteSize(o.arg('f'), dummy.BlockSize); err != nil {
			return err
		}
	}
	if o.has('F') {
		if o.has('t') {
			return fmt.Errorf("can't use -t and -F at the same time")
		}
		job.UseTotalThreads = true
		job.TotalThreads = atoiChecked(o.arg('F'))
		if job.TotalThreads == 0 {
			return fmt.Errorf("-F requires at least one thread")
		}
		dummy.ThreadsPerTarget = 0
	}
	if o.has('g') {
		if dummy.MaxThroughput, err = parseByteSize(o.arg('g'), dummy.BlockSize); err != nil {
			return err
		}
	}
	job.MeasureLatency = o.has('L')
	job.DisableAffinity = o.has('n')
	if o.has('o') {
		dummy.Overlap = atoiChecked(o.arg('o'))
	}

	// Access mode: random overrides sequential stride, which may carry the
	// interlocked qualifier.
	dummy.Stride = dummy.BlockSize
	if o.has('r') {
		dummy.Mode = engine.RandomAligned
		if arg := o.arg('r'); arg != "" {
			if dummy.Stride, err = parseByteSize(arg, dummy.BlockSize); err != nil {
				return err
			}
		}
	} else if o.has('s') {
		arg := o.arg('s')
		if strings.HasPrefix(arg, "i") {
			dummy.Mode = engine.SequentialInterlocked
			arg = arg[1:]
		}
		if arg != "" {
			if dummy.Stride, err = parseByteSize(arg, dummy.BlockSize); err != nil {
				return fmt.Errorf("argument to -s: %w", err)
			}
			if dummy.Stride == 0 {
				return fmt.Errorf("-s stride must be non-zero")
			}
		}
	}

	if o.has('S') {
		for _, c := range o.arg('S') {
			switch c {
			case 'd':
				dummy.DirectIO = true
			case 's':
				dummy.SyncIO = true
			case 'h':
				dummy.DirectIO = true
				dummy.SyncIO = true
			default:
				return fmt.Errorf("invalid caching option -S%c", c)
			}
		}
	}

	if o.has('t') {
		dummy.ThreadsPerTarget = atoiChecked(o.arg('t'))
	}
	if o.has('T') {
		if dummy.Mode == engine.SequentialInterlocked {
			return fmt.Errorf("stride between threads must be 0 if using -si")
		}
		if dummy.ThreadStride, err = parseByteSize(o.arg('T'), dummy.BlockSize); err != nil {
			return err
		}
	}
	if o.has('w') {
		if arg := o.arg('w'); arg != "" {
			dummy.WritePercentage = atoiChecked(arg)
			if dummy.WritePercentage > 100 {
				return fmt.Errorf("-w must be 0-100")
			}
		}
	}
	if o.has('W') {
		job.Warmup = atoiChecked(o.arg('W'))
	}
	if o.has('x') {
		switch o.arg('x') {
		case "k":
			job.Backend = engine.BackendKernel
		case "p":
			job.Backend = engine.BackendSuspend
		case "u":
			job.Backend = engine.BackendUring
		default:
			return fmt.Errorf("invalid io backend %q: choose from k, p, u", o.arg('x'))
		}
	}
	if o.has('z') {
		if arg := o.arg('z'); arg == "" {
			job.UseTimeSeed = true
		} else {
			seed, err := strconv.ParseUint(arg, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid seed %q", arg)
			}
			job.RandSeed = seed
		}
	}
	if o.has('Z') {
		var zero, random bool
		for _, c := range o.arg('Z') {
			switch c {
			case 'z':
				zero = true
				dummy.Content = engine.ZeroFill
			case 'r':
				random = true
				dummy.Content = engine.RandomFill
			case 's':
				dummy.SeparateBuffers = true
			default:
				return fmt.Errorf("invalid io-buffers option -Z%c", c)
			}
		}
		if zero && random {
			return fmt.Errorf("conflicting arguments specified for -Z")
		}
	}

	for _, path := range o.targets {
		dummy.Path = path
		job.Targets = append(job.Targets, cloneTarget(&dummy))
	}
	return nil
}

// cloneTarget copies the option fields into a fresh Target, leaving the
// embedded cursor mutex zeroed.
func cloneTarget(src *engine.Target) *engine.Target {
	return &engine.Target{
		Path:             src.Path,
		Size:             src.Size,
		SectorSize:       src.SectorSize,
		CreateFile:       src.CreateFile,
		BlockSize:        src.BlockSize,
		BaseOffset:       src.BaseOffset,
		MaxSize:          src.MaxSize,
		Overlap:          src.Overlap,
		ThreadStride:     src.ThreadStride,
		Stride:           src.Stride,
		Mode:             src.Mode,
		DirectIO:         src.DirectIO,
		SyncIO:           src.SyncIO,
		WritePercentage:  src.WritePercentage,
		ThreadsPerTarget: src.ThreadsPerTarget,
		Content:          src.Content,
		SeparateBuffers:  src.SeparateBuffers,
		MaxThroughput:    src.MaxThroughput,
	}
}

// atoiChecked converts an argument already validated as numeric.
func atoiChecked(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

// Finalize resolves target sizes against the filesystem and applies the
// checks that need OS facts. Runs before the pre-fill collaborator.
func (cfg *Config) Finalize() error {
	job := &cfg.Job
	for _, t := range job.Targets {
		info, err := os.Stat(t.Path)
		exists := err == nil
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("stat target %s: %w", t.Path, err)
		}
		isDevice := exists && info.Mode()&os.ModeDevice != 0

		if t.CreateFile {
			if isDevice {
				return fmt.Errorf("target %s is an existing device, don't use -c", t.Path)
			}
			// An existing file that is already large enough is reused as-is.
			if exists && info.Size() >= t.Size {
				t.CreateFile = false
			}
		} else {
			if !exists {
				return fmt.Errorf("target %s does not exist", t.Path)
			}
			if isDevice {
				dev, err := sysinfo.DeviceForPath(t.Path)
				if err != nil {
					return err
				}
				if dev.Size == 0 {
					return fmt.Errorf("can't determine size of device %s", t.Path)
				}
				t.Size = int64(dev.Size)
			} else {
				t.Size = info.Size()
			}
		}

		if t.MaxSize == 0 {
			t.MaxSize = t.Size
		}
		if t.MaxSize > t.Size {
			return fmt.Errorf("target %s: -f size can't be larger than the actual size", t.Path)
		}
		if err := validateTarget(t, job); err != nil {
			return err
		}
	}
	return nil
}

func validateTarget(t *engine.Target, job *engine.JobConfig) error {
	if t.MaxSize <= t.BaseOffset || t.MaxSize-t.BaseOffset < t.BlockSize {
		return fmt.Errorf("target %s is too small for block size %d at base offset %d",
			t.Path, t.BlockSize, t.BaseOffset)
	}

	if t.DirectIO {
		if t.BlockSize&(t.BlockSize-1) != 0 {
			return fmt.Errorf("direct io requires a power-of-two block size, got %d", t.BlockSize)
		}
		if t.BlockSize%t.SectorSize != 0 ||
			t.Stride%t.SectorSize != 0 ||
			t.ThreadStride%t.SectorSize != 0 {
			return fmt.Errorf("direct io requires -b, -s/-r and -T to be sector aligned")
		}
	}

	threads := t.ThreadsPerTarget
	if job.UseTotalThreads {
		threads = job.TotalThreads
	}
	maxOffset := t.MaxSize - t.BaseOffset - t.BlockSize
	if maxOffset < t.ThreadStride*int64(threads-1) {
		return fmt.Errorf("target %s: thread starting offsets would overrun the target; "+
			"reduce -T, -t or -F, or grow the target", t.Path)
	}
	return nil
}
