// Package config turns the command line (or a YAML profile) into a
// validated job configuration. Options use diskspd-style single letters
// with attached or separate arguments; positional arguments are targets.
package config

import (
	"fmt"
	"strconv"
	"strings"
)

type argMode int

const (
	argNone argMode = iota
	argRequired
	argOptional // argument must be attached: -D500, not -D 500
)

type optSpec struct {
	mode     argMode
	numeric  bool
	byteSize bool
	nonZero  bool
}

var optSpecs = map[byte]optSpec{
	'a': {mode: argRequired},
	'b': {mode: argRequired, byteSize: true, nonZero: true},
	'B': {mode: argRequired, byteSize: true},
	'c': {mode: argRequired, byteSize: true, nonZero: true},
	'C': {mode: argRequired, numeric: true},
	'd': {mode: argRequired, numeric: true, nonZero: true},
	'D': {mode: argOptional, numeric: true},
	'f': {mode: argRequired, byteSize: true, nonZero: true},
	'F': {mode: argRequired, numeric: true},
	'g': {mode: argRequired, byteSize: true, nonZero: true},
	'L': {mode: argNone},
	'M': {mode: argRequired},
	'n': {mode: argNone},
	'o': {mode: argRequired, numeric: true, nonZero: true},
	'r': {mode: argOptional, byteSize: true, nonZero: true},
	's': {mode: argOptional}, // the leading [i] qualifier is handled manually
	'S': {mode: argRequired},
	't': {mode: argRequired, numeric: true, nonZero: true},
	'T': {mode: argRequired, byteSize: true},
	'v': {mode: argNone},
	'w': {mode: argOptional, numeric: true},
	'W': {mode: argRequired, numeric: true},
	'x': {mode: argRequired},
	'X': {mode: argRequired},
	'z': {mode: argOptional, numeric: true},
	'Z': {mode: argRequired},
}

// options holds the parsed command line: which letters appeared with what
// argument, plus the positional targets.
type options struct {
	seen    map[byte]string
	targets []string
}

func (o *options) has(letter byte) bool {
	_, ok := o.seen[letter]
	return ok
}

func (o *options) arg(letter byte) string {
	return o.seen[letter]
}

// parseArgs scans argv (without the program name).
func parseArgs(argv []string) (*options, error) {
	o := &options{seen: make(map[byte]string)}

	for i := 0; i < len(argv); i++ {
		tok := argv[i]
		if len(tok) < 2 || tok[0] != '-' {
			o.targets = append(o.targets, tok)
			continue
		}

		letter := tok[1]
		spec, ok := optSpecs[letter]
		if !ok {
			return nil, fmt.Errorf("unknown option -%c", letter)
		}
		if _, dup := o.seen[letter]; dup {
			return nil, fmt.Errorf("option -%c already specified", letter)
		}

		arg := tok[2:]
		switch spec.mode {
		case argNone:
			if arg != "" {
				return nil, fmt.Errorf("option -%c takes no argument", letter)
			}
		case argRequired:
			if arg == "" {
				i++
				if i >= len(argv) {
					return nil, fmt.Errorf("option -%c requires an argument", letter)
				}
				arg = argv[i]
			}
		case argOptional:
			// Attached only; a separate token is a target.
		}

		if arg != "" {
			if spec.numeric && !isNumeric(arg) {
				return nil, fmt.Errorf("argument to -%c must be numeric", letter)
			}
			if spec.byteSize {
				if _, err := parseByteSize(arg, 1); err != nil {
					return nil, fmt.Errorf("argument to -%c: %w", letter, err)
				}
			}
			if spec.nonZero && strings.TrimLeft(arg, "0") == "" {
				return nil, fmt.Errorf("argument to -%c must be non-zero", letter)
			}
		}
		o.seen[letter] = arg
	}

	return o, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// parseByteSize converts "64K"-style arguments to bytes. Suffixes are
// KiB(K), MiB(M), GiB(G), or blocks(b) scaled by blockSize.
func parseByteSize(s string, blockSize int64) (int64, error) {
	digits := s
	var mult int64 = 1
	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'K':
			mult = 1 << 10
			digits = s[:n-1]
		case 'M':
			mult = 1 << 20
			digits = s[:n-1]
		case 'G':
			mult = 1 << 30
			digits = s[:n-1]
		case 'b':
			mult = blockSize
			digits = s[:n-1]
		}
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	out := v * mult
	if mult != 0 && out/mult != v {
		return 0, fmt.Errorf("byte size %q overflows", s)
	}
	return out, nil
}
