// Package config parses ipcounterd's line-oriented key=value configuration
// file: the sink connection parameters from spec.md's reference set, plus
// the daemon-level knobs this repository's expansion adds (interval,
// store geometry, settle delay, optional IP range filter file).
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/netprobe/ipcounterd/internal/store"
)

// Defaults for every key absent from the file.
const (
	DefaultIntervalSeconds = 300
	DefaultSettleDelayMS   = 1000
)

// Config holds every recognized key, typed and defaulted.
type Config struct {
	// Sink connection parameters (spec.md §6 reference set).
	StorageHost string
	StoragePort int
	StorageUser string
	StoragePass string
	StorageDB   string

	// Daemon-level knobs this repository's expansion adds.
	Interval     time.Duration
	SettleDelay  time.Duration
	HashBits     uint
	BucketWidth  int
	StoreZero    bool
	IPRangesFile string
}

// ParseKV reads path as a sequence of "key=value" lines. Blank lines and
// lines starting with '#' are ignored. Unknown keys are ignored by every
// consumer, not rejected here, so the same file can carry keys meant for
// different readers (the daemon's own Load and a sink's per-write re-read).
func ParseKV(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	kv := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		kv[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return kv, nil
}

// Load reads path and produces a fully-defaulted Config.
func Load(path string) (*Config, error) {
	kv, err := ParseKV(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		StorageHost: kv["storage_host"],
		StorageUser: kv["storage_user"],
		StoragePass: kv["storage_pass"],
		StorageDB:   kv["storage_dbase"],

		Interval:    time.Duration(DefaultIntervalSeconds) * time.Second,
		SettleDelay: time.Duration(DefaultSettleDelayMS) * time.Millisecond,
		HashBits:    store.DefaultHashBits,
		BucketWidth: store.DefaultBucketWidth,
	}

	if v, ok := kv["storage_port"]; ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid storage_port %q: %w", v, err)
		}
		cfg.StoragePort = port
	}

	if v, ok := kv["interval_seconds"]; ok {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid interval_seconds %q: %w", v, err)
		}
		cfg.Interval = time.Duration(seconds) * time.Second
	}

	if v, ok := kv["settle_delay_ms"]; ok {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid settle_delay_ms %q: %w", v, err)
		}
		cfg.SettleDelay = time.Duration(ms) * time.Millisecond
	}

	if v, ok := kv["hash_bits"]; ok {
		bits, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid hash_bits %q: %w", v, err)
		}
		cfg.HashBits = uint(bits)
	}

	if v, ok := kv["bucket_width"]; ok {
		width, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid bucket_width %q: %w", v, err)
		}
		cfg.BucketWidth = width
	}

	if v, ok := kv["store_zero"]; ok {
		zero, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid store_zero %q: %w", v, err)
		}
		cfg.StoreZero = zero
	}

	cfg.IPRangesFile = kv["ip_ranges_file"]

	return cfg, nil
}
