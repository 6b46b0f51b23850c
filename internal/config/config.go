// Package config loads segment's line-oriented configuration file: blank
// lines and lines starting with '#' are ignored, every other line must be
// exactly "directive = value", and unknown directives are a hard error.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

const (
	portLabel                 = "port"
	bindLabel                 = "bind"
	maxMemoryLabel            = "max_memory"
	connectionBufferSizeLabel = "connection_buffer_size"

	defaultPort        = 1698
	defaultBind        = "127.0.0.1"
	defaultConnBufSize = 4096
)

// Config is segment's resolved runtime configuration, defaults applied.
type Config struct {
	// Port is the TCP port the server listens on.
	Port uint16

	// Bind is the address the listener binds to.
	Bind string

	// MaxMemory is the resident-memory threshold, in bytes, above which
	// the max-memory evictor becomes active. Zero disables it.
	MaxMemory uint64

	// ConnectionBufferSize is the initial capacity, in bytes, of each
	// connection's read buffer.
	ConnectionBufferSize int
}

// LoadConfig reads and parses the config file at path, applying defaults for
// any directive not present.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}
	defer f.Close()

	cfg := &Config{
		Port:                 defaultPort,
		Bind:                 defaultBind,
		ConnectionBufferSize: defaultConnBufSize,
	}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := applyDirective(cfg, line); err != nil {
			return nil, fmt.Errorf("config: %q line %d: %w", path, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return cfg, nil
}

func applyDirective(cfg *Config, line string) error {
	tokens := strings.Split(line, "=")
	if len(tokens) != 2 {
		return fmt.Errorf("invalid config line %q", line)
	}
	directive := strings.TrimSpace(tokens[0])
	value := strings.TrimSpace(tokens[1])

	switch directive {
	case portLabel:
		port, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", portLabel, value, err)
		}
		cfg.Port = uint16(port)

	case bindLabel:
		if net.ParseIP(value) == nil {
			return fmt.Errorf("invalid %s value %q: not an IP address", bindLabel, value)
		}
		cfg.Bind = value

	case maxMemoryLabel:
		memory, err := parseByteSize(value)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", maxMemoryLabel, value, err)
		}
		cfg.MaxMemory = memory

	case connectionBufferSizeLabel:
		size, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", connectionBufferSizeLabel, value, err)
		}
		cfg.ConnectionBufferSize = int(size)

	default:
		return fmt.Errorf("unknown directive %q", directive)
	}

	return nil
}

// parseByteSize parses a decimal magnitude with a mandatory two-character
// unit suffix, "mb" or "gb".
func parseByteSize(value string) (uint64, error) {
	if len(value) < 3 {
		return 0, errors.New("value too short to carry a unit suffix")
	}
	unit := value[len(value)-2:]
	magnitude, err := strconv.ParseUint(value[:len(value)-2], 10, 64)
	if err != nil {
		return 0, err
	}

	switch unit {
	case "mb":
		return magnitude * 1024 * 1024, nil
	case "gb":
		return magnitude * 1024 * 1024 * 1024, nil
	default:
		return 0, fmt.Errorf("unrecognized unit suffix %q (want mb or gb)", unit)
	}
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.ConnectionBufferSize <= 0 {
		errs = append(errs, errors.New("connection_buffer_size must be positive"))
	}
	return errors.Join(errs...)
}
