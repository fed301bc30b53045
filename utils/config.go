package utils

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultPort is the server rendezvous port used when the configuration
// leaves it unset.
const DefaultPort = 34000

// TensorConfig holds the per-tensor attributes accepted at backend setup.
type TensorConfig struct {
	ClientInput bool
	Encrypt     bool
	Packed      bool
}

// Config holds the backend configuration parsed from the setup option map.
type Config struct {
	EnableClient                bool
	EnableGC                    bool
	EnablePerformanceCollection bool
	EncryptionParameters        string
	Port                        int
	Tensors                     map[string]TensorConfig
}

// ParseConfig parses the backend option map. Global keys are enumerated;
// any other key must carry a comma-separated list of tensor attributes
// (client_input, encrypt, packed), otherwise the key is rejected.
func ParseConfig(options map[string]string) (*Config, error) {
	config := &Config{
		Port:    DefaultPort,
		Tensors: make(map[string]TensorConfig),
	}

	// Deterministic iteration keeps error messages stable.
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := options[key]
		switch key {
		case "enable_client":
			b, err := parseBool(key, value)
			if err != nil {
				return nil, err
			}
			config.EnableClient = b
		case "enable_gc":
			b, err := parseBool(key, value)
			if err != nil {
				return nil, err
			}
			config.EnableGC = b
		case "enable_performance_collection":
			b, err := parseBool(key, value)
			if err != nil {
				return nil, err
			}
			config.EnablePerformanceCollection = b
		case "encryption_parameters":
			config.EncryptionParameters = value
		case "port":
			var port int
			if _, err := fmt.Sscanf(value, "%d", &port); err != nil || port <= 0 {
				return nil, fmt.Errorf("invalid port %q", value)
			}
			config.Port = port
		default:
			tc, err := parseTensorAttrs(key, value)
			if err != nil {
				return nil, err
			}
			config.Tensors[key] = tc
		}
	}
	return config, nil
}

// Validate rejects configurations the backend cannot serve.
func (c *Config) Validate() error {
	if c.EnableGC {
		return fmt.Errorf("garbled-circuit mode is not supported")
	}
	for name, tc := range c.Tensors {
		if tc.ClientInput && !c.EnableClient {
			return fmt.Errorf("tensor %q marked client_input but enable_client is false", name)
		}
	}
	return nil
}

func parseTensorAttrs(name, value string) (TensorConfig, error) {
	var tc TensorConfig
	for _, attr := range strings.Split(value, ",") {
		switch strings.TrimSpace(attr) {
		case "client_input":
			tc.ClientInput = true
		case "encrypt":
			tc.Encrypt = true
		case "packed":
			tc.Packed = true
		case "":
		default:
			return tc, fmt.Errorf("unknown configuration key %q (value %q is not a tensor attribute list)", name, value)
		}
	}
	return tc, nil
}

func parseBool(key, value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q for key %q", value, key)
}
