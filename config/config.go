package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/streamfan/errors"
)

// DefaultRouteKey is the routing entry used when the selector value is
// absent or unrecognized. It always exists; its destination set may be
// empty, meaning "send nowhere".
const DefaultRouteKey = "default"

// Config is the complete application configuration.
type Config struct {
	Version   string                    `json:"version"`
	Producers map[string]ProducerConfig `json:"producers"`
	Routing   map[string]string         `json:"routing"`
	Settings  Settings                  `json:"settings"`
	Gateway   GatewayConfig             `json:"gateway"`
}

// ProducerConfig describes one named stream destination.
type ProducerConfig struct {
	URL      string `json:"url"`                // NATS server URL(s), comma separated
	Subject  string `json:"subject"`            // JetStream subject for this destination
	Encoding string `json:"encoding,omitempty"` // only "utf-8" is supported
}

// Settings are the shared numeric knobs applied uniformly to every producer.
type Settings struct {
	BatchSize      int           `json:"batch_size"`       // flush threshold per producer
	WorkerPoolSize int           `json:"worker_pool_size"` // shared flush pool workers
	QueueSize      int           `json:"queue_size"`       // shared flush pool queue
	Backoff        time.Duration `json:"backoff"`          // fixed cool-down after a send failure
	StopTimeout    time.Duration `json:"stop_timeout"`     // shutdown wait for in-flight sends
}

// GatewayConfig configures the HTTP ingest surface.
type GatewayConfig struct {
	Listen           string   `json:"listen"`
	SelectorParam    string   `json:"selector_param"` // query parameter carrying the routing key
	CookieName       string   `json:"cookie_name"`
	CookieDomain     string   `json:"cookie_domain"`
	LegacyCookieName string   `json:"legacy_cookie_name"` // pre-migration visitor cookie, reported as-is
	IPToken          string   `json:"ip_token"`           // pepper for the unique IP hash
	MaxRequestSize   int64    `json:"max_request_size"`
	EnableCORS       bool     `json:"enable_cors"`
	CORSOrigins      []string `json:"cors_origins"`
	RateLimit        float64  `json:"rate_limit"` // requests/second per client, 0 disables
	RateBurst        int      `json:"rate_burst"`

	// Retargeting segment collection on the pixel endpoint.
	RetargetingParam        string   `json:"retargeting_param"`         // query parameter carrying a segment name
	RetargetingCookieName   string   `json:"retargeting_cookie_name"`   // cookie storing the bounded segment list
	RetargetingSegmentLimit int      `json:"retargeting_segment_limit"` // oldest segments fall out beyond this
	RetargetingTrimPrefixes []string `json:"retargeting_trim_prefixes"` // prefixes stripped from segment names
}

// Default returns the built-in configuration baseline.
func Default() *Config {
	return &Config{
		Version:   "1.0.0",
		Producers: map[string]ProducerConfig{},
		Routing:   map[string]string{},
		Settings: Settings{
			BatchSize:      3,
			WorkerPoolSize: 25,
			QueueSize:      1000,
			Backoff:        10 * time.Second,
			StopTimeout:    30 * time.Second,
		},
		Gateway: GatewayConfig{
			Listen:                  ":8080",
			SelectorParam:           "stream",
			CookieName:              "sfid",
			LegacyCookieName:        "sflegacy",
			MaxRequestSize:          1 << 20,
			RateBurst:               50,
			RetargetingParam:        "seg",
			RetargetingCookieName:   "sfseg",
			RetargetingSegmentLimit: 10,
		},
	}
}

// RouteTable expands the comma-joined routing values into name sets.
// Entries with an empty value produce an empty set.
func (c *Config) RouteTable() map[string][]string {
	table := make(map[string][]string, len(c.Routing))
	for selector, joined := range c.Routing {
		var names []string
		for _, name := range strings.Split(joined, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				names = append(names, name)
			}
		}
		table[selector] = names
	}
	if _, ok := table[DefaultRouteKey]; !ok {
		table[DefaultRouteKey] = nil
	}
	return table
}

// Validate checks the configuration, failing fast on anything that would
// leave the registry unable to route or deliver.
func (c *Config) Validate() error {
	if len(c.Producers) == 0 {
		return errors.WrapFatal(errors.ErrNoDestinations, "Config", "Validate", "check producers")
	}

	for name, pc := range c.Producers {
		if name == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"producer name cannot be empty")
		}
		if pc.URL == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
				fmt.Sprintf("producer %q has no url", name))
		}
		if pc.Subject == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
				fmt.Sprintf("producer %q has no subject", name))
		}
		// JSON output in Go is always UTF-8; the key is validated for
		// config compatibility, not honored as a transcoding knob.
		if enc := strings.ToLower(pc.Encoding); enc != "" && enc != "utf-8" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("producer %q: unsupported encoding %q", name, pc.Encoding))
		}
	}

	routed := false
	for selector, names := range c.RouteTable() {
		// Any non-empty entry is a usable mapping, the default included.
		if len(names) > 0 {
			routed = true
		}
		for _, name := range names {
			if _, ok := c.Producers[name]; !ok {
				return errors.WrapInvalid(errors.ErrUnknownDestination, "Config", "Validate",
					fmt.Sprintf("routing %q references %q", selector, name))
			}
		}
	}
	if !routed {
		return errors.WrapFatal(errors.ErrNoRouting, "Config", "Validate", "check routing")
	}

	if c.Settings.BatchSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"settings.batch_size must be positive")
	}
	if c.Settings.WorkerPoolSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"settings.worker_pool_size must be positive")
	}
	if c.Settings.Backoff <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"settings.backoff must be positive")
	}

	return nil
}

// UnmarshalJSON accepts duration strings ("10s") as well as nanosecond
// numbers for the Settings durations.
func (s *Settings) UnmarshalJSON(data []byte) error {
	type alias Settings
	aux := &struct {
		Backoff     any `json:"backoff"`
		StopTimeout any `json:"stop_timeout"`
		*alias
	}{alias: (*alias)(s)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if s.Backoff, err = parseDuration(aux.Backoff, s.Backoff); err != nil {
		return fmt.Errorf("settings.backoff: %w", err)
	}
	if s.StopTimeout, err = parseDuration(aux.StopTimeout, s.StopTimeout); err != nil {
		return fmt.Errorf("settings.stop_timeout: %w", err)
	}
	return nil
}

func parseDuration(v any, fallback time.Duration) (time.Duration, error) {
	switch d := v.(type) {
	case nil:
		return fallback, nil
	case string:
		return time.ParseDuration(d)
	case float64:
		return time.Duration(d), nil
	default:
		return 0, fmt.Errorf("unsupported duration value %v", v)
	}
}

// Loader loads configuration layers over the defaults.
type Loader struct {
	layers    []string
	envPrefix string
}

// NewLoader creates a loader with the STREAMFAN env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "STREAMFAN"}
}

// AddLayer appends a configuration file layer; later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// LoadFile loads a single file over the defaults.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges all layers over the defaults, applies env overrides, and
// validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		cfg, err = merge(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("merge %s", path))
		}
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadRaw reads a layer into a raw map, accepting JSON or YAML by extension.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// merge deep-merges a raw layer over the base config by round-tripping
// through maps, so absent keys keep their base values.
func merge(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMerge(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

func deepMerge(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMerge(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies environment variable overrides on top of the
// merged layers.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(l.envPrefix + "_LISTEN"); val != "" {
		cfg.Gateway.Listen = val
	}
	if val := os.Getenv(l.envPrefix + "_SELECTOR_PARAM"); val != "" {
		cfg.Gateway.SelectorParam = val
	}
	if val := os.Getenv(l.envPrefix + "_IP_TOKEN"); val != "" {
		cfg.Gateway.IPToken = val
	}
	if val := os.Getenv(l.envPrefix + "_BACKOFF"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Settings.Backoff = d
		}
	}
}
