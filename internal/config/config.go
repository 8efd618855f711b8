// Package config holds the settings of a discovery and labeling run.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GeraldRistow/opcua-browser/internal/addrspace"
	"github.com/GeraldRistow/opcua-browser/internal/template"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Duration is a time.Duration written as "5s" or "250ms" in config files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	Source     SourceConfig     `json:"source" yaml:"source" toml:"source"`
	Walk       WalkConfig       `json:"walk" yaml:"walk" toml:"walk"`
	Filter     FilterConfig     `json:"filter" yaml:"filter" toml:"filter"`
	Sample     SampleConfig     `json:"sample" yaml:"sample" toml:"sample"`
	Classifier ClassifierConfig `json:"classifier" yaml:"classifier" toml:"classifier"`
	Confirm    ConfirmConfig    `json:"confirm" yaml:"confirm" toml:"confirm"`
	Template   TemplateConfig   `json:"template" yaml:"template" toml:"template"`
	Store      StoreConfig      `json:"store" yaml:"store" toml:"store"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics" toml:"metrics"`
	Log        LogConfig        `json:"log" yaml:"log" toml:"log"`
}

// SourceConfig selects the address space: a live OPC UA endpoint, or the
// built-in simulation when Simulate is set.
type SourceConfig struct {
	Endpoint       string   `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	SecurityPolicy string   `json:"security_policy" yaml:"security_policy" toml:"security_policy"`
	SecurityMode   string   `json:"security_mode" yaml:"security_mode" toml:"security_mode"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	RootNode       string   `json:"root_node" yaml:"root_node" toml:"root_node"`
	Simulate       bool     `json:"simulate" yaml:"simulate" toml:"simulate"`
	Seed           uint64   `json:"seed" yaml:"seed" toml:"seed"`
}

type WalkConfig struct {
	AcceptedKinds []string `json:"accepted_kinds" yaml:"accepted_kinds" toml:"accepted_kinds"`
}

type FilterConfig struct {
	Duration      Duration `json:"duration" yaml:"duration" toml:"duration"`
	Interval      Duration `json:"interval" yaml:"interval" toml:"interval"`
	MaxConcurrent int      `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent"`
	ReadTimeout   Duration `json:"read_timeout" yaml:"read_timeout" toml:"read_timeout"`
	Skip          bool     `json:"skip" yaml:"skip" toml:"skip"`
}

type SampleConfig struct {
	WindowLen   int      `json:"window_len" yaml:"window_len" toml:"window_len"`
	Interval    Duration `json:"interval" yaml:"interval" toml:"interval"`
	Workers     int      `json:"workers" yaml:"workers" toml:"workers"`
	ReadTimeout Duration `json:"read_timeout" yaml:"read_timeout" toml:"read_timeout"`
}

// ClassifierConfig picks one of heuristic, llm, static or stub.
type ClassifierConfig struct {
	Kind   string       `json:"kind" yaml:"kind" toml:"kind"`
	TopK   int          `json:"top_k" yaml:"top_k" toml:"top_k"`
	LLM    LLMConfig    `json:"llm" yaml:"llm" toml:"llm"`
	Static StaticConfig `json:"static" yaml:"static" toml:"static"`
}

type LLMConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key" toml:"api_key"`
	BaseURL string `json:"base_url" yaml:"base_url" toml:"base_url"`
	Model   string `json:"model" yaml:"model" toml:"model"`
}

type StaticConfig struct {
	Fragment string `json:"fragment" yaml:"fragment" toml:"fragment"`
	Unit     string `json:"unit" yaml:"unit" toml:"unit"`
	Series   string `json:"series" yaml:"series" toml:"series"`
}

// ConfirmConfig picks the confirmation surface: terminal, auto or threshold.
type ConfirmConfig struct {
	Surface            string  `json:"surface" yaml:"surface" toml:"surface"`
	Threshold          float64 `json:"threshold" yaml:"threshold" toml:"threshold"`
	ReconcileOverrides bool    `json:"reconcile_overrides" yaml:"reconcile_overrides" toml:"reconcile_overrides"`
}

type TemplateConfig struct {
	Name       string `json:"name" yaml:"name" toml:"name"`
	ServerID   string `json:"server_id" yaml:"server_id" toml:"server_id"`
	ServerName string `json:"server_name" yaml:"server_name" toml:"server_name"`
	RootNodeID string `json:"root_node_id" yaml:"root_node_id" toml:"root_node_id"`
	Skeleton   string `json:"skeleton" yaml:"skeleton" toml:"skeleton"`
	Output     string `json:"output" yaml:"output" toml:"output"`
}

func (t TemplateConfig) Meta() template.Meta {
	return template.Meta{Name: t.Name, ServerID: t.ServerID, ServerName: t.ServerName, RootNodeID: t.RootNodeID}
}

type StoreConfig struct {
	Path string `json:"path" yaml:"path" toml:"path"`
}

type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	meta := template.DefaultMeta()
	return Config{
		Source: SourceConfig{
			SecurityPolicy: "None",
			SecurityMode:   "None",
			RequestTimeout: Duration(10 * time.Second),
			RootNode:       addrspace.ObjectsFolderID,
		},
		Walk: WalkConfig{AcceptedKinds: []string{addrspace.KindTwoByte.String(), addrspace.KindFourByte.String()}},
		Filter: FilterConfig{
			Duration:      Duration(5 * time.Second),
			Interval:      Duration(250 * time.Millisecond),
			MaxConcurrent: 500,
			ReadTimeout:   Duration(2 * time.Second),
		},
		Sample: SampleConfig{
			WindowLen:   60,
			Interval:    Duration(time.Second),
			ReadTimeout: Duration(2 * time.Second),
		},
		Classifier: ClassifierConfig{Kind: "heuristic", TopK: 3},
		Confirm:    ConfirmConfig{Surface: "terminal", Threshold: 80, ReconcileOverrides: true},
		Template: TemplateConfig{
			Name:       meta.Name,
			ServerID:   meta.ServerID,
			ServerName: meta.ServerName,
			RootNodeID: meta.RootNodeID,
			Output:     template.DefaultOutput,
		},
		Store: StoreConfig{Path: ".opcua-browser/runs.db"},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// AcceptedKinds parses Walk.AcceptedKinds.
func (c Config) AcceptedKinds() ([]addrspace.IDKind, error) {
	out := make([]addrspace.IDKind, 0, len(c.Walk.AcceptedKinds))
	for _, s := range c.Walk.AcceptedKinds {
		k, err := addrspace.ParseIDKind(s)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if !c.Source.Simulate && c.Source.Endpoint == "" {
		bad("source.endpoint is required unless source.simulate is set")
	}
	if _, err := c.AcceptedKinds(); err != nil {
		bad("walk.accepted_kinds: %v", err)
	}
	if c.Filter.Interval <= 0 {
		bad("filter.interval must be positive")
	}
	if c.Filter.Duration < 0 {
		bad("filter.duration must not be negative")
	}
	if c.Filter.MaxConcurrent < 1 {
		bad("filter.max_concurrent must be at least 1")
	}
	if c.Sample.WindowLen < 1 {
		bad("sample.window_len must be at least 1")
	}
	if c.Sample.Interval <= 0 {
		bad("sample.interval must be positive")
	}
	if c.Sample.Workers < 0 {
		bad("sample.workers must not be negative")
	}
	switch c.Classifier.Kind {
	case "heuristic", "static", "stub":
	case "llm":
		if c.Classifier.LLM.APIKey == "" {
			bad("classifier.llm.api_key is required for the llm classifier")
		}
	default:
		bad("classifier.kind %q (want heuristic, llm, static, stub)", c.Classifier.Kind)
	}
	switch c.Confirm.Surface {
	case "terminal", "auto":
	case "threshold":
		if c.Confirm.Threshold < 0 || c.Confirm.Threshold > 100 {
			bad("confirm.threshold %v outside 0..100", c.Confirm.Threshold)
		}
	default:
		bad("confirm.surface %q (want terminal, auto, threshold)", c.Confirm.Surface)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		bad("log.format %q (want text, json)", c.Log.Format)
	}
	return errors.Join(errs...)
}
