package config_test

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/GeraldRistow/opcua-browser/internal/addrspace"
	"github.com/GeraldRistow/opcua-browser/internal/config"
)

func testdata(name string) string { return filepath.Join("testdata", name) }

func TestDefault_IsValidWithSimulation(t *testing.T) {
	c := config.Default()
	c.Source.Simulate = true
	if err := c.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	kinds, err := c.AcceptedKinds()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]addrspace.IDKind{addrspace.KindTwoByte, addrspace.KindFourByte}, kinds); diff != "" {
		t.Errorf("default kinds (-want +got):\n%s", diff)
	}
}

func TestLoadFromPath_YAML(t *testing.T) {
	c, err := config.LoadFromPath(testdata("browser.yaml"))
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if c.Source.Endpoint != "opc.tcp://plc.local:4840" || c.Source.RequestTimeout.Std() != 3*time.Second {
		t.Errorf("source: %+v", c.Source)
	}
	if c.Filter.Duration.Std() != 10*time.Second || c.Filter.Interval.Std() != 500*time.Millisecond || c.Filter.MaxConcurrent != 64 {
		t.Errorf("filter: %+v", c.Filter)
	}
	// unset keys keep their defaults
	if c.Filter.ReadTimeout.Std() != 2*time.Second {
		t.Errorf("filter.read_timeout = %v, want default 2s", c.Filter.ReadTimeout.Std())
	}
	if c.Classifier.Static.Fragment != "Temperatur" || c.Confirm.Threshold != 90 || c.Confirm.ReconcileOverrides {
		t.Errorf("classifier/confirm: %+v %+v", c.Classifier, c.Confirm)
	}
	if c.Template.Name != "Halle-3" || c.Template.ServerName != "ETA-Klimaraum-SPS" {
		t.Errorf("template: %+v", c.Template)
	}
	kinds, err := c.AcceptedKinds()
	if err != nil || len(kinds) != 3 || kinds[2] != addrspace.KindString {
		t.Errorf("kinds = %v, %v", kinds, err)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFromPath_TOML(t *testing.T) {
	c, err := config.LoadFromPath(testdata("browser.toml"))
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if c.Source.RootNode != "ns=2;i=1000" || c.Sample.WindowLen != 12 || c.Sample.Workers != 8 {
		t.Errorf("got %+v %+v", c.Source, c.Sample)
	}
	if c.Sample.Interval.Std() != time.Second {
		t.Errorf("sample.interval = %v, want default", c.Sample.Interval.Std())
	}
	if c.Classifier.Kind != "llm" || c.Classifier.TopK != 5 || c.Classifier.LLM.Model != "gpt-4o" {
		t.Errorf("classifier: %+v", c.Classifier)
	}
	if c.Log.Level != "debug" || c.Log.Format != "json" {
		t.Errorf("log: %+v", c.Log)
	}
	// llm without a key is rejected until the environment provides one
	if err := c.Validate(); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("expected ErrInvalid without api key, got %v", err)
	}
	c.ApplyEnv(func(k string) string {
		if k == config.EnvOpenAIKey {
			return "sk-test"
		}
		return ""
	})
	if err := c.Validate(); err != nil {
		t.Errorf("Validate after env: %v", err)
	}
}

func TestLoadFromPath_JSON(t *testing.T) {
	c, err := config.LoadFromPath(testdata("browser.json"))
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if !c.Source.Simulate || c.Source.Seed != 7 || c.Sample.WindowLen != 4 || c.Sample.Interval.Std() != 250*time.Millisecond {
		t.Errorf("got %+v %+v", c.Source, c.Sample)
	}
	if c.Confirm.Surface != "auto" || c.Metrics.Addr != ":9464" {
		t.Errorf("got %+v %+v", c.Confirm, c.Metrics)
	}
}

func TestLoad_DetectsFormat(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"json", `{"sample": {"window_len": 9}}`},
		{"toml table", "# comment\n[sample]\nwindow_len = 9\n"},
		{"yaml", "sample:\n  window_len: 9\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := config.Load([]byte(tc.data), ".conf")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if c.Sample.WindowLen != 9 {
				t.Errorf("window_len = %d", c.Sample.WindowLen)
			}
		})
	}
}

func TestLoad_BadDuration(t *testing.T) {
	if _, err := config.Load([]byte("filter:\n  interval: soon\n"), ".yaml"); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	c := config.Default()
	c.Sample.WindowLen = 0
	c.Filter.MaxConcurrent = 0
	c.Confirm.Surface = "carrier-pigeon"
	c.Walk.AcceptedKinds = []string{"octal"}

	err := c.Validate()
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	for _, want := range []string{"source.endpoint", "window_len", "max_concurrent", "carrier-pigeon", "octal"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %q: %v", want, err)
		}
	}
}

func TestApplyEnv_Precedence(t *testing.T) {
	c := config.Default()
	env := map[string]string{
		config.EnvEndpoint:  "opc.tcp://env:4840",
		config.EnvLLMKey:    "browser-key",
		config.EnvOpenAIKey: "openai-key",
	}
	c.ApplyEnv(func(k string) string { return env[k] })
	if c.Source.Endpoint != "opc.tcp://env:4840" || c.Classifier.LLM.APIKey != "browser-key" {
		t.Errorf("got endpoint %q key %q", c.Source.Endpoint, c.Classifier.LLM.APIKey)
	}
}

func TestDuration_Text(t *testing.T) {
	var d config.Duration
	if err := d.UnmarshalText([]byte(" 1m30s ")); err != nil {
		t.Fatal(err)
	}
	b, _ := d.MarshalText()
	if string(b) != "1m30s" {
		t.Errorf("MarshalText = %s", b)
	}
}
