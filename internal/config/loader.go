package config

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	yaml "go.yaml.in/yaml/v3"
)

// LoadFromPath reads a config file on top of Default. The format follows the
// extension (.yaml/.yml, .toml, .json) or, for anything else, the content.
func LoadFromPath(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Load(data, filepath.Ext(path))
}

// Load parses data on top of Default. ext is a format hint such as ".toml";
// empty means detect from content.
func Load(data []byte, ext string) (Config, error) {
	c := Default()
	format := formatOf(ext, data)
	var err error
	switch format {
	case "json":
		err = json.Unmarshal(data, &c)
	case "toml":
		err = toml.Unmarshal(data, &c)
	default:
		err = yaml.Unmarshal(data, &c)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", format, err)
	}
	return c, nil
}

var tomlKey = regexp.MustCompile(`^[A-Za-z0-9_.-]+\s*=`)

func formatOf(ext string, data []byte) string {
	switch strings.ToLower(ext) {
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	case ".yaml", ".yml":
		return "yaml"
	}
	// Detect from the first significant line.
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "{"):
			return "json"
		case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"), tomlKey.MatchString(line):
			return "toml"
		}
		break
	}
	return "yaml"
}

// Env overrides file values. Empty variables are ignored.
const (
	EnvEndpoint  = "OPCUA_ENDPOINT"
	EnvLLMKey    = "OPCUA_BROWSER_LLM_API_KEY"
	EnvOpenAIKey = "OPENAI_API_KEY"
)

// ApplyEnv copies set environment variables into c. OPCUA_BROWSER_LLM_API_KEY
// takes precedence over OPENAI_API_KEY.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(EnvEndpoint); v != "" {
		c.Source.Endpoint = v
	}
	if v := getenv(EnvLLMKey); v != "" {
		c.Classifier.LLM.APIKey = v
	} else if v := getenv(EnvOpenAIKey); v != "" && c.Classifier.LLM.APIKey == "" {
		c.Classifier.LLM.APIKey = v
	}
}
