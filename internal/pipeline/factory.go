package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/GeraldRistow/opcua-browser/internal/addrspace"
	"github.com/GeraldRistow/opcua-browser/internal/classify"
	"github.com/GeraldRistow/opcua-browser/internal/config"
	"github.com/GeraldRistow/opcua-browser/internal/confirm"
)

// OpenSource connects to the configured endpoint, or builds the simulated
// address space. The returned close func is never nil.
func OpenSource(ctx context.Context, cfg config.SourceConfig) (addrspace.Source, func(), error) {
	if cfg.Simulate {
		return addrspace.Simulation(cfg.Seed), func() {}, nil
	}
	src, err := addrspace.Dial(ctx, dialConfig(cfg))
	if err != nil {
		return nil, func() {}, err
	}
	return src, func() { _ = src.Close(context.Background()) }, nil
}

func dialConfig(cfg config.SourceConfig) addrspace.DialConfig {
	return addrspace.DialConfig{
		Endpoint:       cfg.Endpoint,
		SecurityPolicy: cfg.SecurityPolicy,
		SecurityMode:   cfg.SecurityMode,
		RequestTimeout: cfg.RequestTimeout.Std(),
		RootNode:       cfg.RootNode,
	}
}

// Endpoint names the source of a run for the store.
func Endpoint(cfg config.SourceConfig) string {
	if cfg.Simulate {
		return fmt.Sprintf("simulation(seed=%d)", cfg.Seed)
	}
	return cfg.Endpoint
}

// NewClassifier builds the configured classifier.
func NewClassifier(cfg config.ClassifierConfig) (classify.Classifier, error) {
	switch cfg.Kind {
	case "", "heuristic":
		return classify.NewHeuristic(nil, cfg.TopK), nil
	case "llm":
		return classify.NewLLM(classify.LLMConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			TopK:    cfg.TopK,
			Labels:  classify.DefaultProfiles,
		}), nil
	case "static":
		return classify.NewStatic(classify.Candidate{
			Fragment: cfg.Static.Fragment,
			Unit:     cfg.Static.Unit,
			Series:   cfg.Static.Series,
		}), nil
	case "stub":
		return &classify.Stub{}, nil
	}
	return nil, fmt.Errorf("unknown classifier %q", cfg.Kind)
}

// NewSurface builds the configured confirmation surface. in and out are
// used by the terminal surface and by the threshold fallback.
func NewSurface(cfg config.ConfirmConfig, in io.Reader, out io.Writer) (confirm.Surface, error) {
	switch cfg.Surface {
	case "", "terminal":
		return confirm.NewTerminal(in, out), nil
	case "auto":
		return confirm.Auto{}, nil
	case "threshold":
		return confirm.Threshold{Min: cfg.Threshold, Fallback: confirm.NewTerminal(in, out)}, nil
	}
	return nil, fmt.Errorf("unknown confirmation surface %q", cfg.Surface)
}
