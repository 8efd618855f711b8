package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/GeraldRistow/opcua-browser/internal/addrspace"
	"github.com/GeraldRistow/opcua-browser/internal/config"
	"github.com/GeraldRistow/opcua-browser/internal/format"
	"github.com/GeraldRistow/opcua-browser/internal/label"
	"github.com/GeraldRistow/opcua-browser/internal/pipeline"
	"github.com/GeraldRistow/opcua-browser/internal/store"
	"github.com/GeraldRistow/opcua-browser/internal/template"
)

// openStore opens the configured run store. An empty path yields a nil
// store and the run is not recorded.
func openStore(c config.Config) (store.Store, error) {
	if c.Store.Path == "" {
		return nil, nil
	}
	st, err := store.Open(c.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// openSource validates c and connects to its address space.
func openSource(ctx context.Context, c config.Config) (addrspace.Source, func(), error) {
	if err := c.Validate(); err != nil {
		return nil, func() {}, err
	}
	return pipeline.OpenSource(ctx, c.Source)
}

func tableMode(markdown bool) format.Mode {
	if markdown {
		return format.Markdown
	}
	return format.ASCII
}

// writeTemplate builds the device protocol for ms and saves it to path,
// falling back to the configured output. It returns the path written.
func writeTemplate(c config.Config, ms []label.Mapping, path string) (string, error) {
	skel, err := template.Skeleton()
	if c.Template.Skeleton != "" {
		skel, err = template.LoadSkeleton(c.Template.Skeleton)
	}
	if err != nil {
		return "", err
	}
	doc, err := template.Build(skel, c.Template.Meta(), template.EntriesFrom(ms))
	if err != nil {
		return "", err
	}
	if path == "" {
		path = c.Template.Output
	}
	if path == "" {
		path = template.DefaultOutput
	}
	return path, template.Save(path, doc)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// findRun resolves a full run id or a unique prefix as printed by "runs".
func findRun(st store.Store, id string) (*store.Run, error) {
	run, err := st.GetRun(id)
	if err == nil || !errors.Is(err, store.ErrNotFound) {
		return run, err
	}
	runs, err := st.ListRuns()
	if err != nil {
		return nil, err
	}
	var match *store.Run
	for _, r := range runs {
		if !strings.HasPrefix(r.ID, id) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
		}
		match = r
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return match, nil
}
