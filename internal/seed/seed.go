// Package seed loads demo fixtures (events, their tables, and bans) from a
// YAML file through the engine, so fixtures obey the same validation as
// API calls.
package seed

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/service"
	"gopkg.in/yaml.v3"
)

// File is the fixture document.
type File struct {
	Events []EventFixture           `yaml:"events"`
	Bans   []model.CreateBanRequest `yaml:"bans"`
}

// EventFixture is an event with its tables.
type EventFixture struct {
	model.CreateEventRequest `yaml:",inline"`
	Tables                   []model.CreateTableRequest `yaml:"tables"`
}

// Result counts what Apply created and what it found already present.
type Result struct {
	Events  int
	Tables  int
	Bans    int
	Skipped int
}

// Parse decodes a fixture document. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &f, nil
}

// Load reads and parses the fixture file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Apply creates every fixture through engine. Events are matched by name
// and bans by phone, kind and reason; fixtures already present are
// skipped with their tables, so seeding a restarted server is a no-op.
// Apply stops at the first failure and keeps what it created before it.
func Apply(ctx context.Context, engine *service.Engine, f *File, logger *slog.Logger) (Result, error) {
	var res Result

	existing, err := engine.ListEvents(ctx)
	if err != nil {
		return res, fmt.Errorf("list events: %w", err)
	}
	names := make(map[string]bool, len(existing))
	for _, ev := range existing {
		names[ev.Name] = true
	}

	for i, ef := range f.Events {
		if names[strings.TrimSpace(ef.Name)] {
			res.Skipped++
			continue
		}
		event, err := engine.CreateEvent(ctx, ef.CreateEventRequest)
		if err != nil {
			return res, fmt.Errorf("seed event %d (%s): %w", i, ef.Name, err)
		}
		names[event.Name] = true
		res.Events++
		for j, tr := range ef.Tables {
			if _, err := engine.CreateTable(ctx, event.ID, tr); err != nil {
				return res, fmt.Errorf("seed table %d of event %s: %w", j, ef.Name, err)
			}
			res.Tables++
		}
	}

	for i, br := range f.Bans {
		present, err := banPresent(ctx, engine, br)
		if err != nil {
			return res, fmt.Errorf("seed ban %d: %w", i, err)
		}
		if present {
			res.Skipped++
			continue
		}
		if _, err := engine.CreateBan(ctx, br); err != nil {
			return res, fmt.Errorf("seed ban %d: %w", i, err)
		}
		res.Bans++
	}
	if logger != nil {
		logger.Info("seed applied",
			"events", res.Events, "tables", res.Tables, "bans", res.Bans, "skipped", res.Skipped)
	}
	return res, nil
}

func banPresent(ctx context.Context, engine *service.Engine, req model.CreateBanRequest) (bool, error) {
	if model.NormalizePhone(req.PhoneNumber) == "" {
		// Let CreateBan report the validation error.
		return false, nil
	}
	bans, err := engine.ListBans(ctx, req.PhoneNumber)
	if err != nil {
		return false, err
	}
	reason := strings.TrimSpace(req.Reason)
	for _, b := range bans {
		if b.LiftedAt == nil && b.Kind == req.Kind && b.Reason == reason {
			return true, nil
		}
	}
	return false, nil
}
