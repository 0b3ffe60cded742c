package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/simdash/simdash/internal/archive"
	"github.com/simdash/simdash/internal/session"
)

func TestLoadEngineConfig(t *testing.T) {
	t.Run("empty path yields defaults", func(t *testing.T) {
		cfg, err := loadEngineConfig("")
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Simulation.MaxSteps <= 0 {
			t.Errorf("default maxSteps = %d", cfg.Simulation.MaxSteps)
		}
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "engine.json")
		doc := `{"simulation": {"maxSteps": 250}, "rng": {"seed": 7}}`
		if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, err := loadEngineConfig(path)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Simulation.MaxSteps != 250 {
			t.Errorf("maxSteps = %d, want 250", cfg.Simulation.MaxSteps)
		}
		if cfg.RNG.Seed != 7 {
			t.Errorf("seed = %d, want 7", cfg.RNG.Seed)
		}
		// Untouched sections keep their defaults.
		if cfg.Agents.InitialPopulation <= 0 {
			t.Errorf("initialPopulation = %d", cfg.Agents.InitialPopulation)
		}
	})

	t.Run("missing file errors", func(t *testing.T) {
		if _, err := loadEngineConfig(filepath.Join(t.TempDir(), "nope.json")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestResolveSession(t *testing.T) {
	store, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := resolveSession(store, ""); err == nil {
		t.Error("expected error for empty archive")
	}

	if err := store.Append("older", 1, "metrics", map[string]any{"tick": 1}); err != nil {
		t.Fatal(err)
	}
	if err := store.Append("newer", 1, "metrics", map[string]any{"tick": 1}); err != nil {
		t.Fatal(err)
	}

	got, err := resolveSession(store, "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "newer" {
		t.Errorf("default session = %q, want newer", got)
	}

	got, err = resolveSession(store, "older")
	if err != nil {
		t.Fatal(err)
	}
	if got != "older" {
		t.Errorf("explicit session = %q, want older", got)
	}
}

func TestEventDoc(t *testing.T) {
	doc := eventDoc(session.SteppedEvent{Tick: 12})
	if doc["event"] != "stepped" || doc["tick"] != 12 {
		t.Errorf("stepped doc = %v", doc)
	}

	doc = eventDoc(session.ErrorEvent{Class: session.ErrorSemantic, Message: "nope"})
	if doc["event"] != "error" || doc["class"] != "semantic" {
		t.Errorf("error doc = %v", doc)
	}
}
