// ABOUTME: Tests for the defaults store
// ABOUTME: Covers clamping, legacy list migration, malformed entries, and atomic rewrite
package defaults

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/alphalpha/live-input-to-airplay/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestReadMissingFile(t *testing.T) {
	s := newTestStore(t)
	m := s.Read()
	if len(m) != 0 {
		t.Errorf("expected empty map, got %v", m)
	}
}

func TestReadUnparsableFile(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if m := s.Read(); len(m) != 0 {
		t.Errorf("expected empty map for garbage file, got %v", m)
	}
}

func TestWriteClampsAndCanonicalizes(t *testing.T) {
	s := newTestStore(t)

	err := s.Write(Map{
		"1":      150,
		"07":     -5,
		"potato": 60, // dropped
		"-3":     40, // dropped
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	m := s.Read()
	want := Map{"1": 100, "7": 0}
	if len(m) != len(want) {
		t.Fatalf("got %v, want %v", m, want)
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("m[%q] = %d, want %d", k, m[k], v)
		}
	}
}

func TestReadDropsMalformedEntries(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte(`{"1": 40, "2": "oops", "x": 30}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := s.Read()
	if len(m) != 1 || m["1"] != 40 {
		t.Errorf("expected only the well-formed entry, got %v", m)
	}
}

func TestReadClampsStoredValues(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte(`{"1": 150, "2": -5}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := s.Read()
	if m["1"] != 100 || m["2"] != 0 {
		t.Errorf("read did not clamp: %v", m)
	}
}

func TestLegacyListMigration(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte(`[3, 7]`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := s.Read()
	if m["3"] != 50 || m["7"] != 50 || len(m) != 2 {
		t.Errorf("legacy list read back as %v, want {3:50 7:50}", m)
	}
}

func TestWriteNeverEmitsLegacyShape(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte(`[3, 7]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(s.Read()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	var asMap map[string]int
	if err := json.Unmarshal(data, &asMap); err != nil {
		t.Fatalf("rewritten file is not the map format: %v", err)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	if err := s.Write(Map{"1": 50}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("expected only the defaults file, found %v", names)
	}
}

func TestAnnotate(t *testing.T) {
	outs := []model.Output{
		{ID: 1, Name: "Living Room", Volume: 60},
		{ID: 2, Name: "Kitchen", Volume: 30},
	}
	outs = Annotate(outs, Map{"1": 42})

	if !outs[0].Default || outs[0].DefaultVolume == nil || *outs[0].DefaultVolume != 42 {
		t.Errorf("output 1 not annotated: %+v", outs[0])
	}
	if outs[1].Default || outs[1].DefaultVolume != nil {
		t.Errorf("output 2 unexpectedly annotated: %+v", outs[1])
	}
}

func TestAnnotateClearsStaleAnnotations(t *testing.T) {
	stale := 99
	outs := []model.Output{{ID: 1, Default: true, DefaultVolume: &stale}}
	outs = Annotate(outs, Map{})
	if outs[0].Default || outs[0].DefaultVolume != nil {
		t.Errorf("stale annotation survived: %+v", outs[0])
	}
}
