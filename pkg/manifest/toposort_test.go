package manifest

import (
	"errors"
	"slices"
	"testing"
)

func TestTopologicalSort_StableOrder(t *testing.T) {
	deps := map[string][]string{
		"C": {"B"},
		"B": {"A"},
		"A": {},
	}
	sorted, err := TopologicalSort([]string{"C", "B", "A"}, func(id string) []string { return deps[id] })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"A", "B", "C"}
	if !slices.Equal(sorted, want) {
		t.Errorf("sorted order mismatch: got %v, want %v", sorted, want)
	}
}

func TestTopologicalSort_TiesKeepInputOrder(t *testing.T) {
	deps := map[string][]string{
		"x": {},
		"y": {},
		"z": {"x", "y"},
	}
	sorted, err := TopologicalSort([]string{"y", "z", "x"}, func(id string) []string { return deps[id] })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"y", "x", "z"}
	if !slices.Equal(sorted, want) {
		t.Errorf("sorted order mismatch: got %v, want %v", sorted, want)
	}
}

func TestTopologicalSort_MissingDependency(t *testing.T) {
	deps := map[string][]string{"a": {"ghost"}}
	_, err := TopologicalSort([]string{"a"}, func(id string) []string { return deps[id] })
	if !errors.Is(err, ErrMalformedManifest) {
		t.Errorf("expected ErrMalformedManifest, got %v", err)
	}
}

func TestTopologicalSort_Cycle(t *testing.T) {
	deps := map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}
	_, err := TopologicalSort([]string{"a", "b"}, func(id string) []string { return deps[id] })
	if !errors.Is(err, ErrMalformedManifest) {
		t.Errorf("expected ErrMalformedManifest, got %v", err)
	}
}

func TestIsTopologicallySorted(t *testing.T) {
	deps := map[string][]string{
		"a": {},
		"b": {"a"},
		"c": {"b"},
	}
	depsOf := func(id string) []string { return deps[id] }

	if !IsTopologicallySorted([]string{"a", "b", "c"}, depsOf) {
		t.Error("expected sorted order to validate")
	}
	if IsTopologicallySorted([]string{"b", "a", "c"}, depsOf) {
		t.Error("expected unsorted order to fail validation")
	}
	if IsTopologicallySorted([]string{"c"}, depsOf) {
		t.Error("expected missing dependency to fail validation")
	}
}
