package metavault

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestDatasetCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ds, err := store.CreateDataset(ctx, "tracks")
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}

	t.Run("SetAndGet", func(t *testing.T) {
		entry := Entry{
			"artist": "Dion",
			"bpm":    174,
			"tags":   []any{"dnb", "wip"},
			"mix":    map[string]any{"lufs": -7.5, "clipped": false},
		}
		if err := ds.Set(ctx, "song.wav", entry); err != nil {
			t.Fatalf("Failed to set entry: %v", err)
		}

		got, err := ds.Get(ctx, "song.wav")
		if err != nil {
			t.Fatalf("Failed to get entry: %v", err)
		}
		want := Entry{
			"artist": "Dion",
			"bpm":    float64(174),
			"tags":   []any{"dnb", "wip"},
			"mix":    map[string]any{"lufs": -7.5, "clipped": false},
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Got %v, want %v", got, want)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		if _, err := ds.Get(ctx, "nope.wav"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpsertLeavesOtherColumnsAlone", func(t *testing.T) {
		if err := ds.Set(ctx, "song.wav", Entry{"bpm": 87}); err != nil {
			t.Fatalf("Failed to update entry: %v", err)
		}
		got, err := ds.Get(ctx, "song.wav")
		if err != nil {
			t.Fatalf("Failed to get entry: %v", err)
		}
		if got["bpm"] != float64(87) {
			t.Errorf("Expected bpm 87, got %v", got["bpm"])
		}
		if got["artist"] != "Dion" {
			t.Errorf("Expected artist untouched, got %v", got["artist"])
		}
	})

	t.Run("NullValueIsDistinctFromMissingColumn", func(t *testing.T) {
		if err := ds.Set(ctx, "empty.wav", Entry{}); err != nil {
			t.Fatalf("Failed to set empty entry: %v", err)
		}
		got, err := ds.Get(ctx, "empty.wav")
		if err != nil {
			t.Fatalf("Failed to get entry: %v", err)
		}
		if value, present := got["artist"]; !present || value != nil {
			t.Errorf("Expected artist present and nil, got %v (present=%v)", value, present)
		}
	})

	t.Run("ContainsAndCount", func(t *testing.T) {
		contains, err := ds.Contains(ctx, "song.wav")
		if err != nil {
			t.Fatalf("Failed to check entry: %v", err)
		}
		if !contains {
			t.Error("Expected song.wav to exist")
		}

		count, err := ds.Count(ctx)
		if err != nil {
			t.Fatalf("Failed to count: %v", err)
		}
		if count != 2 {
			t.Errorf("Expected 2 entries, got %d", count)
		}
		empty, err := ds.IsEmpty(ctx)
		if err != nil {
			t.Fatalf("Failed to check emptiness: %v", err)
		}
		if empty {
			t.Error("Expected dataset to be non-empty")
		}
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		if err := ds.Delete(ctx, "empty.wav"); err != nil {
			t.Fatalf("Failed to delete entry: %v", err)
		}
		contains, err := ds.Contains(ctx, "empty.wav")
		if err != nil {
			t.Fatalf("Failed to check entry: %v", err)
		}
		if contains {
			t.Error("Expected entry to be gone")
		}
		if err := ds.Delete(ctx, "empty.wav"); err != nil {
			t.Errorf("Expected second delete to be a no-op, got %v", err)
		}
	})

	t.Run("TypedAccessors", func(t *testing.T) {
		if err := ds.SetAttribute(ctx, "song.wav", "mastered", true); err != nil {
			t.Fatalf("Failed to set attribute: %v", err)
		}
		value, err := ds.GetAttribute(ctx, "song.wav", "mastered")
		if err != nil {
			t.Fatalf("Failed to get attribute: %v", err)
		}
		if value != true {
			t.Errorf("Expected true, got %v", value)
		}
		if _, err := ds.GetAttribute(ctx, "song.wav", "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound for unknown attribute, got %v", err)
		}
	})
}

func TestAttributes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ds, err := store.CreateDataset(ctx, "tracks", "x", "y", "z")
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("f%d", i)
		entry := Entry{"x": i, "y": i * 10, "z": i * 100}
		if err := ds.Set(ctx, key, entry); err != nil {
			t.Fatalf("Failed to seed entry: %v", err)
		}
	}

	t.Run("AddExistingIsNoop", func(t *testing.T) {
		if err := ds.AddAttribute(ctx, "x"); err != nil {
			t.Errorf("Expected no-op, got %v", err)
		}
	})

	t.Run("Add", func(t *testing.T) {
		if err := ds.AddAttribute(ctx, "w"); err != nil {
			t.Fatalf("Failed to add attribute: %v", err)
		}
		attrs, err := ds.Attributes(ctx)
		if err != nil {
			t.Fatalf("Failed to list attributes: %v", err)
		}
		if !reflect.DeepEqual(attrs, []string{"x", "y", "z", "w"}) {
			t.Errorf("Expected [x y z w], got %v", attrs)
		}
	})

	t.Run("RemoveMissing", func(t *testing.T) {
		if err := ds.RemoveAttribute(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("RemoveRebuildsTable", func(t *testing.T) {
		if err := ds.RemoveAttribute(ctx, "y"); err != nil {
			t.Fatalf("Failed to remove attribute: %v", err)
		}

		attrs, err := ds.Attributes(ctx)
		if err != nil {
			t.Fatalf("Failed to list attributes: %v", err)
		}
		if !reflect.DeepEqual(attrs, []string{"x", "z", "w"}) {
			t.Errorf("Expected [x z w], got %v", attrs)
		}

		// Every row keeps its other values
		for i := 0; i < 3; i++ {
			got, err := ds.Get(ctx, fmt.Sprintf("f%d", i))
			if err != nil {
				t.Fatalf("Failed to get entry: %v", err)
			}
			want := Entry{"x": float64(i), "z": float64(i * 100), "w": nil}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Row f%d: got %v, want %v", i, got, want)
			}
		}
	})
}

func TestBatchInsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ds, err := store.CreateDataset(ctx, "tracks")
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}

	t.Run("EmptyIsNoop", func(t *testing.T) {
		if err := ds.BatchInsert(ctx, NewCollection()); err != nil {
			t.Errorf("Expected no-op, got %v", err)
		}
		if err := ds.BatchInsert(ctx, nil); err != nil {
			t.Errorf("Expected no-op on nil, got %v", err)
		}
	})

	t.Run("ColumnUnionAcrossEntries", func(t *testing.T) {
		batch := NewCollection()
		batch.Set("f1", Entry{"a": 1})
		batch.Set("f2", Entry{"a": 2, "b": 3})
		if err := ds.BatchInsert(ctx, batch); err != nil {
			t.Fatalf("Failed to batch insert: %v", err)
		}

		got, err := ds.Get(ctx, "f2")
		if err != nil {
			t.Fatalf("Failed to get entry: %v", err)
		}
		if !reflect.DeepEqual(got, Entry{"a": float64(2), "b": float64(3)}) {
			t.Errorf("Expected b written for f2, got %v", got)
		}

		got, err = ds.Get(ctx, "f1")
		if err != nil {
			t.Fatalf("Failed to get entry: %v", err)
		}
		if !reflect.DeepEqual(got, Entry{"a": float64(1), "b": nil}) {
			t.Errorf("Expected b backfilled null for f1, got %v", got)
		}
	})

	t.Run("ReplacesWholeRow", func(t *testing.T) {
		if err := ds.Set(ctx, "f1", Entry{"c": 5}); err != nil {
			t.Fatalf("Failed to set entry: %v", err)
		}

		batch := NewCollection()
		batch.Set("f1", Entry{"a": 9})
		if err := ds.BatchInsert(ctx, batch); err != nil {
			t.Fatalf("Failed to batch insert: %v", err)
		}

		got, err := ds.Get(ctx, "f1")
		if err != nil {
			t.Fatalf("Failed to get entry: %v", err)
		}
		want := Entry{"a": float64(9), "b": nil, "c": nil}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Expected whole-row replace, got %v, want %v", got, want)
		}
	})
}

func TestIterateAndKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ds, err := store.CreateDataset(ctx, "tracks")
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	for _, key := range []string{"a", "b", "c"} {
		if err := ds.Set(ctx, key, Entry{"n": key}); err != nil {
			t.Fatalf("Failed to seed entry: %v", err)
		}
	}

	t.Run("Keys", func(t *testing.T) {
		keys, err := ds.Keys(ctx)
		if err != nil {
			t.Fatalf("Failed to list keys: %v", err)
		}
		if !reflect.DeepEqual(keys, []string{"a", "b", "c"}) {
			t.Errorf("Expected [a b c], got %v", keys)
		}
	})

	t.Run("IterateVisitsEverything", func(t *testing.T) {
		seen := map[string]Entry{}
		err := ds.Iterate(ctx, func(key string, entry Entry) error {
			seen[key] = entry
			return nil
		})
		if err != nil {
			t.Fatalf("Failed to iterate: %v", err)
		}
		if len(seen) != 3 {
			t.Errorf("Expected 3 entries, got %d", len(seen))
		}
		if seen["b"]["n"] != "b" {
			t.Errorf("Expected entry b to carry its value, got %v", seen["b"])
		}
	})

	t.Run("IterateStopsOnError", func(t *testing.T) {
		stop := errors.New("stop")
		visits := 0
		err := ds.Iterate(ctx, func(key string, entry Entry) error {
			visits++
			return stop
		})
		if !errors.Is(err, stop) {
			t.Errorf("Expected callback error, got %v", err)
		}
		if visits != 1 {
			t.Errorf("Expected 1 visit, got %d", visits)
		}
	})

	t.Run("Values", func(t *testing.T) {
		values, err := ds.Values(ctx)
		if err != nil {
			t.Fatalf("Failed to list values: %v", err)
		}
		if len(values) != 3 {
			t.Errorf("Expected 3 values, got %d", len(values))
		}
	})
}

func TestUnionAndSubtract(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := func(name string, entries map[string]Entry, order []string) *Dataset {
		t.Helper()
		ds, err := store.CreateDataset(ctx, name)
		if err != nil {
			t.Fatalf("Failed to create dataset: %v", err)
		}
		for _, key := range order {
			if err := ds.Set(ctx, key, entries[key]); err != nil {
				t.Fatalf("Failed to seed entry: %v", err)
			}
		}
		return ds
	}

	t.Run("Union", func(t *testing.T) {
		left := seed("left", map[string]Entry{
			"f1": {"a": 1},
			"f2": {"a": 2},
		}, []string{"f1", "f2"})
		right := seed("right", map[string]Entry{
			"f2": {"a": 20, "b": 21},
			"f3": {"a": 3},
		}, []string{"f2", "f3"})

		if err := left.Union(ctx, right); err != nil {
			t.Fatalf("Failed to union: %v", err)
		}

		count, err := left.Count(ctx)
		if err != nil {
			t.Fatalf("Failed to count: %v", err)
		}
		if count != 3 {
			t.Errorf("Expected 3 entries after union, got %d", count)
		}

		got, err := left.Get(ctx, "f2")
		if err != nil {
			t.Fatalf("Failed to get entry: %v", err)
		}
		if got["a"] != float64(20) || got["b"] != float64(21) {
			t.Errorf("Expected right side to win for f2, got %v", got)
		}
	})

	t.Run("Subtract", func(t *testing.T) {
		left := seed("sub_left", map[string]Entry{
			"f1": {"a": 1},
			"f2": {"a": 2},
			"f3": {"a": 3},
		}, []string{"f1", "f2", "f3"})
		right := seed("sub_right", map[string]Entry{
			"f2": {"a": 0},
			"f9": {"a": 0}, // absent on the left, skipped without error
		}, []string{"f2", "f9"})

		if err := left.Subtract(ctx, right); err != nil {
			t.Fatalf("Failed to subtract: %v", err)
		}

		keys, err := left.Keys(ctx)
		if err != nil {
			t.Fatalf("Failed to list keys: %v", err)
		}
		if !reflect.DeepEqual(keys, []string{"f1", "f3"}) {
			t.Errorf("Expected [f1 f3], got %v", keys)
		}
	})
}

func TestReplaceInAttribute(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ds, err := store.CreateDataset(ctx, "tracks")
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	seed := map[string]Entry{
		"f1": {"path": "/mnt/old/dnb/f1.wav", "note": "keep /mnt/old here"},
		"f2": {"path": "/mnt/old/f2.wav"},
		"f3": {"path": nil},
	}
	for _, key := range []string{"f1", "f2", "f3"} {
		if err := ds.Set(ctx, key, seed[key]); err != nil {
			t.Fatalf("Failed to seed entry: %v", err)
		}
	}

	t.Run("MissingAttribute", func(t *testing.T) {
		if err := ds.ReplaceInAttribute(ctx, "nope", "a", "b"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ReplacesOnlyTargetAttribute", func(t *testing.T) {
		if err := ds.ReplaceInAttribute(ctx, "path", "/mnt/old", "/mnt/new"); err != nil {
			t.Fatalf("Failed to replace: %v", err)
		}

		got, err := ds.Get(ctx, "f1")
		if err != nil {
			t.Fatalf("Failed to get entry: %v", err)
		}
		if got["path"] != "/mnt/new/dnb/f1.wav" {
			t.Errorf("Expected replaced path, got %v", got["path"])
		}
		if got["note"] != "keep /mnt/old here" {
			t.Errorf("Expected other attributes untouched, got %v", got["note"])
		}

		got, err = ds.Get(ctx, "f3")
		if err != nil {
			t.Fatalf("Failed to get entry: %v", err)
		}
		if got["path"] != nil {
			t.Errorf("Expected null value untouched, got %v", got["path"])
		}
	})
}

func TestClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ds, err := store.CreateDataset(ctx, "tracks")
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	if err := ds.Set(ctx, "f1", Entry{"a": 1}); err != nil {
		t.Fatalf("Failed to seed entry: %v", err)
	}

	if err := ds.Clear(ctx); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}
	empty, err := ds.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("Failed to check emptiness: %v", err)
	}
	if !empty {
		t.Error("Expected dataset to be empty after clear")
	}

	// Columns survive a clear
	attrs, err := ds.Attributes(ctx)
	if err != nil {
		t.Fatalf("Failed to list attributes: %v", err)
	}
	if !reflect.DeepEqual(attrs, []string{"a"}) {
		t.Errorf("Expected [a], got %v", attrs)
	}
}
