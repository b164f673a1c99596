// Package metavault is a lightweight, schema-flexible store for metadata
// associated with (media) files.
//
// A store maps dataset names to datasets; a dataset maps an identifying
// key (typically a filename) to an open-ended bag of named attributes.
// Attributes do not need to be declared up front: writing an entry with a
// new attribute name adds a nullable TEXT column on the fly. Values are
// scalars or nested structures; structured values are stored as JSON
// text. Storage is SQLite via modernc.org/sqlite, no cgo required.
//
// Basic usage:
//
//	store, err := metavault.Open("media.db")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	ctx := context.Background()
//	if err := store.Init(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	ds, err := store.CreateDataset(ctx, "tracks")
//	if err != nil {
//		log.Fatal(err)
//	}
//	err = ds.Set(ctx, "song.wav", metavault.Entry{
//		"artist": "Dion",
//		"bpm":    174,
//		"tags":   []any{"dnb", "wip"},
//	})
//
// Query results and full reads come back as an ordered in-memory
// Collection, which supports subsetting, merging, subtraction and export
// to JSONL, JSON or CSV files (and import back).
//
// When writing a lot of data iteratively, enable Config.ManualCommit and
// call Commit once at the end; one commit for many writes is much faster
// than one per call.
package metavault
