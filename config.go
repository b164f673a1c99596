package metavault

import "time"

// DefaultKeyColumn is the name of the identifying key column used when
// Config.KeyColumn is left empty. It matches the column name used by
// existing metavault database files.
const DefaultKeyColumn = "_filename"

// Config holds store configuration
type Config struct {
	// Path is the path to the SQLite database file
	Path string

	// KeyColumn is the name of the unique key column of every dataset.
	// Defaults to DefaultKeyColumn.
	KeyColumn string

	// ManualCommit disables per-call commits. All statements run on one
	// shared unit of work until Commit or Rollback is called. Enable this
	// when writing a lot of data iteratively; committing once at the end
	// is much faster than committing every call.
	ManualCommit bool

	// BusyTimeout is how long the engine waits for a locked database
	// before failing. Defaults to 5 seconds.
	BusyTimeout time.Duration

	// Logger receives operational messages. Defaults to a stderr logger
	// at warn level; use NopLogger to silence.
	Logger Logger
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyColumn:   DefaultKeyColumn,
		BusyTimeout: 5 * time.Second,
		Logger:      NewStdLogger(LevelWarn),
	}
}
