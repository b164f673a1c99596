package metavault

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Format represents an interchange format for export and import
type Format string

const (
	// FormatJSONL is line-delimited records: one JSON object per line,
	// key and attributes flattened into one object
	FormatJSONL Format = "jsonl"
	// FormatJSON is a single JSON document mapping keys to attribute bags
	FormatJSON Format = "json"
	// FormatCSV is tabular: a header row of key column plus attribute
	// names, then one row per entry. CSV carries no value typing, so
	// values degrade to text on reimport.
	FormatCSV Format = "csv"
)

// formatForPath selects the interchange format from a path's extension
func formatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		return FormatJSONL, nil
	case ".json":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %q (want .jsonl, .json or .csv)", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Export writes the collection to path in the format selected by the
// path's extension. keyColumn names the field/column the keys are
// written under in the flattened formats.
func (c *Collection) Export(path, keyColumn string) error {
	format, err := formatForPath(path)
	if err != nil {
		return wrapError("export", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return wrapError("export", err)
	}
	defer func() { _ = file.Close() }()

	switch format {
	case FormatJSONL:
		err = c.exportJSONL(file, keyColumn)
	case FormatJSON:
		err = c.exportJSON(file)
	case FormatCSV:
		err = c.exportCSV(file, keyColumn)
	}
	if err != nil {
		return wrapError("export", err)
	}
	return wrapError("export", file.Close())
}

// exportJSONL writes one flattened JSON object per line in insertion order
func (c *Collection) exportJSONL(w io.Writer, keyColumn string) error {
	encoder := json.NewEncoder(w)
	for _, key := range c.keys {
		record := make(map[string]any, len(c.entries[key])+1)
		record[keyColumn] = key
		for name, value := range c.entries[key] {
			record[name] = value
		}
		if err := encoder.Encode(record); err != nil {
			return fmt.Errorf("failed to encode record for %q: %w", key, err)
		}
	}
	return nil
}

// exportJSON writes one nested document of key to attribute bag
func (c *Collection) exportJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(c.AsMap())
}

// exportCSV writes a header of the key column plus the union of
// attribute names across entries in first-encountered order, then one
// row per entry with absent attributes as empty cells.
func (c *Collection) exportCSV(w io.Writer, keyColumn string) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	names := attributeUnion(c)
	header := append([]string{keyColumn}, names...)
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, key := range c.keys {
		entry := c.entries[key]
		row := make([]string, 0, len(header))
		row = append(row, key)
		for _, name := range names {
			cell, err := csvCell(entry[name])
			if err != nil {
				return fmt.Errorf("key %q attribute %q: %w", key, name, err)
			}
			row = append(row, cell)
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// csvCell renders one value as CSV text: nil and absent become empty,
// strings pass through, everything else is JSON text.
func csvCell(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// Export writes the whole dataset to path in the format selected by the
// path's extension, using the store's key column name.
func (d *Dataset) Export(ctx context.Context, path string) error {
	all, err := d.All(ctx)
	if err != nil {
		return wrapError("export", err)
	}
	return all.Export(path, d.store.config.KeyColumn)
}

// Import reads records from path in the format selected by the path's
// extension and upserts them onto the dataset. With replace set, the
// dataset is cleared first; otherwise records append onto existing
// entries.
func (d *Dataset) Import(ctx context.Context, path string, replace bool) error {
	format, err := formatForPath(path)
	if err != nil {
		return wrapError("import", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return wrapError("import", err)
	}
	defer func() { _ = file.Close() }()

	keyColumn := d.store.config.KeyColumn
	var imported *Collection
	switch format {
	case FormatJSONL:
		imported, err = readJSONL(file, keyColumn)
	case FormatJSON:
		imported, err = readJSON(file)
	case FormatCSV:
		imported, err = readCSV(file, keyColumn)
	}
	if err != nil {
		return wrapError("import", err)
	}

	if replace {
		if err := d.Clear(ctx); err != nil {
			return wrapError("import", err)
		}
	}
	for _, key := range imported.Keys() {
		entry, _ := imported.Get(key)
		if err := d.Set(ctx, key, entry); err != nil {
			return wrapError("import", err)
		}
	}
	d.store.logger.Info("import finished", "dataset", d.name, "path", path, "entries", imported.Len())
	return nil
}

// readJSONL parses line-delimited flattened records
func readJSONL(r io.Reader, keyColumn string) (*Collection, error) {
	collection := NewCollection()
	decoder := json.NewDecoder(r)
	for decoder.More() {
		var record map[string]any
		if err := decoder.Decode(&record); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		rawKey, ok := record[keyColumn]
		if !ok {
			return nil, fmt.Errorf("record missing key field %q", keyColumn)
		}
		key, ok := rawKey.(string)
		if !ok {
			return nil, fmt.Errorf("key field %q is not a string", keyColumn)
		}
		delete(record, keyColumn)
		collection.Set(key, Entry(record))
	}
	return collection, nil
}

// readJSON parses a single nested document
func readJSON(r io.Reader) (*Collection, error) {
	var document map[string]Entry
	if err := json.NewDecoder(r).Decode(&document); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}

	keys := make([]string, 0, len(document))
	for key := range document {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	collection := NewCollection()
	for _, key := range keys {
		collection.Set(key, document[key])
	}
	return collection, nil
}

// readCSV parses tabular records; every value is text and empty cells
// are treated as absent.
func readCSV(r io.Reader, keyColumn string) (*Collection, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	keyIndex := -1
	for i, name := range header {
		if name == keyColumn {
			keyIndex = i
			break
		}
	}
	if keyIndex < 0 {
		return nil, fmt.Errorf("header missing key column %q", keyColumn)
	}

	collection := NewCollection()
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		entry := make(Entry, len(header)-1)
		for i, cell := range row {
			if i == keyIndex || i >= len(header) || cell == "" {
				continue
			}
			entry[header[i]] = cell
		}
		collection.Set(row[keyIndex], entry)
	}
	return collection, nil
}
