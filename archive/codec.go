package archive

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	cortex "github.com/nevindra/cortex"
)

// entry is the on-disk form of one archived record. Every hash field is
// either a plain string or a binary wrapper.
type entry struct {
	ID   string               `json:"id"`
	Data map[string]fieldData `json:"data"`
}

// fieldData holds one hash field. Binary values are wrapped as
// {"_binary": true, "data": "<base64>"} so the JSON file stays valid
// UTF-8 while the bytes round-trip exactly.
type fieldData struct {
	Binary bool   `json:"_binary,omitempty"`
	Data   string `json:"data"`
}

func (f fieldData) MarshalJSON() ([]byte, error) {
	if !f.Binary {
		return json.Marshal(f.Data)
	}
	type wrapper fieldData
	return json.Marshal(wrapper(f))
}

func (f *fieldData) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		f.Binary = false
		f.Data = s
		return nil
	}
	type wrapper fieldData
	var w wrapper
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*f = fieldData(w)
	return nil
}

// Field names inside the data map. content/embedding mirror the store's
// hash layout so an archive file is a faithful dump.
const (
	dataContent   = "content"
	dataEmbedding = "embedding"
)

func encodeRecord(rec cortex.Record) entry {
	e := entry{ID: rec.ID, Data: map[string]fieldData{
		dataContent: {Data: rec.Text},
	}}
	if len(rec.Embedding) > 0 {
		e.Data[dataEmbedding] = fieldData{
			Binary: true,
			Data:   base64.StdEncoding.EncodeToString(cortex.EncodeVector(rec.Embedding)),
		}
	}
	for k, v := range rec.Fields {
		e.Data[k] = fieldData{Data: v}
	}
	return e
}

func decodeRecord(e entry) cortex.Record {
	rec := cortex.Record{ID: e.ID, Fields: map[string]string{}}
	for k, f := range e.Data {
		switch {
		case k == dataContent:
			rec.Text = f.Data
		case k == dataEmbedding && f.Binary:
			if raw, err := base64.StdEncoding.DecodeString(f.Data); err == nil {
				rec.Embedding = cortex.DecodeVector(raw)
			}
		default:
			rec.Fields[k] = f.Data
		}
	}
	return rec
}

// readFile loads an archive file. A missing file is an empty archive.
func readFile(path string) ([]entry, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", path, err)
	}
	var entries []entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("archive: parse %s: %w", path, err)
	}
	return entries, nil
}

// writeFile writes atomically: temp file in the same directory, fsync,
// rename. Readers never observe a half-written archive.
func writeFile(path string, entries []entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("archive: mkdir: %w", err)
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("archive: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("archive: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("archive: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("archive: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("archive: rename: %w", err)
	}
	return nil
}
