package cachestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// entry is the on-disk metadata record for one digest, serialized at
// index/<digest>.json. Unknown fields round-trip through Extra
// so a future version that adds fields doesn't clobber them on rewrite.
type entry struct {
	FaceCount   int      `json:"face_count"`
	BBoxes      [][4]int `json:"bboxes"`
	StagesDone  []string `json:"stages_done"`
	CompletedAt int64    `json:"completed_at"`
	HasPreview  bool     `json:"has_preview"`
	SizeBytes   int64    `json:"size_bytes"`

	Extra map[string]json.RawMessage `json:"-"`
}

// MarshalJSON merges the known fields with any preserved unknown ones.
func (e *entry) MarshalJSON() ([]byte, error) {
	type known entry
	raw, err := json.Marshal((*known)(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return raw, nil
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON captures unknown fields into Extra for forward compatibility.
func (e *entry) UnmarshalJSON(data []byte) error {
	type known entry
	if err := json.Unmarshal(data, (*known)(e)); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	knownFields := map[string]struct{}{
		"face_count": {}, "bboxes": {}, "stages_done": {},
		"completed_at": {}, "has_preview": {}, "size_bytes": {},
	}
	for k, v := range all {
		if _, ok := knownFields[k]; ok {
			continue
		}
		if e.Extra == nil {
			e.Extra = map[string]json.RawMessage{}
		}
		e.Extra[k] = v
	}
	return nil
}

// loadEntry reads and parses index/<digest>.json. Returns (nil, err) with err
// satisfying errors.Is(err, fs.ErrNotExist) when the entry doesn't exist.
func loadEntry(path string) (*entry, error) {
	if err := ensureCacheFile(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parse cache entry %s: %w", path, err)
	}
	return &e, nil
}

// saveEntry writes e to path via temp-write, fsync, atomic rename — the same
// admission discipline CacheStore.Admit uses for blobs, applied here to
// metadata so a crash never leaves a half-written index file.
func saveEntry(path string, e *entry) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+uuid.NewString()+".json.tmp")
	if err != nil {
		return fmt.Errorf("create temp entry file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp entry file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp entry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp entry file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename entry file: %w", err)
	}
	return nil
}
