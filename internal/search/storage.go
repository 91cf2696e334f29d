package search

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// indexFormatVersion is bumped whenever the persisted document encoding
// changes shape.
const indexFormatVersion = 1

// Metadata is the data-model record from spec §3: index_format_version,
// session id, document count, and last-built timestamp.
type Metadata struct {
	Version     uint32
	SessionID   string
	DocCount    int
	LastBuiltAt int64
}

// Data combines metadata with the serialized document set, the unit
// written and read by the atomic persistence helpers below.
type Data struct {
	Metadata     Metadata
	IndexContent []byte
}

// Serialize captures the engine's documents only; the BM25 index itself is
// rebuilt on Deserialize, matching the original's serialize/deserialize
// contract.
func (e *Engine) Serialize() ([]byte, error) {
	docs := make([]Document, 0, len(e.documents))
	for _, d := range e.documents {
		docs = append(docs, d)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(docs); err != nil {
		return nil, fmt.Errorf("serialize index: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize rebuilds an engine from bytes produced by Serialize.
func Deserialize(sessionID string, data []byte, maxDocs int) (*Engine, error) {
	var docs []Document
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&docs); err != nil {
		return nil, fmt.Errorf("deserialize index: %w", err)
	}

	engine := New(sessionID, maxDocs)
	engine.AddDocuments(docs)
	return engine, nil
}

// WriteIndexAtomic writes data to path using temp-file-then-rename in the
// same directory, so a reader always sees either the full new blob or the
// previous one, never a partial write.
func WriteIndexAtomic(path string, data Data) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".idx-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename index into place: %w", err)
	}
	return nil
}

// ReadIndex reads Data from path with no implicit rebuild.
func ReadIndex(path string) (Data, error) {
	if _, err := os.Stat(path); err != nil {
		return Data{}, fmt.Errorf("index file not found: %s", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Data{}, fmt.Errorf("read index file: %w", err)
	}

	var data Data
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&data); err != nil {
		return Data{}, fmt.Errorf("decode index file: %w", err)
	}
	if data.Metadata.Version != indexFormatVersion {
		return Data{}, fmt.Errorf("unsupported index format version %d (expected %d): %s", data.Metadata.Version, indexFormatVersion, path)
	}
	return data, nil
}

// GetIndexPath returns the deterministic index path for a session:
// {appData}/message_indices/{session_id}.idx.
func GetIndexPath(appDataDir, sessionID string) string {
	return filepath.Join(appDataDir, "message_indices", sessionID+".idx")
}

// DeleteIndex removes the index file for a session, if present.
func DeleteIndex(appDataDir, sessionID string) error {
	path := GetIndexPath(appDataDir, sessionID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(path)
}

// BuildMetadata constructs the Metadata record for a just-built engine.
func BuildMetadata(sessionID string, docCount int, lastBuiltAtUnixMillis int64) Metadata {
	return Metadata{
		Version:     indexFormatVersion,
		SessionID:   sessionID,
		DocCount:    docCount,
		LastBuiltAt: lastBuiltAtUnixMillis,
	}
}
