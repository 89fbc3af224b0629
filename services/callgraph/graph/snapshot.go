// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// BadgerDB key layout for call graph snapshots.
//
//	cg:snap:{projectHash}:{snapshotID}:data -> gzip(JSON(SerializableGraph))
//	cg:snap:{projectHash}:{snapshotID}:meta -> JSON(SnapshotMetadata)
//	cg:snap:{projectHash}:latest            -> snapshotID
//	cg:snapidx:{snapshotID}                 -> projectHash
const (
	keyPrefixSnap      = "cg:snap:"
	keyPrefixSnapIndex = "cg:snapidx:"
	keySuffixData      = ":data"
	keySuffixMeta      = ":meta"
	keySuffixLatest    = ":latest"
)

// SnapshotMetadata describes a stored snapshot.
type SnapshotMetadata struct {
	SnapshotID     string `json:"snapshot_id"`
	ProjectRoot    string `json:"project_root"`
	ProjectHash    string `json:"project_hash"`
	GraphHash      string `json:"graph_hash"`
	Label          string `json:"label,omitempty"`
	CreatedAtMilli int64  `json:"created_at_milli"`
	NodeCount      int    `json:"node_count"`
	DefinesCount   int    `json:"defines_count"`
	UsesCount      int    `json:"uses_count"`
	SchemaVersion  string `json:"schema_version"`

	// CompressedSize is the size of the gzip payload in bytes.
	CompressedSize int64 `json:"compressed_size"`

	// ContentHash is the SHA256 of the gzip payload, checked on load.
	ContentHash string `json:"content_hash"`
}

// SnapshotManager saves and loads call graph snapshots in BadgerDB.
//
// Description:
//
//	Each snapshot stores the full SerializableGraph as gzip-compressed JSON
//	next to a small metadata record used for listing. A per-project "latest"
//	pointer is maintained on every save.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type SnapshotManager struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewSnapshotManager creates a manager over an opened BadgerDB. The caller
// owns the DB and closes it.
func NewSnapshotManager(db *badger.DB, logger *slog.Logger) (*SnapshotManager, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotManager{db: db, logger: logger}, nil
}

// Save persists g and returns its metadata.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	g - The graph to snapshot. Must not be nil.
//	label - Optional human-readable label (the CLI passes the run ID).
//
// Outputs:
//
//	*SnapshotMetadata - Metadata of the stored snapshot.
//	error - Non-nil if serialization or the write fails.
func (m *SnapshotManager) Save(ctx context.Context, g *CallGraph, label string) (*SnapshotMetadata, error) {
	if g == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sg := g.ToSerializable()
	payload, err := compressGraph(sg)
	if err != nil {
		recordSnapshotOp(ctx, "save", false)
		return nil, err
	}

	projectHash := ProjectHash(g.ProjectRoot)
	meta := &SnapshotMetadata{
		SnapshotID:     uuid.NewString(),
		ProjectRoot:    g.ProjectRoot,
		ProjectHash:    projectHash,
		GraphHash:      sg.GraphHash,
		Label:          label,
		CreatedAtMilli: time.Now().UnixMilli(),
		NodeCount:      len(sg.Nodes),
		DefinesCount:   len(sg.Defines),
		UsesCount:      len(sg.Uses),
		SchemaVersion:  GraphSchemaVersion,
		CompressedSize: int64(len(payload)),
		ContentHash:    hashBytes(payload),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		recordSnapshotOp(ctx, "save", false)
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	base := keyPrefixSnap + projectHash + ":" + meta.SnapshotID
	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(base+keySuffixData), payload); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set([]byte(base+keySuffixMeta), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		if err := txn.Set([]byte(keyPrefixSnap+projectHash+keySuffixLatest), []byte(meta.SnapshotID)); err != nil {
			return fmt.Errorf("updating latest pointer: %w", err)
		}
		return txn.Set([]byte(keyPrefixSnapIndex+meta.SnapshotID), []byte(projectHash))
	})
	if err != nil {
		recordSnapshotOp(ctx, "save", false)
		return nil, fmt.Errorf("writing snapshot to badger: %w", err)
	}

	recordSnapshotOp(ctx, "save", true)
	m.logger.Info("snapshot saved",
		slog.String("snapshot_id", meta.SnapshotID),
		slog.String("project_root", g.ProjectRoot),
		slog.Int("node_count", meta.NodeCount),
		slog.Int64("compressed_size", meta.CompressedSize),
	)
	return meta, nil
}

// Load retrieves a snapshot by ID.
//
// Outputs:
//
//	error - ErrSnapshotNotFound (wrapped) for unknown IDs; ErrInvalidSnapshot
//	when the payload fails its integrity check or cannot be reconstructed.
func (m *SnapshotManager) Load(ctx context.Context, snapshotID string) (*CallGraph, *SnapshotMetadata, error) {
	if snapshotID == "" {
		return nil, nil, fmt.Errorf("snapshot ID must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	projectHash, err := m.readString(keyPrefixSnapIndex + snapshotID)
	if err != nil {
		recordSnapshotOp(ctx, "load", false)
		return nil, nil, fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}
	g, meta, err := m.loadByKeys(projectHash, snapshotID)
	recordSnapshotOp(ctx, "load", err == nil)
	return g, meta, err
}

// LoadLatest loads the most recently saved snapshot for projectRoot.
func (m *SnapshotManager) LoadLatest(ctx context.Context, projectRoot string) (*CallGraph, *SnapshotMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	projectHash := ProjectHash(projectRoot)
	snapshotID, err := m.readString(keyPrefixSnap + projectHash + keySuffixLatest)
	if err != nil {
		recordSnapshotOp(ctx, "load", false)
		return nil, nil, fmt.Errorf("reading latest pointer for %s: %w", projectRoot, err)
	}
	g, meta, err := m.loadByKeys(projectHash, snapshotID)
	recordSnapshotOp(ctx, "load", err == nil)
	return g, meta, err
}

// List returns snapshot metadata, newest first.
//
// Inputs:
//
//	projectRoot - Optional filter. If empty, all projects are listed.
//	limit - Maximum number of results. If <= 0, defaults to 100.
func (m *SnapshotManager) List(ctx context.Context, projectRoot string, limit int) ([]*SnapshotMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	prefix := keyPrefixSnap
	if projectRoot != "" {
		prefix += ProjectHash(projectRoot) + ":"
	}

	var results []*SnapshotMetadata
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !strings.HasSuffix(key, keySuffixMeta) {
				continue
			}
			var meta SnapshotMetadata
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				m.logger.Warn("skipping corrupt snapshot metadata",
					slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAtMilli > results[j].CreatedAtMilli
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a snapshot and, if it was the latest, the latest pointer.
func (m *SnapshotManager) Delete(ctx context.Context, snapshotID string) error {
	if snapshotID == "" {
		return fmt.Errorf("snapshot ID must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	projectHash, err := m.readString(keyPrefixSnapIndex + snapshotID)
	if err != nil {
		recordSnapshotOp(ctx, "delete", false)
		return fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}

	base := keyPrefixSnap + projectHash + ":" + snapshotID
	latestKey := keyPrefixSnap + projectHash + keySuffixLatest
	err = m.db.Update(func(txn *badger.Txn) error {
		for _, key := range []string{base + keySuffixData, base + keySuffixMeta, keyPrefixSnapIndex + snapshotID} {
			if err := txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
		}
		item, err := txn.Get([]byte(latestKey))
		if err != nil {
			return nil
		}
		var current string
		_ = item.Value(func(val []byte) error {
			current = string(val)
			return nil
		})
		if current == snapshotID {
			return txn.Delete([]byte(latestKey))
		}
		return nil
	})
	if err != nil {
		recordSnapshotOp(ctx, "delete", false)
		return fmt.Errorf("deleting snapshot %s: %w", snapshotID, err)
	}

	recordSnapshotOp(ctx, "delete", true)
	m.logger.Info("snapshot deleted", slog.String("snapshot_id", snapshotID))
	return nil
}

func (m *SnapshotManager) loadByKeys(projectHash, snapshotID string) (*CallGraph, *SnapshotMetadata, error) {
	base := keyPrefixSnap + projectHash + ":" + snapshotID

	var payload, metaJSON []byte
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		if payload, err = valueCopy(txn, base+keySuffixData); err != nil {
			return err
		}
		metaJSON, err = valueCopy(txn, base+keySuffixMeta)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reading snapshot %s: %w", snapshotID, err)
	}

	var meta SnapshotMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("%w: metadata for %s: %v", ErrInvalidSnapshot, snapshotID, err)
	}
	if actual := hashBytes(payload); meta.ContentHash != "" && meta.ContentHash != actual {
		return nil, nil, fmt.Errorf("%w: integrity check failed for %s: expected %s, got %s",
			ErrInvalidSnapshot, snapshotID, meta.ContentHash, actual)
	}

	sg, err := decompressGraph(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidSnapshot, snapshotID, err)
	}
	g, err := FromSerializable(sg)
	if err != nil {
		return nil, nil, fmt.Errorf("reconstructing graph for %s: %w", snapshotID, err)
	}
	return g, &meta, nil
}

func (m *SnapshotManager) readString(key string) (string, error) {
	var out string
	err := m.db.View(func(txn *badger.Txn) error {
		val, err := valueCopy(txn, key)
		out = string(val)
		return err
	})
	return out, err
}

// valueCopy reads key, mapping a missing key to ErrSnapshotNotFound.
func valueCopy(txn *badger.Txn, key string) ([]byte, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func compressGraph(sg *SerializableGraph) ([]byte, error) {
	jsonData, err := json.Marshal(sg)
	if err != nil {
		return nil, fmt.Errorf("marshaling graph: %w", err)
	}
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing graph: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressGraph(payload []byte) (*SerializableGraph, error) {
	gr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	defer gr.Close()

	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("reading decompressed data: %w", err)
	}
	var sg SerializableGraph
	if err := json.Unmarshal(jsonData, &sg); err != nil {
		return nil, fmt.Errorf("unmarshaling graph: %w", err)
	}
	return &sg, nil
}

// ProjectHash returns SHA256(projectRoot)[:16] for use as a key prefix.
func ProjectHash(projectRoot string) string {
	h := sha256.Sum256([]byte(projectRoot))
	return hex.EncodeToString(h[:])[:16]
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
