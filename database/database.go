// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package database persists the item working set, the action history and
// vote intents. With an empty data directory everything is kept in memory.
package database

import (
	"errors"
	"io"
	"log/slog"
)

type Database struct {
	logger   *slog.Logger
	metadata *MetadataStore
	blob     *BlobStore
	dataDir  string
}

// New opens the metadata and blob stores under dataDir
func New(
	logger *slog.Logger,
	dataDir string,
) (*Database, error) {
	if logger == nil {
		// Create logger to throw away logs
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	logger = logger.With("component", "database")
	metadataDb, err := NewMetadataStore(dataDir, logger)
	if err != nil {
		return nil, err
	}
	blobDb, err := NewBlobStore(dataDir, logger)
	if err != nil {
		_ = metadataDb.Close()
		return nil, err
	}
	return &Database{
		logger:   logger,
		metadata: metadataDb,
		blob:     blobDb,
		dataDir:  dataDir,
	}, nil
}

// DataDir returns the path to the data directory used for storage
func (d *Database) DataDir() string {
	return d.dataDir
}

// Metadata returns the sqlite store
func (d *Database) Metadata() *MetadataStore {
	return d.metadata
}

// Blob returns the badger store
func (d *Database) Blob() *BlobStore {
	return d.blob
}

// Close cleans up the database connections
func (d *Database) Close() error {
	return errors.Join(
		d.metadata.Close(),
		d.blob.Close(),
	)
}
