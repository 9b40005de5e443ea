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

package database

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const blobGcInterval = 5 * time.Minute

// BlobStore is the badger-backed key/value store
type BlobStore struct {
	db       *badger.DB
	logger   *slog.Logger
	gcTicker *time.Ticker
	gcStopCh chan struct{}
	gcWg     sync.WaitGroup
}

// NewBlobStore opens badger under dataDir/blob, or in memory if dataDir is empty
func NewBlobStore(dataDir string, logger *slog.Logger) (*BlobStore, error) {
	var badgerOpts badger.Options
	if dataDir == "" {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := ensureDir(dataDir); err != nil {
			return nil, err
		}
		badgerOpts = badger.DefaultOptions(filepath.Join(dataDir, "blob")).
			WithCompression(options.Snappy)
	}
	badgerOpts = badgerOpts.
		WithLogger(&badgerLogger{logger: logger}).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	b := &BlobStore{
		db:     db,
		logger: logger,
	}
	if dataDir != "" {
		b.gcTicker = time.NewTicker(blobGcInterval)
		b.gcStopCh = make(chan struct{})
		b.gcWg.Add(1)
		go b.blobGc()
	}
	return b, nil
}

func (b *BlobStore) blobGc() {
	defer b.gcWg.Done()
	for {
		select {
		case <-b.gcTicker.C:
			for {
				err := b.db.RunValueLogGC(0.5)
				if err == nil {
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					b.logger.Warn(
						fmt.Sprintf("blob DB: GC failure: %s", err),
					)
				}
				break
			}
		case <-b.gcStopCh:
			return
		}
	}
}

// DB returns the badger handle
func (b *BlobStore) DB() *badger.DB {
	return b.db
}

func (b *BlobStore) Close() error {
	if b.gcTicker != nil {
		b.gcTicker.Stop()
		close(b.gcStopCh)
		b.gcWg.Wait()
		b.gcTicker = nil
	}
	return b.db.Close()
}

// badgerLogger adapts slog to the badger logger interface
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(msg string, args ...any) {
	l.logger.Error(fmt.Sprintf("badger: "+msg, args...))
}

func (l *badgerLogger) Warningf(msg string, args ...any) {
	l.logger.Warn(fmt.Sprintf("badger: "+msg, args...))
}

func (l *badgerLogger) Infof(msg string, args ...any) {
	l.logger.Info(fmt.Sprintf("badger: "+msg, args...))
}

func (l *badgerLogger) Debugf(msg string, args ...any) {
	l.logger.Debug(fmt.Sprintf("badger: "+msg, args...))
}
