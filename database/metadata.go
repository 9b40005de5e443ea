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
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blinklabs-io/autoranker/database/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

const vacuumInterval = 24 * time.Hour

// memoryDbSeq gives each in-memory store its own shared-cache database
var memoryDbSeq atomic.Uint64

// MetadataStore is the sqlite-backed store for items and the action log
type MetadataStore struct {
	db          *gorm.DB
	logger      *slog.Logger
	dataDir     string
	timerVacuum *time.Timer
	timerMutex  sync.Mutex
	vacuumWG    sync.WaitGroup
	closed      bool
}

// NewMetadataStore opens the sqlite store. Uses an in-memory database if dataDir is empty.
func NewMetadataStore(dataDir string, logger *slog.Logger) (*MetadataStore, error) {
	gormConfig := &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	}
	var dsn string
	if dataDir == "" {
		dsn = fmt.Sprintf(
			"file:autoranker%d?mode=memory&cache=shared",
			memoryDbSeq.Add(1),
		)
	} else {
		if err := ensureDir(dataDir); err != nil {
			return nil, err
		}
		// WAL journal mode, disable sync on write
		dsn = fmt.Sprintf(
			"file:%s?_pragma=journal_mode(WAL)&_pragma=sync(OFF)&_pragma=busy_timeout(5000)",
			filepath.Join(dataDir, "metadata.sqlite"),
		)
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	d := &MetadataStore{
		db:      db,
		logger:  logger,
		dataDir: dataDir,
	}
	if err := d.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		_ = d.Close()
		return nil, err
	}
	for _, model := range models.MigrateModels {
		if err := d.db.AutoMigrate(model); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("migrate %T: %w", model, err)
		}
	}
	d.scheduleVacuum()
	return d, nil
}

func ensureDir(dataDir string) error {
	if _, err := os.Stat(dataDir); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read data dir: %w", err)
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	return nil
}

// DB returns the underlying GORM database handle
func (d *MetadataStore) DB() *gorm.DB {
	return d.db
}

func (d *MetadataStore) runVacuum() error {
	d.timerMutex.Lock()
	if d.dataDir == "" || d.closed {
		d.timerMutex.Unlock()
		return nil
	}
	d.vacuumWG.Add(1)
	d.timerMutex.Unlock()
	defer d.vacuumWG.Done()
	return d.db.Exec("VACUUM").Error
}

func (d *MetadataStore) scheduleVacuum() {
	d.timerMutex.Lock()
	defer d.timerMutex.Unlock()
	if d.closed {
		return
	}
	if d.timerVacuum != nil {
		d.timerVacuum.Stop()
	}
	d.timerVacuum = time.AfterFunc(vacuumInterval, func() {
		defer d.scheduleVacuum()
		if err := d.runVacuum(); err != nil {
			d.logger.Error(
				"failed to free unused space in metadata store",
				"error", err,
			)
		}
	})
}

// Close stops background work and closes the connection
func (d *MetadataStore) Close() error {
	d.timerMutex.Lock()
	d.closed = true
	if d.timerVacuum != nil {
		d.timerVacuum.Stop()
		d.timerVacuum = nil
	}
	d.timerMutex.Unlock()
	d.vacuumWG.Wait()
	db, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("get database handle: %w", err)
	}
	return db.Close()
}
