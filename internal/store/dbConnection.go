// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/gasmesh/gateway/pkg/log"
)

// registerOnce guards sql.Register, which panics if the same driver name
// is registered twice. It is not a substitute for dependency injection:
// every DB carries its own Handle, constructed fresh per Open call.
var registerOnce sync.Once

// DB wraps a single-connection sqlite3 handle instrumented with query
// timing hooks. A gateway process opens exactly one of these (the sample
// store is single-writer; see the concurrency model), but nothing here
// prevents opening more for tests.
type DB struct {
	Handle *sqlx.DB
}

// Open connects to the sqlite3 database at dsn. It does not run
// migrations (see Migrate).
func Open(dsn string) (*DB, error) {
	registerOnce.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))
	})

	handle, err := sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", dsn))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite3 database %q: %w", dsn, err)
	}

	// sqlite does not multithread writes. Having more than one connection
	// open just means waiting for locks; a single connection avoids that
	// and matches the store's single-writer design.
	handle.SetMaxOpenConns(1)

	if err := handle.Ping(); err != nil {
		handle.Close()
		return nil, fmt.Errorf("pinging sqlite3 database %q: %w", dsn, err)
	}

	log.Infof("store: opened database %s", dsn)
	return &DB{Handle: handle}, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	return d.Handle.Close()
}
