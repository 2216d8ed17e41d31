/*
Copyright © 2022 - 2025 SUSE LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package audit is an optional, disabled-by-default record of the
// resource manager's session-ownership decisions: claims across
// connections and abandoned-FIFO evictions. Invariant-violation aborts
// are not recorded here. It is not part of the core's contract;
// nothing in pkg/resmgr requires it to be present.
package audit

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var eventsBucket = []byte("events")

// Log appends timestamped, human-readable event strings to a bbolt
// database, one key per event ordered by insertion.
type Log struct {
	db *bbolt.DB
}

// Open creates or opens a bbolt database at path as an audit log.
func Open(path string) (*Log, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("audit: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(eventsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: initializing bucket: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the underlying database file.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends one formatted event to the log.
func (l *Log) Record(format string, args ...interface{}) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(eventsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := []byte(fmt.Sprintf("%020d", seq))
		value := []byte(fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339Nano), fmt.Sprintf(format, args...)))
		return b.Put(key, value)
	})
}
