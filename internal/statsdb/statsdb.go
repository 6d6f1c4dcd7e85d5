// Package statsdb stores statistics of download sessions in a Bolt database file.
package statsdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
)

var sessionsBucket = []byte("sessions")

// Keys for the persistent storage.
var Keys = struct {
	Name            []byte
	StartedAt       []byte
	UpdatedAt       []byte
	NumPieces       []byte
	PiecesComplete  []byte
	Progress        []byte
	Mode            []byte
	BytesDownloaded []byte
	BytesUploaded   []byte
	BytesWasted     []byte
}{
	Name:            []byte("name"),
	StartedAt:       []byte("started_at"),
	UpdatedAt:       []byte("updated_at"),
	NumPieces:       []byte("num_pieces"),
	PiecesComplete:  []byte("pieces_complete"),
	Progress:        []byte("progress"),
	Mode:            []byte("mode"),
	BytesDownloaded: []byte("bytes_downloaded"),
	BytesUploaded:   []byte("bytes_uploaded"),
	BytesWasted:     []byte("bytes_wasted"),
}

// ErrNotFound is returned from Read when there is no record for the session.
var ErrNotFound = errors.New("session not found")

// Record is the statistics of a session at the time it is written.
type Record struct {
	ID              string
	Name            string
	StartedAt       time.Time `structs:",omitnested"`
	UpdatedAt       time.Time `structs:",omitnested"`
	NumPieces       uint32
	PiecesComplete  uint32
	Progress        float64
	Mode            string
	BytesDownloaded int64
	BytesUploaded   int64
	BytesWasted     int64
}

// DB is a database of session records.
type DB struct {
	db *bbolt.DB
}

// Open the database file at path. Parent directories are created if needed.
func Open(path string) (*DB, error) {
	err := os.MkdirAll(filepath.Dir(path), 0750)
	if err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0640, &bbolt.Options{Timeout: time.Second})
	if err == bbolt.ErrTimeout {
		return nil, errors.New("stats database is locked by another process")
	} else if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err2 := tx.CreateBucketIfNotExists(sessionsBucket)
		return err2
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

// Close the database file.
func (d *DB) Close() error {
	return d.db.Close()
}

// Write the record of a session. Previous record of the same session is replaced.
func (d *DB) Write(r *Record) error {
	if r.ID == "" {
		return errors.New("empty session id")
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(sessionsBucket).CreateBucketIfNotExists([]byte(r.ID))
		if err != nil {
			return err
		}
		_ = b.Put(Keys.Name, []byte(r.Name))
		_ = b.Put(Keys.StartedAt, []byte(r.StartedAt.Format(time.RFC3339)))
		_ = b.Put(Keys.UpdatedAt, []byte(r.UpdatedAt.Format(time.RFC3339)))
		_ = b.Put(Keys.NumPieces, []byte(strconv.FormatUint(uint64(r.NumPieces), 10)))
		_ = b.Put(Keys.PiecesComplete, []byte(strconv.FormatUint(uint64(r.PiecesComplete), 10)))
		_ = b.Put(Keys.Progress, []byte(strconv.FormatFloat(r.Progress, 'f', -1, 64)))
		_ = b.Put(Keys.Mode, []byte(r.Mode))
		_ = b.Put(Keys.BytesDownloaded, []byte(strconv.FormatInt(r.BytesDownloaded, 10)))
		_ = b.Put(Keys.BytesUploaded, []byte(strconv.FormatInt(r.BytesUploaded, 10)))
		_ = b.Put(Keys.BytesWasted, []byte(strconv.FormatInt(r.BytesWasted, 10)))
		return nil
	})
}

// Read the record of the session with id.
func (d *DB) Read(id string) (*Record, error) {
	var r *Record
	err := d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket).Bucket([]byte(id))
		if b == nil {
			return ErrNotFound
		}
		var err error
		r, err = readRecord(id, b)
		return err
	})
	return r, err
}

// List returns the records of all sessions, oldest first.
func (d *DB) List() ([]Record, error) {
	var records []Record
	err := d.db.View(func(tx *bbolt.Tx) error {
		mb := tx.Bucket(sessionsBucket)
		return mb.ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			r, err := readRecord(string(k), mb.Bucket(k))
			if err != nil {
				return err
			}
			records = append(records, *r)
			return nil
		})
	})
	sort.Slice(records, func(i, j int) bool { return records[i].StartedAt.Before(records[j].StartedAt) })
	return records, err
}

// Delete the record of the session with id. Deleting a missing record is not an error.
func (d *DB) Delete(id string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket(sessionsBucket).DeleteBucket([]byte(id))
		if err == bbolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

func readRecord(id string, b *bbolt.Bucket) (*Record, error) {
	r := &Record{
		ID:   id,
		Name: string(b.Get(Keys.Name)),
		Mode: string(b.Get(Keys.Mode)),
	}
	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339, string(b.Get(Keys.StartedAt))); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339, string(b.Get(Keys.UpdatedAt))); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	n, err := strconv.ParseUint(string(b.Get(Keys.NumPieces)), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	r.NumPieces = uint32(n)
	n, err = strconv.ParseUint(string(b.Get(Keys.PiecesComplete)), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	r.PiecesComplete = uint32(n)
	if r.Progress, err = strconv.ParseFloat(string(b.Get(Keys.Progress)), 64); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	if r.BytesDownloaded, err = strconv.ParseInt(string(b.Get(Keys.BytesDownloaded)), 10, 64); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	if r.BytesUploaded, err = strconv.ParseInt(string(b.Get(Keys.BytesUploaded)), 10, 64); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	if r.BytesWasted, err = strconv.ParseInt(string(b.Get(Keys.BytesWasted)), 10, 64); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	return r, nil
}
