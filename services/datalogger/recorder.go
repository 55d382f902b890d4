package datalogger

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/tanodd/hearth/pubsub"
)

const timeFormat = "2006-01-02 15:04:05"

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	topic TEXT NOT NULL,
	device TEXT NOT NULL DEFAULT '',
	timestamp DATETIME NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_device ON events(device);
`

// Recorder appends bus events to a sqlite database.
type Recorder struct {
	db *sql.DB
}

func NewRecorder(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating schema")
	}
	return &Recorder{db: db}, nil
}

// Append stores one event.
func (self *Recorder) Append(ev *pubsub.Event) error {
	query := `INSERT INTO events (topic, device, timestamp, payload) VALUES (?, ?, ?, ?)`
	_, err := self.db.Exec(query, ev.Topic, ev.Device(), ev.Timestamp.UTC().Format(timeFormat), string(ev.Bytes()))
	return err
}

// Recent returns the latest events, newest first, optionally limited to one
// device.
func (self *Recorder) Recent(device string, limit int) ([]*pubsub.Event, error) {
	var rows *sql.Rows
	var err error
	if device == "" {
		rows, err = self.db.Query(`SELECT payload FROM events ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = self.db.Query(`SELECT payload FROM events WHERE device = ? ORDER BY id DESC LIMIT ?`, device, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*pubsub.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		if ev := pubsub.Parse(payload, ""); ev != nil {
			events = append(events, ev)
		}
	}
	return events, rows.Err()
}

// Count returns the number of stored events.
func (self *Recorder) Count() (int64, error) {
	var count int64
	err := self.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&count)
	return count, err
}

// Trim deletes events older than the keep window.
func (self *Recorder) Trim(keep time.Duration) error {
	cutoff := time.Now().Add(-keep)
	_, err := self.db.Exec(`DELETE FROM events WHERE timestamp < ?`, cutoff.UTC().Format(timeFormat))
	return err
}

func (self *Recorder) Close() error {
	return self.db.Close()
}
