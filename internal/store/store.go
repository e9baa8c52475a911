// Package store keeps node state that must survive a power cycle in SQLite:
// sequence reservations, replay high-water marks, redeemed invites, boot
// records and the latest merged copy of every object.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/arx-os/arxlink/internal/protocol/invite"
	"github.com/arx-os/arxlink/internal/protocol/object"
	"github.com/arx-os/arxlink/internal/protocol/replay"
	"github.com/arx-os/arxlink/internal/registry"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 2

var ErrNotFound = errors.New("store: not found")

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path. ":memory:" gives an ephemeral
// store; the single connection keeps it alive until Close.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connect %q: %w", path, err)
	}
	// single writer; also pins an in-memory database to one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, path); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug().Str("path", path).Msg("store.Open")
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB, path string) error {
	pragmas := []string{
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("store: %q: %w", p, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("store: read user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("store: schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("store: set user_version: %w", err)
	}
	return nil
}

// LoadReservation returns the stored sequence ceiling for sender, 0 if none.
func (s *Store) LoadReservation(sender uint16) (uint32, error) {
	var ceiling int64
	err := s.db.QueryRow(`SELECT ceiling FROM sequence_reservations WHERE sender = ?`, sender).Scan(&ceiling)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: load reservation %d: %w", sender, err)
	}
	return uint32(ceiling), nil
}

// SaveReservation raises the stored ceiling. A lower ceiling is ignored.
func (s *Store) SaveReservation(sender uint16, ceiling uint32) error {
	_, err := s.db.Exec(`
		INSERT INTO sequence_reservations (sender, ceiling, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(sender) DO UPDATE SET
			ceiling = MAX(ceiling, excluded.ceiling),
			updated_at = excluded.updated_at`,
		sender, int64(ceiling), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save reservation %d: %w", sender, err)
	}
	return nil
}

// SaveHighWater checkpoints replay marks in one transaction. Stored marks are
// never lowered.
func (s *Store) SaveHighWater(ctx context.Context, marks []replay.Mark) error {
	if len(marks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin high water: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO high_water (sender, accepted, forwarded, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(sender) DO UPDATE SET
			accepted = MAX(accepted, excluded.accepted),
			forwarded = MAX(forwarded, excluded.forwarded),
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("store: prepare high water: %w", err)
	}
	defer stmt.Close()

	at := s.now().UnixMilli()
	for _, m := range marks {
		if _, err := stmt.ExecContext(ctx, m.Sender, int64(m.HighWater), int64(m.Forwarded), at); err != nil {
			return fmt.Errorf("store: save high water %d: %w", m.Sender, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit high water: %w", err)
	}
	return nil
}

// SaveMark raises the stored accepted mark of one sender. It runs before a
// frame is accepted, so a power cycle cannot reopen its sequence.
func (s *Store) SaveMark(sender uint16, seq uint32) error {
	_, err := s.db.Exec(`
		INSERT INTO high_water (sender, accepted, forwarded, updated_at) VALUES (?, ?, 0, ?)
		ON CONFLICT(sender) DO UPDATE SET
			accepted = MAX(accepted, excluded.accepted),
			updated_at = excluded.updated_at`,
		sender, int64(seq), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save mark %d: %w", sender, err)
	}
	return nil
}

// LoadHighWater returns checkpointed marks, least recently updated first, so
// loading them into a bounded table keeps the freshest senders.
func (s *Store) LoadHighWater(ctx context.Context) ([]replay.Mark, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sender, accepted, forwarded FROM high_water ORDER BY updated_at, sender`)
	if err != nil {
		return nil, fmt.Errorf("store: load high water: %w", err)
	}
	defer rows.Close()
	var out []replay.Mark
	for rows.Next() {
		var (
			sender              int64
			accepted, forwarded int64
		)
		if err := rows.Scan(&sender, &accepted, &forwarded); err != nil {
			return nil, fmt.Errorf("store: scan high water: %w", err)
		}
		out = append(out, replay.Mark{Sender: uint16(sender), HighWater: uint32(accepted), Forwarded: uint32(forwarded)})
	}
	return out, rows.Err()
}

// RecordRedemption inserts r unless it is already present. Expired rows are
// pruned in the same transaction.
func (s *Store) RecordRedemption(r invite.Redemption, expires, now time.Time) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("store: begin redemption: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM redemptions WHERE expires_at <= ?`, now.UnixMilli()); err != nil {
		return false, fmt.Errorf("store: prune redemptions: %w", err)
	}
	res, err := tx.Exec(`
		INSERT INTO redemptions (issuer, serial, issued_hour, expires_at, redeemed_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(issuer, serial, issued_hour) DO NOTHING`,
		r.Issuer, r.Serial, int64(r.IssuedHour), expires.UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("store: record redemption %d/%d: %w", r.Issuer, r.Serial, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: record redemption: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit redemption: %w", err)
	}
	return n == 1, nil
}

// Redemptions counts stored, unexpired redemptions.
func (s *Store) Redemptions(now time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM redemptions WHERE expires_at > ?`, now.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count redemptions: %w", err)
	}
	return n, nil
}

type Boot struct {
	ID        uuid.UUID
	NodeID    uint16
	StartedAt time.Time
}

// RecordBoot stores a fresh boot id for node.
func (s *Store) RecordBoot(node uint16) (Boot, error) {
	b := Boot{ID: uuid.New(), NodeID: node, StartedAt: s.now().UTC()}
	_, err := s.db.Exec(`INSERT INTO boots (boot_id, node_id, started_at) VALUES (?, ?, ?)`,
		b.ID.String(), node, b.StartedAt.UnixMilli())
	if err != nil {
		return Boot{}, fmt.Errorf("store: record boot: %w", err)
	}
	return b, nil
}

// Boots returns up to limit boots, newest first.
func (s *Store) Boots(limit int) ([]Boot, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`SELECT boot_id, node_id, started_at FROM boots ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list boots: %w", err)
	}
	defer rows.Close()
	var out []Boot
	for rows.Next() {
		var (
			id      string
			node    int64
			started int64
		)
		if err := rows.Scan(&id, &node, &started); err != nil {
			return nil, fmt.Errorf("store: scan boot: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("store: boot id %q: %w", id, err)
		}
		out = append(out, Boot{ID: parsed, NodeID: uint16(node), StartedAt: time.UnixMilli(started).UTC()})
	}
	return out, rows.Err()
}

// Store persists the merged object carried by ev. It satisfies the node's
// storage sink.
func (s *Store) Store(ev registry.Event) error {
	o := ev.Object
	rec, err := object.Encode(o)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", o.Ref(), err)
	}
	_, err = s.db.Exec(`
		INSERT INTO objects (building_id, object_id, object_type, detail_level, record, last_event, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(building_id, object_id) DO UPDATE SET
			object_type = excluded.object_type,
			detail_level = excluded.detail_level,
			record = excluded.record,
			last_event = excluded.last_event,
			updated_at = excluded.updated_at
		WHERE excluded.detail_level >= objects.detail_level`,
		o.BuildingID, int64(o.ObjectID), uint8(o.Type), o.DetailLevel, rec, ev.Kind.String(), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save %s: %w", o.Ref(), err)
	}
	return nil
}

// Object loads one stored object.
func (s *Store) Object(ref object.Ref) (object.ArxObject, error) {
	var rec []byte
	err := s.db.QueryRow(`SELECT record FROM objects WHERE building_id = ? AND object_id = ?`,
		ref.BuildingID, int64(ref.ObjectID)).Scan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return object.ArxObject{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return object.ArxObject{}, fmt.Errorf("store: load %s: %w", ref, err)
	}
	return object.Decode(rec)
}

// Objects returns every stored object of building, ordered by id.
func (s *Store) Objects(ctx context.Context, building uint16) ([]object.ArxObject, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM objects WHERE building_id = ? ORDER BY object_id`, building)
	if err != nil {
		return nil, fmt.Errorf("store: list objects: %w", err)
	}
	defer rows.Close()
	var out []object.ArxObject
	for rows.Next() {
		var rec []byte
		if err := rows.Scan(&rec); err != nil {
			return nil, fmt.Errorf("store: scan object: %w", err)
		}
		o, err := object.Decode(rec)
		if err != nil {
			// a record written by a newer build; skip rather than fail the load
			log.Warn().Err(err).Msg("store.Objects undecodable record")
			continue
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
