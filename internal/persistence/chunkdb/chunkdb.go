// Package chunkdb stores chunk columns in SQLite. Each row holds one msgpack record, zstd
// compressed. Reads are synchronous; writes go through a single background writer that batches
// them into transactions and never blocks the caller.
package chunkdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"voxelgate.ai/internal/protocol"
	"voxelgate.ai/internal/sim/chunks"
	"voxelgate.ai/internal/sim/world"
)

const recordVersion = 1

type record struct {
	Version int    `msgpack:"v"`
	Height  int    `msgpack:"h"`
	Blocks  []byte `msgpack:"b"` // run-length encoded ids
	Light   []byte `msgpack:"l"` // two values per byte
}

type saveReq struct {
	key    world.ChunkKey
	height int
	blocks []uint16
	light  []byte
}

type Stats struct {
	Saved         uint64
	Dropped       uint64
	Failed        uint64
	QueueDepth    int
	QueueCapacity int
}

type DB struct {
	db  *sql.DB
	log *zap.Logger

	enc *zstd.Encoder
	dec *zstd.Decoder

	ch     chan saveReq
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool

	saved   atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func Open(path string, log *zap.Logger) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("chunkdb: empty db path")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS chunks (
			cx INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			data BLOB NOT NULL,
			saved_at TEXT NOT NULL,
			PRIMARY KEY (cx, cz)
		);`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("chunkdb: init: %w", err)
		}
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	d := &DB{
		db:  db,
		log: log,
		enc: enc,
		dec: dec,
		ch:  make(chan saveReq, 4096),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

// Close flushes queued saves and closes the database.
func (d *DB) Close() error {
	var err error
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
		d.dec.Close()
		_ = d.enc.Close()
		err = d.db.Close()
	})
	return err
}

// Load returns the stored chunk at key, or chunks.ErrNotFound.
func (d *DB) Load(ctx context.Context, key world.ChunkKey) (*world.Chunk, error) {
	var blob []byte
	err := d.db.QueryRowContext(ctx, `SELECT data FROM chunks WHERE cx = ? AND cz = ?`, key.CX, key.CZ).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chunks.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chunkdb: load %d,%d: %w", key.CX, key.CZ, err)
	}
	c, err := d.decode(key, blob)
	if err != nil {
		return nil, fmt.Errorf("chunkdb: load %d,%d: %w", key.CX, key.CZ, err)
	}
	return c, nil
}

// Save copies c and queues it for writing. When the writer is behind the save is dropped and
// counted; the chunk stays dirty in memory only if the caller keeps it.
func (d *DB) Save(c *world.Chunk) {
	if d == nil || d.closed.Load() || c == nil {
		return
	}
	r := saveReq{
		key:    c.Key,
		height: c.Height,
		blocks: append([]uint16(nil), c.Blocks...),
		light:  c.PackedLight(),
	}
	select {
	case d.ch <- r:
	default:
		d.dropped.Add(1)
	}
}

func (d *DB) Stats() Stats {
	return Stats{
		Saved:         d.saved.Load(),
		Dropped:       d.dropped.Load(),
		Failed:        d.failed.Load(),
		QueueDepth:    len(d.ch),
		QueueCapacity: cap(d.ch),
	}
}

func (d *DB) encode(r saveReq) ([]byte, error) {
	b, err := msgpack.Marshal(record{
		Version: recordVersion,
		Height:  r.height,
		Blocks:  protocol.EncodeRLE(r.blocks),
		Light:   r.light,
	})
	if err != nil {
		return nil, err
	}
	return d.enc.EncodeAll(b, nil), nil
}

func (d *DB) decode(key world.ChunkKey, blob []byte) (*world.Chunk, error) {
	raw, err := d.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, err
	}
	var rec record
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("unsupported record version %d", rec.Version)
	}
	if rec.Height <= 0 || rec.Height > 256 {
		return nil, fmt.Errorf("bad height %d", rec.Height)
	}
	c := world.NewChunk(key, rec.Height)
	blocks, err := protocol.DecodeRLE(rec.Blocks, len(c.Blocks))
	if err != nil {
		return nil, err
	}
	if len(blocks) != len(c.Blocks) {
		return nil, fmt.Errorf("block count %d, want %d", len(blocks), len(c.Blocks))
	}
	copy(c.Blocks, blocks)
	copy(c.Light, world.UnpackLight(rec.Light, len(c.Light)))
	return c, nil
}

func (d *DB) loop() {
	ctx := context.Background()
	for first := range d.ch {
		batch := []saveReq{first}
	more:
		for len(batch) < 256 {
			select {
			case r, ok := <-d.ch:
				if !ok {
					break more
				}
				batch = append(batch, r)
			default:
				break more
			}
		}
		if err := d.write(ctx, batch); err != nil {
			d.failed.Add(uint64(len(batch)))
			d.log.Warn("chunk save failed", zap.Int("chunks", len(batch)), zap.Error(err))
			continue
		}
		d.saved.Add(uint64(len(batch)))
	}
}

func (d *DB) write(ctx context.Context, batch []saveReq) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO chunks(cx, cz, data, saved_at) VALUES(?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range batch {
		blob, err := d.encode(r)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.key.CX, r.key.CZ, blob, now); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Entry describes one stored chunk without decoding it.
type Entry struct {
	CX      int    `json:"cx"`
	CZ      int    `json:"cz"`
	Bytes   int    `json:"bytes"`
	SavedAt string `json:"saved_at"`
}

// List returns up to limit stored chunks, most recently saved first. Queued saves that the
// writer has not committed yet are not included.
func (d *DB) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.QueryContext(ctx, `SELECT cx, cz, length(data), saved_at FROM chunks ORDER BY saved_at DESC, cx, cz LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("chunkdb: list: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.CX, &e.CZ, &e.Bytes, &e.SavedAt); err != nil {
			return nil, fmt.Errorf("chunkdb: list: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of stored chunks.
func (d *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("chunkdb: count: %w", err)
	}
	return n, nil
}
