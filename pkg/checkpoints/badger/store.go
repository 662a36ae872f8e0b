package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/nigel-daniels/agents-langgraph/pkg/checkpoints"
)

// Key layout, with threads delimited by a NUL byte:
//
//	cp\x00<thread>\x00<seq:8 bytes big endian> -> checkpoint JSON
//	id\x00<thread>\x00<checkpoint id>          -> seq
//	head\x00<thread>                           -> seq of the latest checkpoint
const sep = "\x00"

// Store is a checkpoints.Store backed by BadgerDB. Appends run in a single update
// transaction that reads the thread head, so racing appends surface as
// checkpoints.ErrConflict instead of forking the thread.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	ownsDB bool
}

// Open opens a database with cfg and returns a store owning it.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, ownsDB: true}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// New wraps an open database. The caller keeps ownership of db.
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(_ context.Context, cp *checkpoints.Checkpoint) (*checkpoints.Checkpoint, error) {
	if cp == nil || cp.ThreadID == "" {
		return checkpoints.Prepare(cp, 0, false)
	}
	if strings.Contains(cp.ThreadID, sep) {
		return nil, errors.Wrap(checkpoints.ErrInvalidCheckpoint, "thread id contains a NUL byte")
	}

	var stored *checkpoints.Checkpoint
	err := s.db.Update(func(txn *badger.Txn) error {
		latest, err := readSeq(txn, headKey(cp.ThreadID))
		if err != nil {
			return err
		}

		parentFound := false
		if cp.ParentID != "" {
			_, err := txn.Get(idKey(cp.ThreadID, cp.ParentID))
			switch {
			case err == nil:
				parentFound = true
			case !errors.Is(err, badger.ErrKeyNotFound):
				return errors.Wrap(err, "look up parent")
			}
		}

		stored, err = checkpoints.Prepare(cp, latest, parentFound)
		if err != nil {
			return err
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return errors.Wrap(err, "encode checkpoint")
		}
		seq := encodeSeq(stored.Seq)
		if err := txn.Set(cpKey(stored.ThreadID, stored.Seq), data); err != nil {
			return err
		}
		if err := txn.Set(idKey(stored.ThreadID, stored.ID), seq); err != nil {
			return err
		}
		return txn.Set(headKey(stored.ThreadID), seq)
	})
	if err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return nil, errors.Wrapf(checkpoints.ErrConflict, "thread %s", cp.ThreadID)
		}
		return nil, err
	}
	return stored.Clone(), nil
}

func (s *Store) Get(_ context.Context, ref checkpoints.Ref) (*checkpoints.Checkpoint, error) {
	var cp *checkpoints.Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		var (
			seq int64
			err error
		)
		if ref.CheckpointID == "" {
			seq, err = readSeq(txn, headKey(ref.ThreadID))
		} else {
			seq, err = readSeq(txn, idKey(ref.ThreadID, ref.CheckpointID))
		}
		if err != nil {
			return err
		}
		if seq == 0 {
			return checkpoints.NotFound(ref)
		}

		item, err := txn.Get(cpKey(ref.ThreadID, seq))
		if err != nil {
			return errors.Wrapf(err, "read checkpoint %s", ref)
		}
		cp, err = decodeItem(item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *Store) Latest(ctx context.Context, threadID string) (*checkpoints.Checkpoint, error) {
	return s.Get(ctx, checkpoints.Ref{ThreadID: threadID})
}

func (s *Store) List(
	_ context.Context,
	threadID string,
	opts checkpoints.ListOptions,
) ([]*checkpoints.Checkpoint, error) {
	prefix := []byte("cp" + sep + threadID + sep)

	var out []*checkpoints.Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Reverse = true
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		// In reverse mode Seek lands on the largest key <= the seek key.
		seek := append(bytes.Clone(prefix), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		if opts.Before > 0 {
			seek = append(bytes.Clone(prefix), encodeSeq(opts.Before-1)...)
		}

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			cp, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			out = append(out, cp)
			if opts.Limit > 0 && len(out) == opts.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close stops garbage collection and closes the database when the store owns it.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func cpKey(threadID string, seq int64) []byte {
	return append([]byte("cp"+sep+threadID+sep), encodeSeq(seq)...)
}

func idKey(threadID, id string) []byte {
	return []byte("id" + sep + threadID + sep + id)
}

func headKey(threadID string) []byte {
	return []byte("head" + sep + threadID)
}

func encodeSeq(seq int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(seq))
	return b
}

// readSeq returns the sequence stored under key, or zero when it is missing.
func readSeq(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "read sequence")
	}
	var seq int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return errors.Errorf("corrupt sequence under %q", key)
		}
		seq = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return seq, err
}

func decodeItem(item *badger.Item) (*checkpoints.Checkpoint, error) {
	var cp checkpoints.Checkpoint
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &cp)
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode checkpoint")
	}
	return &cp, nil
}
