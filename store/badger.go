package store

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/kevinxiao27/opset/ol"
	"github.com/kevinxiao27/opset/opset"
	"github.com/vmihailenco/msgpack/v5"
)

const defaultValueLogFileSize = 128 * 1024 * 1024 // 128MB

var ErrNotFound = errors.New("not found")

// Store persists change records and snapshots of documents in Badger.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

type config struct {
	inMemory         bool
	valueLogFileSize int64
	logger           *slog.Logger
}

type Option func(*config) error

// WithInMemory keeps everything in memory; the path passed to Open is ignored.
func WithInMemory() Option {
	return func(cfg *config) error {
		cfg.inMemory = true
		return nil
	}
}

// WithValueLogFileSize sets max bytes per value log (vlog) file.
func WithValueLogFileSize(sizeBytes int64) Option {
	return func(cfg *config) error {
		if sizeBytes <= 0 {
			return fmt.Errorf("value log file size must be > 0, got %d", sizeBytes)
		}
		cfg.valueLogFileSize = sizeBytes
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) error {
		if logger != nil {
			cfg.logger = logger
		}
		return nil
	}
}

func Open(path string, options ...Option) (*Store, error) {
	cfg := config{
		valueLogFileSize: defaultValueLogFileSize,
		logger:           slog.Default().With(slog.String("component", "store")),
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(&cfg); err != nil {
			return nil, err
		}
	}

	opts := badger.DefaultOptions(path)
	if cfg.inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithValueLogFileSize(cfg.valueLogFileSize)
	opts = opts.WithLogger(badgerLogger{cfg.logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", path, err)
	}
	return &Store{db: db, logger: cfg.logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func changePrefix(docID string) []byte {
	return []byte("doc/" + docID + "/change/")
}

func changeKey(docID string, ch ol.Change) []byte {
	return fmt.Appendf(changePrefix(docID), "%s/%020d", ch.Actor, ch.Seq)
}

func snapshotKey(docID string) []byte {
	return []byte("doc/" + docID + "/snapshot")
}

// PutChange records ch under docID. Writing the same change twice is harmless.
func (s *Store) PutChange(docID string, ch ol.Change) error {
	val, err := msgpack.Marshal(&ch)
	if err != nil {
		return fmt.Errorf("encoding change %s: %w", ch.Key(), err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(changeKey(docID, ch), val)
	})
}

// Changes returns every stored change of docID, grouped by actor in seq order.
func (s *Store) Changes(docID string) ([]ol.Change, error) {
	var out []ol.Change
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = changePrefix(docID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var ch ol.Change
				if err := msgpack.Unmarshal(val, &ch); err != nil {
					return fmt.Errorf("decoding %s: %w", item.Key(), err)
				}
				out = append(out, ch)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// PutSnapshot stores a saved copy of d, replacing the previous one.
func (s *Store) PutSnapshot(docID string, d *opset.Doc) error {
	data, err := opset.Save(d)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(docID), data)
	})
}

func (s *Store) snapshot(docID string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(docID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

// LoadDoc rebuilds docID from its latest snapshot plus every change stored since.
// A document with nothing stored comes back empty. Changes still waiting on a
// missing dependency are left out and logged.
func (s *Store) LoadDoc(docID string, opts ...opset.Option) (*opset.Doc, error) {
	var d *opset.Doc
	data, err := s.snapshot(docID)
	switch {
	case errors.Is(err, ErrNotFound):
		d = opset.Init(opts...)
	case err != nil:
		return nil, err
	default:
		if d, err = opset.Load(data, opts...); err != nil {
			return nil, fmt.Errorf("loading snapshot of %s: %w", docID, err)
		}
	}

	changes, err := s.Changes(docID)
	if err != nil {
		return nil, err
	}
	buf := opset.NewBuffer(s.logger)
	if d, err = buf.Apply(d, changes...); err != nil {
		return nil, fmt.Errorf("replaying %s: %w", docID, err)
	}
	if buf.Len() > 0 {
		s.logger.Warn("incomplete history",
			slog.String("doc", docID),
			slog.Int("pending", buf.Len()))
	}
	return d, nil
}

// badgerLogger routes badger's own logging into slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
