package store

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"pricewatch/internal/model"
)

type logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

// Store is the durable mapping from chat ID to that chat's watch list. The
// in-memory map is the single source of truth between ticks; Load and Save
// are its only I/O boundary. All access goes through one mutex so there is
// a single writer per (chat, product) record no matter how callers overlap.
type Store struct {
	Logger logger

	path string

	mu      sync.Mutex
	watches map[int64][]model.Watch
	dirty   bool
}

// Open loads the watch document at path. A missing file yields an empty
// store. An unreadable or corrupt primary falls back to the backup copy
// kept by Save, and only then to an empty store; it never fails the caller
// for bad content.
func Open(path string, l logger) (*Store, error) {
	s := &Store{
		Logger:  l,
		path:    path,
		watches: map[int64][]model.Watch{},
	}

	ws, err := readDocument(path)
	if err == nil {
		s.watches = ws
		return s, nil
	}
	primaryMissing := os.IsNotExist(errors.Cause(err))
	if primaryMissing {
		// A crash between the two save renames leaves no primary and a good
		// backup, so a missing primary still has to check the backup.
		s.Logger.Infof("store: No watch file at %s, checking backup", path)
	} else {
		s.Logger.Errorf("store: Error reading watch file %s, trying backup, err: %v", path, err)
	}

	ws, bakErr := readDocument(path + ".bak")
	if bakErr == nil {
		s.Logger.Warnf("store: Recovered watches from backup %s.bak", path)
		s.watches = ws
		// The recovered state is not on disk under the primary name yet.
		s.dirty = true
		return s, nil
	}
	if primaryMissing && os.IsNotExist(errors.Cause(bakErr)) {
		s.Logger.Infof("store: No watch file at %s, starting empty", path)
		return s, nil
	}
	s.Logger.Errorf("store: Backup unreadable too, starting empty, err: %v", bakErr)
	return s, nil
}

func readDocument(path string) (map[int64][]model.Watch, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading watch document: %s", path)
	}
	var ws map[int64][]model.Watch
	if err = json.Unmarshal(bs, &ws); err != nil {
		return nil, errors.Wrapf(err, "error unmarshalling watch document: %s", path)
	}
	if ws == nil {
		ws = map[int64][]model.Watch{}
	}
	return ws, nil
}

// Save writes the full document atomically: marshal to a temporary file,
// rotate the previous good document to the .bak sibling, then rename the
// temporary file over the primary. A crash mid-save leaves either the old
// primary or the .bak readable, never a half-written document.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// SaveIfDirty performs one Save if any mutation happened since the last
// successful save. The tick orchestrator calls this once per tick so the
// durable write is batched rather than per watch.
func (s *Store) SaveIfDirty() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	bs, err := json.MarshalIndent(s.watches, "", "  ")
	if err != nil {
		return errors.Wrap(err, "error marshalling watch document")
	}

	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, bs, 0644); err != nil {
		return errors.Wrapf(err, "error writing temporary watch document: %s", tmp)
	}
	if err = os.Rename(s.path, s.path+".bak"); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "error rotating watch document to backup: %s", s.path)
	}
	if err = os.Rename(tmp, s.path); err != nil {
		return errors.Wrapf(err, "error replacing watch document: %s", s.path)
	}
	s.dirty = false
	return nil
}

// Dirty reports whether in-memory state is ahead of the durable document.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Upsert makes sure a watch exists for (chatID, productID) and returns a
// copy of it. A new watch starts without a threshold, invisible to the
// scheduler. An empty name on an existing watch is filled in when a name
// is supplied, never overwritten.
func (s *Store) Upsert(chatID int64, productID string, name string) (model.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, w := range s.watches[chatID] {
		if w.ProductID == productID {
			if name != "" && w.Name == "" {
				s.watches[chatID][i].Name = name
				s.dirty = true
				if err := s.saveLocked(); err != nil {
					return s.watches[chatID][i], err
				}
			}
			return s.watches[chatID][i], nil
		}
	}

	w := model.Watch{ProductID: productID, Name: name}
	s.watches[chatID] = append(s.watches[chatID], w)
	s.dirty = true
	return w, s.saveLocked()
}

// SetThreshold sets or replaces the threshold for (chatID, productID),
// creating the watch when needed. Setting a threshold always clears the
// notification baseline so the next crossing gets a fresh notification
// cycle; last_checked data is kept for prioritization.
func (s *Store) SetThreshold(chatID int64, productID string, threshold decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.watches[chatID] {
		if s.watches[chatID][i].ProductID == productID {
			s.watches[chatID][i].Threshold = &threshold
			s.watches[chatID][i].ClearNotified()
			s.dirty = true
			return s.saveLocked()
		}
	}

	s.watches[chatID] = append(s.watches[chatID], model.Watch{
		ProductID: productID,
		Threshold: &threshold,
	})
	s.dirty = true
	return s.saveLocked()
}

// Rename sets the display name for an existing watch.
func (s *Store) Rename(chatID int64, productID string, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.watches[chatID] {
		if s.watches[chatID][i].ProductID == productID {
			s.watches[chatID][i].Name = name
			s.dirty = true
			return s.saveLocked()
		}
	}
	return errors.Errorf("no watch for chat %d, product %s", chatID, productID)
}

// Remove deletes the watch for (chatID, productID). Removing a watch that
// does not exist is not an error.
func (s *Store) Remove(chatID int64, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws := s.watches[chatID]
	kept := ws[:0]
	for _, w := range ws {
		if w.ProductID != productID {
			kept = append(kept, w)
		}
	}
	if len(kept) == len(ws) {
		return nil
	}
	if len(kept) == 0 {
		delete(s.watches, chatID)
	} else {
		s.watches[chatID] = kept
	}
	s.dirty = true
	return s.saveLocked()
}

// Get returns a copy of the watch for (chatID, productID).
func (s *Store) Get(chatID int64, productID string) (model.Watch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.watches[chatID] {
		if w.ProductID == productID {
			return w, true
		}
	}
	return model.Watch{}, false
}

// WatchesFor returns copies of all watches owned by chatID, in stored order.
func (s *Store) WatchesFor(chatID int64) []model.Watch {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws := make([]model.Watch, len(s.watches[chatID]))
	copy(ws, s.watches[chatID])
	return ws
}

// Schedulable returns copies of every watch with an active threshold across
// all chats. Watches without a threshold are invisible to the scheduler.
func (s *Store) Schedulable() []model.OwnedWatch {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ows []model.OwnedWatch
	for chatID, ws := range s.watches {
		for _, w := range ws {
			if w.Schedulable() {
				ows = append(ows, model.OwnedWatch{ChatID: chatID, Watch: w})
			}
		}
	}
	return ows
}

// All returns a copy of the full chat-to-watches document.
func (s *Store) All() map[int64][]model.Watch {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64][]model.Watch, len(s.watches))
	for chatID, ws := range s.watches {
		cp := make([]model.Watch, len(ws))
		copy(cp, ws)
		out[chatID] = cp
	}
	return out
}

// FindNameForProduct returns the first non-empty display name any chat has
// given productID, so a product newly added by one chat can reuse the name
// another chat already supplied.
func (s *Store) FindNameForProduct(productID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ws := range s.watches {
		for _, w := range ws {
			if w.ProductID == productID && w.Name != "" {
				return w.Name
			}
		}
	}
	return ""
}

// UpdateWatch applies update to the stored watch for (chatID, productID) and
// marks the store dirty without saving. The tick orchestrator uses this for
// scheduler mutations and batches the durable write with SaveIfDirty.
func (s *Store) UpdateWatch(chatID int64, productID string, update func(w *model.Watch)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.watches[chatID] {
		if s.watches[chatID][i].ProductID == productID {
			update(&s.watches[chatID][i])
			s.dirty = true
			return true
		}
	}
	return false
}

// CheckedAt is a convenience for the scheduler: record an observation on a
// watch, both fields together, regardless of notification outcome.
func (s *Store) CheckedAt(chatID int64, productID string, price decimal.Decimal, at time.Time) bool {
	return s.UpdateWatch(chatID, productID, func(w *model.Watch) {
		w.SetChecked(price, at)
	})
}
