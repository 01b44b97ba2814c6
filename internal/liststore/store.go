// Package liststore keeps one durable set of client identities per trust level.
//
// Each level is a plain-text file in a directory, fully loaded into memory.
// Every mutation reaches the affected file synchronously before returning,
// so an acknowledged Block survives a crash. Add appends one line; Remove
// and Move rewrite the file.
//
// Locking: each level has its own RWMutex. Mutations on a level serialize
// through its write lock; reads share the read lock. Move takes both levels'
// write locks in rank order, and LevelOf takes every read lock in the same
// order, so no reader sees an identity in neither list mid-move.
//
// The store does not enforce that an identity appears in only one level; the
// transition package owns that invariant. Callers outside it should not
// mutate lists directly.
package liststore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ppiankov/trustgate/internal/model"
)

// ErrUnknownLevel is returned for a level outside model.Levels.
var ErrUnknownLevel = errors.New("liststore: unknown trust level")

// list is the in-memory copy of one level's file.
type list struct {
	mu       sync.RWMutex
	level    model.TrustLevel
	path     string
	exact    map[string]struct{}
	patterns []string
}

func newList(level model.TrustLevel, path string) *list {
	return &list{level: level, path: path, exact: make(map[string]struct{})}
}

// entriesLocked returns exact entries and patterns together. Caller holds mu.
func (l *list) entriesLocked() []string {
	out := make([]string, 0, len(l.exact)+len(l.patterns))
	for e := range l.exact {
		out = append(out, e)
	}
	return append(out, l.patterns...)
}

func (l *list) setLocked(entries []string) {
	l.exact = make(map[string]struct{}, len(entries))
	l.patterns = nil
	for _, e := range entries {
		if isPattern(e) {
			l.patterns = append(l.patterns, e)
		} else {
			l.exact[e] = struct{}{}
		}
	}
}

func (l *list) containsLocked(entry string) bool {
	if isPattern(entry) {
		for _, p := range l.patterns {
			if p == entry {
				return true
			}
		}
		return false
	}
	_, ok := l.exact[entry]
	return ok
}

func (l *list) matchesPatternLocked(identity string) bool {
	for _, p := range l.patterns {
		if MatchEntry(p, identity) {
			return true
		}
	}
	return false
}

// withEntryLocked returns the entry set after adding or removing one entry,
// and whether anything changed.
func (l *list) withEntryLocked(entry string, present bool) ([]string, bool) {
	if l.containsLocked(entry) == present {
		return nil, false
	}
	entries := l.entriesLocked()
	if present {
		return append(entries, entry), true
	}
	out := entries[:0]
	for _, e := range entries {
		if e != entry {
			out = append(out, e)
		}
	}
	return out, true
}

// Store holds one list per trust level.
type Store struct {
	dir   string
	lists map[model.TrustLevel]*list
}

// Open loads (or creates) the list directory. Identities found in more than
// one list are repaired in favour of the highest-ranked level.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("liststore: create directory: %w", err)
	}
	s := &Store{dir: dir, lists: make(map[model.TrustLevel]*list, len(model.Levels))}
	for _, level := range model.Levels {
		s.lists[level] = newList(level, filepath.Join(dir, fileName(level)))
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// Reload re-reads every list file, replacing the in-memory sets. Used after
// an operator edits list files by hand.
func (s *Store) Reload() error {
	loaded := make(map[model.TrustLevel][]string, len(model.Levels))
	for _, level := range model.Levels {
		entries, err := readListFile(s.lists[level].path)
		if err != nil {
			return err
		}
		loaded[level] = entries
	}

	// Resolve duplicates: walk levels from highest rank down and drop exact
	// entries already claimed by a higher level.
	claimed := make(map[string]model.TrustLevel)
	repaired := make(map[model.TrustLevel]bool)
	for i := len(model.Levels) - 1; i >= 0; i-- {
		level := model.Levels[i]
		kept := loaded[level][:0]
		for _, e := range loaded[level] {
			if isPattern(e) {
				kept = append(kept, e)
				continue
			}
			if _, dup := claimed[e]; dup {
				repaired[level] = true
				continue
			}
			claimed[e] = level
			kept = append(kept, e)
		}
		loaded[level] = kept
	}

	s.lockAll()
	defer s.unlockAll()
	for _, level := range model.Levels {
		l := s.lists[level]
		l.setLocked(loaded[level])
		if repaired[level] {
			if err := writeListFile(l.path, level, l.entriesLocked()); err != nil {
				return err
			}
		}
	}
	return nil
}

// Changed reports whether any list file on disk differs from the in-memory
// set. Files the store wrote itself compare equal, so a watcher can tell a
// hand edit from the store's own flushes.
func (s *Store) Changed() (bool, error) {
	s.rlockAll()
	defer s.runlockAll()
	for _, level := range model.Levels {
		l := s.lists[level]
		entries, err := readListFile(l.path)
		if err != nil {
			return false, err
		}
		if !sameEntries(entries, l.entriesLocked()) {
			return true, nil
		}
	}
	return false, nil
}

func sameEntries(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, e := range b {
		set[e] = struct{}{}
	}
	seen := make(map[string]struct{}, len(a))
	for _, e := range a {
		if _, ok := set[e]; !ok {
			return false
		}
		seen[e] = struct{}{}
	}
	return len(seen) == len(set)
}

func (s *Store) get(level model.TrustLevel) (*list, error) {
	l, ok := s.lists[level]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLevel, level)
	}
	return l, nil
}

// Contains reports whether the literal entry (identity or pattern) is stored in level.
func (s *Store) Contains(level model.TrustLevel, identity model.ClientIdentity) bool {
	l, err := s.get(level)
	if err != nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.containsLocked(string(identity))
}

// Matches reports whether identity is in level, either literally or through
// a wildcard pattern.
func (s *Store) Matches(level model.TrustLevel, identity model.ClientIdentity) bool {
	l, err := s.get(level)
	if err != nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.exact[string(identity)]; ok {
		return true
	}
	return l.matchesPatternLocked(string(identity))
}

// Add stores an entry in level and flushes the file. Adding an existing entry is a no-op.
func (s *Store) Add(level model.TrustLevel, identity model.ClientIdentity) error {
	return s.set(level, string(identity), true)
}

// Remove deletes an entry from level and flushes the file. Removing a missing entry is a no-op.
func (s *Store) Remove(level model.TrustLevel, identity model.ClientIdentity) error {
	return s.set(level, string(identity), false)
}

func (s *Store) set(level model.TrustLevel, entry string, present bool) error {
	l, err := s.get(level)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, changed := l.withEntryLocked(entry, present)
	if !changed {
		return nil
	}
	if present {
		err = appendListFile(l.path, level, entry)
	} else {
		err = writeListFile(l.path, level, entries)
	}
	if err != nil {
		return err
	}
	l.setLocked(entries)
	return nil
}

// Move removes identity from one level and adds it to another as a single
// step with respect to readers. The destination file is written first, so a
// crash between the two writes leaves the identity in both lists, which Open
// resolves by rank, and never in neither.
func (s *Store) Move(identity model.ClientIdentity, from, to model.TrustLevel) error {
	if from == to {
		return s.Add(to, identity)
	}
	src, err := s.get(from)
	if err != nil {
		return err
	}
	dst, err := s.get(to)
	if err != nil {
		return err
	}

	first, second := src, dst
	if model.LevelRank[to] < model.LevelRank[from] {
		first, second = dst, src
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	entry := string(identity)
	if dstEntries, changed := dst.withEntryLocked(entry, true); changed {
		if err := writeListFile(dst.path, to, dstEntries); err != nil {
			return err
		}
		dst.setLocked(dstEntries)
	}
	if srcEntries, changed := src.withEntryLocked(entry, false); changed {
		if err := writeListFile(src.path, from, srcEntries); err != nil {
			return err
		}
		src.setLocked(srcEntries)
	}
	return nil
}

// LevelOf returns the level an identity belongs to and whether it was listed
// anywhere. Blocked is checked first, literal and wildcard, so a blocking
// pattern beats any literal listing elsewhere. Remaining levels are checked
// literal-first from highest rank down, then by wildcard.
func (s *Store) LevelOf(identity model.ClientIdentity) (model.TrustLevel, bool) {
	s.rlockAll()
	defer s.runlockAll()

	id := string(identity)
	blocked := s.lists[model.Blocked]
	if _, ok := blocked.exact[id]; ok || blocked.matchesPatternLocked(id) {
		return model.Blocked, true
	}
	for i := len(model.Levels) - 1; i >= 0; i-- {
		if _, ok := s.lists[model.Levels[i]].exact[id]; ok {
			return model.Levels[i], true
		}
	}
	for i := len(model.Levels) - 1; i >= 0; i-- {
		if s.lists[model.Levels[i]].matchesPatternLocked(id) {
			return model.Levels[i], true
		}
	}
	return "", false
}

// Entries returns a sorted copy of every entry in level.
func (s *Store) Entries(level model.TrustLevel) ([]string, error) {
	l, err := s.get(level)
	if err != nil {
		return nil, err
	}
	l.mu.RLock()
	entries := l.entriesLocked()
	l.mu.RUnlock()
	sort.Strings(entries)
	return entries, nil
}

func (s *Store) lockAll() {
	for _, level := range model.Levels {
		s.lists[level].mu.Lock()
	}
}

func (s *Store) unlockAll() {
	for i := len(model.Levels) - 1; i >= 0; i-- {
		s.lists[model.Levels[i]].mu.Unlock()
	}
}

func (s *Store) rlockAll() {
	for _, level := range model.Levels {
		s.lists[level].mu.RLock()
	}
}

func (s *Store) runlockAll() {
	for i := len(model.Levels) - 1; i >= 0; i-- {
		s.lists[model.Levels[i]].mu.RUnlock()
	}
}
