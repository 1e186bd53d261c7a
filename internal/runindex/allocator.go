package runindex

import (
	"io/fs"
	"os"
	"strconv"

	"bidskit/internal/bids"
)

// Allocator computes the next free index for a run or echo entity.
type Allocator struct {
	readDir func(string) ([]fs.DirEntry, error)
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithReadDir swaps the directory listing function.
func WithReadDir(fn func(string) ([]fs.DirEntry, error)) Option {
	return func(a *Allocator) {
		if fn != nil {
			a.readDir = fn
		}
	}
}

// New constructs an Allocator that lists directories with os.ReadDir.
func New(opts ...Option) *Allocator {
	a := &Allocator{readDir: os.ReadDir}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Next returns filename with its key entity set to one above the highest
// index used by names in dir that differ from filename only in that entity.
// Names without the entity are returned unchanged.
func (a *Allocator) Next(dir, filename, key string) string {
	return a.NextFrom(dir, filename, key, 1)
}

// NextFrom behaves like Next but never returns an index below floor.
func (a *Allocator) NextFrom(dir, filename, key string, floor int) string {
	stem, ext := bids.SplitExt(filename)
	candidate := bids.ParseName(stem)
	if _, ok := candidate.Get(key); !ok {
		return filename
	}
	next := max(floor, 1)
	for _, used := range a.Used(dir, filename, key) {
		if used+1 > next {
			next = used + 1
		}
	}
	candidate.Set(key, strconv.Itoa(next))
	return candidate.String() + ext
}

// Used lists the indices of key found on names in dir that match filename
// with key wildcarded. An unreadable directory yields no indices.
func (a *Allocator) Used(dir, filename, key string) []int {
	stem, _ := bids.SplitExt(filename)
	candidate := bids.ParseName(stem)

	entries, err := a.readDir(dir)
	if err != nil {
		return nil
	}
	var used []int
	seen := map[int]struct{}{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		existingStem, _ := bids.SplitExt(entry.Name())
		idx, ok := matchIndex(candidate, bids.ParseName(existingStem), key)
		if !ok {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		used = append(used, idx)
	}
	return used
}

func matchIndex(candidate, existing bids.Name, key string) (int, bool) {
	if candidate.Suffix != existing.Suffix || len(candidate.Entities) != len(existing.Entities) {
		return 0, false
	}
	index := -1
	for i, kv := range candidate.Entities {
		other := existing.Entities[i]
		if other.Key != kv.Key {
			return 0, false
		}
		if kv.Key == key {
			n, err := strconv.Atoi(other.Value)
			if err != nil || n < 0 {
				return 0, false
			}
			index = n
			continue
		}
		if other.Value != kv.Value {
			return 0, false
		}
	}
	return index, index >= 0
}
