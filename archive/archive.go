// Package archive moves old memories out of the vector store into
// day-grained JSON files under {dir}/YYYY-MM/memories-YYYYMMDD.json.
// Binary hash fields survive the trip through a base64 wrapper, so a
// restored memory is bit-exact, embedding included.
//
// Records are deleted from the store only after the written file has been
// read back and verified, making a crash mid-archive lose nothing.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	cortex "github.com/nevindra/cortex"
)

// Defaults matching the deployed configuration.
const (
	DefaultDaysThreshold = 30
	DefaultKeepRecent    = 1000

	// maxSearchFileBytes caps how large an archive file Search will load.
	maxSearchFileBytes = 10 << 20
)

// Archiver owns the cold store directory. One archival pass runs at a
// time; the scheduler and the admin endpoint share the same mutex.
type Archiver struct {
	store         cortex.Store
	dir           string
	daysThreshold int
	keepRecent    int
	logger        *slog.Logger

	mu sync.Mutex
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithDaysThreshold sets the minimum age in days before a memory is
// eligible for archival (default: 30).
func WithDaysThreshold(days int) Option {
	return func(a *Archiver) { a.daysThreshold = days }
}

// WithKeepRecent keeps the newest n memories in the store regardless of
// age (default: 1000).
func WithKeepRecent(n int) Option {
	return func(a *Archiver) { a.keepRecent = n }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Archiver) { a.logger = l }
}

// New creates an Archiver writing under dir.
func New(store cortex.Store, dir string, opts ...Option) *Archiver {
	a := &Archiver{
		store:         store,
		dir:           dir,
		daysThreshold: DefaultDaysThreshold,
		keepRecent:    DefaultKeepRecent,
		logger:        cortex.NopLogger(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Result summarizes one archival pass. The kept_in_redis wire name
// predates the pluggable store backends.
type Result struct {
	Candidates int      `json:"candidates"`
	Archived   int      `json:"archived"`
	Kept       int      `json:"kept_in_redis"`
	Files      []string `json:"files_created,omitempty"`
}

// Run performs one archival pass: memories older than the threshold are
// written to their day file and then deleted, except the newest keepRecent
// which stay regardless of age.
func (a *Archiver) Run(ctx context.Context) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	type aged struct {
		id string
		ts int64
	}
	var all []aged
	err := a.store.Scan(ctx, cortex.NamespaceMemory, func(id string) error {
		ts := cortex.MemoryIDTimestamp(id)
		if ts == 0 {
			// Not one of ours; leave it alone.
			return nil
		}
		all = append(all, aged{id: id, ts: ts})
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("archive: scan memories: %w", err)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].ts < all[j].ts })

	cutoff := time.Now().AddDate(0, 0, -a.daysThreshold).UnixMilli()
	protect := len(all) - a.keepRecent
	if protect < 0 {
		protect = 0
	}

	byDay := map[string][]string{}
	for i, m := range all {
		if i >= protect || m.ts >= cutoff {
			break
		}
		day := time.UnixMilli(m.ts).UTC().Format("20060102")
		byDay[day] = append(byDay[day], m.id)
	}

	res := Result{Candidates: 0, Kept: len(all)}
	for _, ids := range byDay {
		res.Candidates += len(ids)
	}
	if res.Candidates == 0 {
		a.logger.Info("archive pass: nothing to archive", "total", len(all))
		return res, nil
	}

	for day, ids := range byDay {
		n, file, err := a.archiveDay(ctx, day, ids)
		if err != nil {
			return res, err
		}
		res.Archived += n
		res.Files = append(res.Files, file)
	}
	res.Kept = len(all) - res.Archived
	sort.Strings(res.Files)
	a.logger.Info("archive pass complete",
		"candidates", res.Candidates, "archived", res.Archived,
		"kept", res.Kept, "files", len(res.Files))
	return res, nil
}

// archiveDay writes one day's memories into its file and deletes the
// verified ones from the store.
func (a *Archiver) archiveDay(ctx context.Context, day string, ids []string) (int, string, error) {
	path := a.FilePath(day)

	existing, err := readFile(path)
	if err != nil {
		return 0, "", err
	}
	present := map[string]bool{}
	for _, e := range existing {
		present[e.ID] = true
	}

	entries := existing
	for _, id := range ids {
		if present[id] {
			continue
		}
		rec, err := a.store.Get(ctx, cortex.NamespaceMemory, id)
		if err != nil {
			// Deleted underneath us; not a failure.
			a.logger.Debug("archive: record vanished before read", "id", id)
			continue
		}
		entries = append(entries, encodeRecord(rec))
	}

	if err := writeFile(path, entries); err != nil {
		return 0, "", err
	}

	// Read back and verify before destroying anything.
	verified, err := readFile(path)
	if err != nil {
		return 0, "", fmt.Errorf("archive: verify %s: %w", path, err)
	}
	onDisk := map[string]bool{}
	for _, e := range verified {
		onDisk[e.ID] = true
	}

	deleted := 0
	for _, id := range ids {
		if !onDisk[id] {
			a.logger.Warn("archive: id missing from written file, keeping record", "id", id)
			continue
		}
		// Re-check existence right before deleting; someone may have
		// removed the record since we read it.
		if _, err := a.store.Get(ctx, cortex.NamespaceMemory, id); err != nil {
			a.logger.Warn("archive: record vanished before delete", "id", id)
			continue
		}
		if err := a.store.Delete(ctx, cortex.NamespaceMemory, id); err != nil {
			a.logger.Warn("archive: delete failed, record remains in both places", "id", id, "error", err)
			continue
		}
		deleted++
	}
	return deleted, path, nil
}

// FilePath returns the archive file for a day in YYYYMMDD form.
func (a *Archiver) FilePath(day string) string {
	month := day
	if len(day) >= 6 {
		month = day[:4] + "-" + day[4:6]
	}
	return filepath.Join(a.dir, month, "memories-"+day+".json")
}

// Search scans archive files for memories whose message contains query,
// case-insensitively, newest file first. Files over the size cap are
// skipped rather than loaded.
func (a *Archiver) Search(_ context.Context, query string, limit int) ([]cortex.Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	files, err := a.listFiles()
	if err != nil {
		return nil, err
	}
	// Newest day first.
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	needle := strings.ToLower(query)
	var out []cortex.Memory
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Size() > maxSearchFileBytes {
			a.logger.Warn("archive: file exceeds search size cap, skipped",
				"file", path, "size", info.Size())
			continue
		}
		entries, err := readFile(path)
		if err != nil {
			a.logger.Warn("archive: unreadable file skipped", "file", path, "error", err)
			continue
		}
		for _, e := range entries {
			rec := decodeRecord(e)
			if needle != "" && !strings.Contains(strings.ToLower(rec.Text), needle) {
				continue
			}
			out = append(out, cortex.MemoryFromRecord(rec))
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// RestoreResult summarizes a restore pass.
type RestoreResult struct {
	Files    int `json:"files"`
	Restored int `json:"restored"`
}

// Restore loads the archive files for days from..to (YYYYMMDD,
// inclusive) back into the store. Embeddings come back bit-exact; files
// are left in place. A range matching no file is cortex.ErrNotFound.
func (a *Archiver) Restore(ctx context.Context, from, to string) (RestoreResult, error) {
	var res RestoreResult
	files, err := a.listFiles()
	if err != nil {
		return res, err
	}
	sort.Strings(files)
	for _, path := range files {
		day := dayOf(path)
		if day == "" || day < from || day > to {
			continue
		}
		entries, err := readFile(path)
		if err != nil {
			return res, err
		}
		for _, e := range entries {
			if err := a.store.Put(ctx, cortex.NamespaceMemory, decodeRecord(e)); err != nil {
				return res, fmt.Errorf("archive: restore %s: %w", e.ID, err)
			}
			res.Restored++
		}
		res.Files++
	}
	if res.Files == 0 {
		return res, fmt.Errorf("archive: %s..%s: %w", from, to, cortex.ErrNotFound)
	}
	a.logger.Info("archive restored",
		"from", from, "to", to, "files", res.Files, "records", res.Restored)
	return res, nil
}

// dayOf extracts the YYYYMMDD day from an archive file path.
func dayOf(path string) string {
	name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "memories-"), ".json")
	if len(name) != 8 {
		return ""
	}
	return name
}

// Stats describes the cold store on disk.
type Stats struct {
	Files      int            `json:"files"`
	TotalBytes int64          `json:"total_bytes"`
	Records    int            `json:"total_archived_memories"`
	Months     map[string]int `json:"months"` // files per YYYY-MM
}

// Stats walks the archive directory.
func (a *Archiver) Stats(context.Context) (Stats, error) {
	st := Stats{Months: map[string]int{}}
	files, err := a.listFiles()
	if err != nil {
		return st, err
	}
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		st.Files++
		st.TotalBytes += info.Size()
		st.Months[filepath.Base(filepath.Dir(path))]++
		if entries, err := readFile(path); err == nil {
			st.Records += len(entries)
		}
	}
	return st, nil
}

func (a *Archiver) listFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(a.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: walk %s: %w", a.dir, err)
	}
	return files, nil
}

// RunDaily triggers an archival pass every day at hour:minute until ctx
// is cancelled.
func (a *Archiver) RunDaily(ctx context.Context, hour, minute int) error {
	for {
		next := nextRun(time.Now(), hour, minute)
		a.logger.Info("next archive pass scheduled", "at", next)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if _, err := a.Run(ctx); err != nil {
			a.logger.Error("scheduled archive pass failed", "error", err)
		}
	}
}

// nextRun returns the next occurrence of hour:minute strictly after now.
func nextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
