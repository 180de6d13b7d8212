// Package cachestore implements CacheStore: a durable, content-addressed
// mapping from digest to preprocessing artifact, with atomic admission and
// priority-pinned eviction. A temp-write/fsync/rename admission idiom and
// atomic metadata persistence back every write; eviction runs a
// priority-pinned order in place of plain LRU-by-access.
package cachestore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/eventlens/eventlens/core"
)

const (
	blobsDir = "blobs"
	indexDir = "index"
	tmpDir   = "tmp"
	lockFile = "lock"

	// perEntryOverhead amortizes metadata cost in size accounting: total
	// size is the sum of on-disk artifact sizes plus this fixed per-entry
	// overhead.
	perEntryOverhead = 512

	// defaultBudget is the soft total size budget.
	defaultBudget = 1 << 30 // 1 GiB
)

// Publisher is the event-bus surface CacheStore needs, to announce
// CacheEntryEvicted after a TickEviction or DeleteMany actually removes
// something. Satisfied by *eventbus.Bus via the same adapter package
// eventlens wires into window and pool.
type Publisher interface {
	Publish(core.Event)
}

// PrioritySource reports whether a digest is currently priority-protected.
// Implemented by package priority; injected so CacheStore never imports it
// directly (CacheStore "stands alone" dependency direction).
type PrioritySource interface {
	Contains(d core.Digest) bool
}

type nullPriority struct{}

func (nullPriority) Contains(core.Digest) bool { return false }

// Store is the CacheStore implementation. Readers (Lookup, Status) never
// block on admission of a different digest: each digest's on-disk record is
// guarded by its own stripe of stripes, and the index of known digests
// is itself guarded by a short-held mu.
type Store struct {
	root     string
	budget   int64
	priority PrioritySource
	logger   *slog.Logger
	pub      Publisher

	lock *dirLock

	mu      sync.RWMutex // guards digests (the known-digest set) and its sizes/meta cache
	digests map[core.Digest]*cachedMeta
	stripes [256]sync.Mutex // per-digest serialization, striped by first byte of digest
}

// cachedMeta mirrors the on-disk entry for fast Status/eviction scans
// without re-reading every index/*.json file on every call.
type cachedMeta struct {
	artifact core.Artifact
	size     int64
}

// Option configures a Store at construction.
type Option func(*Store)

// WithBudget overrides the default 1 GiB soft size budget.
func WithBudget(bytes int64) Option {
	return func(s *Store) { s.budget = bytes }
}

// WithPrioritySource injects the PriorityIndex consulted during eviction.
// If omitted, no digest is ever treated as priority.
func WithPrioritySource(p PrioritySource) Option {
	return func(s *Store) { s.priority = p }
}

// WithLogger attaches structured logging; defaults to a discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithPublisher attaches the event bus so eviction and deletion publish
// CacheEntryEvicted. If omitted, evictions happen silently.
func WithPublisher(pub Publisher) Option {
	return func(s *Store) { s.pub = pub }
}

// New opens (creating if necessary) a CacheStore rooted at path. It takes
// the directory's exclusive lock, reaps orphaned temp files left by a
// prior crash mid-admission, and loads the index into memory for O(1)
// lookups and eviction scans.
func New(root string, opts ...Option) (*Store, error) {
	for _, dir := range []string{
		root,
		filepath.Join(root, blobsDir),
		filepath.Join(root, indexDir),
		filepath.Join(root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
		}
	}

	dl, err := acquireDirLock(filepath.Join(root, lockFile))
	if err != nil {
		return nil, err
	}

	s := &Store{
		root:     root,
		budget:   defaultBudget,
		priority: nullPriority{},
		logger:   slog.New(slog.DiscardHandler),
		lock:     dl,
		digests:  make(map[core.Digest]*cachedMeta),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.reapOrphanTemps(); err != nil {
		dl.release()
		return nil, fmt.Errorf("reap orphan temp files: %w", err)
	}
	if err := s.loadIndex(); err != nil {
		dl.release()
		return nil, fmt.Errorf("load cache index: %w", err)
	}

	return s, nil
}

// Close releases the directory lock. It does not flush anything: every
// admission is already durable by the time Admit returns.
func (s *Store) Close() error {
	return s.lock.release()
}

// reapOrphanTemps removes stale tmp/*.partial files left by a process
// that crashed mid-admission.
func (s *Store) reapOrphanTemps() error {
	dir := filepath.Join(s.root, tmpDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".partial" {
			continue
		}
		full := filepath.Join(dir, ent.Name())
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to reap orphan temp file", "path", full, "error", err)
		}
	}
	return nil
}

// loadIndex populates the in-memory digest map from index/*.json so
// Lookup/Status/eviction never need to touch disk for metadata. Clock
// skew across a restart must not reorder eviction, so the in-memory
// ordering value is taken from the index file's mtime rather than
// trusted from the JSON body, which may have been written by a process
// with a different clock.
func (s *Store) loadIndex() error {
	dir := filepath.Join(s.root, indexDir)
	ents, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, ent := range ents {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".json" {
			continue
		}
		digest := core.Digest(ent.Name()[:len(ent.Name())-len(".json")])
		path := filepath.Join(dir, ent.Name())
		info, statErr := ent.Info()
		e, err := loadEntry(path)
		if err != nil {
			s.logger.Warn("dropping unreadable cache entry at startup", "digest", digest, "error", err)
			continue
		}
		art, hasPreview, size, convErr := entryToArtifact(e)
		if convErr != nil {
			s.logger.Warn("dropping malformed cache entry at startup", "digest", digest, "error", convErr)
			continue
		}
		if hasPreview {
			art.DecodedPreview = s.previewPath(digest)
		}
		if statErr == nil {
			art.CompletedAt = uint64(info.ModTime().UnixNano())
		}
		s.digests[digest] = &cachedMeta{artifact: art, size: size}
	}
	return nil
}

// stripeFor returns the mutex guarding admit/evict serialization for d:
// writes touching one digest serialize on that digest's stripe alone.
func (s *Store) stripeFor(d core.Digest) *sync.Mutex {
	if len(d) == 0 {
		return &s.stripes[0]
	}
	return &s.stripes[d[0]]
}

// blobDir returns the two-hex-char shard directory for a digest.
func (s *Store) blobDir(d core.Digest) string {
	prefix := string(d)
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(s.root, blobsDir, prefix)
}

func (s *Store) previewPath(d core.Digest) string {
	return filepath.Join(s.blobDir(d), string(d)+".preview.jpg")
}

func (s *Store) thumbsDir(d core.Digest) string {
	return filepath.Join(s.blobDir(d), string(d)+".thumbs")
}

func (s *Store) thumbPath(d core.Digest, faceIndex int) string {
	return filepath.Join(s.thumbsDir(d), fmt.Sprintf("%d.jpg", faceIndex))
}

func (s *Store) indexPath(d core.Digest) string {
	return filepath.Join(s.root, indexDir, string(d)+".json")
}

// TempPath returns a fresh temp file path under this store's tmp/ directory,
// guaranteed on the same filesystem as the final blob locations so Admit's
// renames are atomic (tmp/ lives under the same root as blobs/). Collaborators
// (the RawDecoder, ThumbnailCropper) write their output here before Admit
// moves it into place.
func (s *Store) TempPath(d core.Digest) string {
	return filepath.Join(s.root, tmpDir, fmt.Sprintf("%s.%s.partial", d, uuid.NewString()))
}

// Lookup returns the cached entry for d, if any. The in-memory map check is
// O(1) and never blocks on an admission in progress for a different digest;
// it is followed by a blob-integrity check against disk, so a corrupted
// entry (a missing or symlinked blob, or a size that no longer matches what
// was recorded at admission) is evicted on the spot and reported as a miss
// rather than handed back to the caller.
func (s *Store) Lookup(d core.Digest) (core.CacheEntry, bool) {
	s.mu.RLock()
	meta, ok := s.digests[d]
	s.mu.RUnlock()
	if !ok {
		return core.CacheEntry{}, false
	}

	if err := s.verifyBlobs(d, meta); err != nil {
		s.logger.Warn("evicting corrupted cache entry", "digest", d,
			"error", fmt.Errorf("%w: %w", core.ErrStoreCorrupted, err))
		mu := s.stripeFor(d)
		mu.Lock()
		_, freed := s.deleteLocked(d)
		mu.Unlock()
		s.publishEvicted([]core.Digest{d}, freed)
		return core.CacheEntry{}, false
	}

	return core.CacheEntry{
		Digest:     d,
		Artifact:   meta.artifact,
		SizeBytes:  meta.size,
		IsPriority: s.priority.Contains(d),
	}, true
}

// verifyBlobs confirms every blob file meta.artifact claims to have is
// present on disk, a regular file rather than a symlink, and that their
// total size still matches the size recorded at admission time.
func (s *Store) verifyBlobs(d core.Digest, meta *cachedMeta) error {
	var total int64
	if meta.artifact.DecodedPreview != "" {
		if err := ensureCacheFile(meta.artifact.DecodedPreview); err != nil {
			return fmt.Errorf("preview blob: %w", err)
		}
		info, err := os.Stat(meta.artifact.DecodedPreview)
		if err != nil {
			return fmt.Errorf("preview blob: %w", err)
		}
		total += info.Size()
	}
	if meta.artifact.ThumbnailsPresent {
		for i := range meta.artifact.FaceBBoxes {
			path := s.thumbPath(d, i)
			if err := ensureCacheFile(path); err != nil {
				return fmt.Errorf("thumbnail %d blob: %w", i, err)
			}
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("thumbnail %d blob: %w", i, err)
			}
			total += info.Size()
		}
	}
	total += perEntryOverhead
	if total != meta.size {
		return fmt.Errorf("recorded size %d does not match on-disk size %d", meta.size, total)
	}
	return nil
}

// AdmitRequest bundles the artifact and the on-disk sources an admission
// moves into the content-addressed layout. PreviewSrc/ThumbSrcs must be
// paths previously obtained from TempPath (or already inside this store's
// tmp/ directory) so the final rename is same-filesystem.
type AdmitRequest struct {
	Digest     core.Digest
	Artifact   core.Artifact
	PreviewSrc string   // empty if no decoded preview was produced
	ThumbSrcs  []string // ordered by face index; len must equal len(Artifact.FaceBBoxes) if non-empty
}

// Admit performs the atomic admission protocol: blob files are renamed into
// place (same-fs, so atomic) before the metadata record is written; a crash
// at any point leaves either the previous entry intact or no entry at all
// for this digest.
func (s *Store) Admit(req AdmitRequest) (core.AdmitResult, error) {
	if err := req.Artifact.Validate(); err != nil {
		return core.Rejected, fmt.Errorf("admit %s: %w", req.Digest, err)
	}

	mu := s.stripeFor(req.Digest)
	mu.Lock()
	locked := true
	defer func() {
		if locked {
			mu.Unlock()
		}
	}()

	s.mu.RLock()
	_, replacing := s.digests[req.Digest]
	s.mu.RUnlock()

	if err := os.MkdirAll(s.blobDir(req.Digest), 0o700); err != nil {
		return core.Rejected, fmt.Errorf("admit %s: create blob dir: %w", req.Digest, err)
	}

	var size int64
	if req.PreviewSrc != "" {
		n, err := s.commitBlob(req.PreviewSrc, s.previewPath(req.Digest))
		if err != nil {
			return core.Rejected, fmt.Errorf("admit %s: %w", req.Digest, err)
		}
		size += n
	}
	if len(req.ThumbSrcs) > 0 {
		if err := os.MkdirAll(s.thumbsDir(req.Digest), 0o700); err != nil {
			return core.Rejected, fmt.Errorf("admit %s: create thumbs dir: %w", req.Digest, err)
		}
		for i, src := range req.ThumbSrcs {
			n, err := s.commitBlob(src, s.thumbPath(req.Digest, i))
			if err != nil {
				return core.Rejected, fmt.Errorf("admit %s: thumbnail %d: %w", req.Digest, i, err)
			}
			size += n
		}
	}
	size += perEntryOverhead

	finalArtifact := req.Artifact
	if req.PreviewSrc != "" {
		finalArtifact.DecodedPreview = s.previewPath(req.Digest)
	}

	e := artifactToEntry(finalArtifact, size)
	if err := saveEntry(s.indexPath(req.Digest), e); err != nil {
		return core.Rejected, fmt.Errorf("admit %s: save index entry: %w", req.Digest, err)
	}

	s.mu.Lock()
	s.digests[req.Digest] = &cachedMeta{artifact: finalArtifact, size: size}
	s.mu.Unlock()

	// The eviction tick locks each candidate's stripe, which may be this
	// one, so the stripe is released before the budget check.
	mu.Unlock()
	locked = false

	if over, _ := s.overBudget(); over {
		if _, err := s.TickEviction(); err != nil {
			s.logger.Warn("eviction tick after admission failed", "error", err)
		}
	}

	if replacing {
		return core.Replaced, nil
	}
	return core.Admitted, nil
}

// commitBlob renames src (already written and fsynced by the caller into
// this store's tmp/ directory) to dst and returns its size. A disk-full
// condition surfaces here as core.ErrStorageFull. src must be a regular
// file; dst, if it already exists (replacing an earlier admission), must be
// one too — neither is allowed to be a symlink planted in the cache tree.
func (s *Store) commitBlob(src, dst string) (int64, error) {
	if err := ensureCacheFile(src); err != nil {
		return 0, fmt.Errorf("commit blob: source: %w", err)
	}
	if err := ensureCacheFileIfExists(dst); err != nil {
		return 0, fmt.Errorf("commit blob: destination: %w", err)
	}
	info, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("stat source blob: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		if isDiskFull(err) {
			return 0, fmt.Errorf("%w: %w", core.ErrStorageFull, err)
		}
		return 0, fmt.Errorf("rename blob into place: %w", err)
	}
	return info.Size(), nil
}

// DeleteMany removes entries for the given digests, honoring the priority
// rule: a priority digest is never deleted by a hint-only caller. Direct
// callers that must bypass priority (e.g. eviction itself) use
// deleteLocked directly. Idempotent: already-absent digests are skipped
// without error and are not counted in the returned total.
func (s *Store) DeleteMany(digests []core.Digest, respectPriority bool) int {
	var removedDigests []core.Digest
	var bytesFreed int64
	for _, d := range digests {
		if respectPriority && s.priority.Contains(d) {
			continue
		}
		mu := s.stripeFor(d)
		mu.Lock()
		removed, freed := s.deleteLocked(d)
		mu.Unlock()
		if removed {
			removedDigests = append(removedDigests, d)
			bytesFreed += freed
		}
	}
	s.publishEvicted(removedDigests, bytesFreed)
	return len(removedDigests)
}

// deleteLocked removes one digest's blobs and index entry, reporting the
// size freed. Caller must hold that digest's stripe lock.
func (s *Store) deleteLocked(d core.Digest) (existed bool, freed int64) {
	s.mu.RLock()
	meta, existed := s.digests[d]
	s.mu.RUnlock()
	if !existed {
		return false, 0
	}

	os.Remove(s.previewPath(d))
	os.RemoveAll(s.thumbsDir(d))
	os.Remove(s.indexPath(d))

	s.mu.Lock()
	delete(s.digests, d)
	s.mu.Unlock()
	return true, meta.size
}

// publishEvicted announces a non-empty removal batch as CacheEntryEvicted.
// A no-op when no Publisher was configured or nothing was actually removed.
func (s *Store) publishEvicted(digests []core.Digest, bytesFreed int64) {
	if s.pub == nil || len(digests) == 0 {
		return
	}
	s.pub.Publish(core.Event{Kind: core.CacheEntryEvicted, Digests: digests, BytesFreed: bytesFreed})
}

// Status returns an approximate snapshot of store occupancy.
func (s *Store) Status() core.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bytes int64
	for _, m := range s.digests {
		bytes += m.size
	}
	pct := 0.0
	if s.budget > 0 {
		pct = float64(bytes) / float64(s.budget)
	}
	return core.Status{
		Entries: len(s.digests),
		Bytes:   bytes,
		Budget:  s.budget,
		Pct:     pct,
	}
}

func (s *Store) overBudget() (bool, int64) {
	st := s.Status()
	return st.Bytes > st.Budget, st.Bytes - st.Budget
}

// Entries returns every cached entry, sorted by digest, for CLI listing
// (`eventlens cache stats`) and tests.
func (s *Store) Entries() []core.CacheEntry {
	s.mu.RLock()
	digests := make([]core.Digest, 0, len(s.digests))
	for d := range s.digests {
		digests = append(digests, d)
	}
	s.mu.RUnlock()
	sort.Slice(digests, func(i, j int) bool { return digests[i] < digests[j] })

	out := make([]core.CacheEntry, 0, len(digests))
	for _, d := range digests {
		if ce, ok := s.Lookup(d); ok {
			out = append(out, ce)
		}
	}
	return out
}
