package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/23skdu/longbow-scout/internal/logger"
	"github.com/23skdu/longbow-scout/internal/metrics"
)

var (
	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
)

func init() {
	var err error
	zstdEnc, err = zstd.NewWriter(nil)
	if err != nil {
		panic("zstd: init encoder: " + err.Error())
	}
	zstdDec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("zstd: init decoder: " + err.Error())
	}
}

// envelope is the stored form of one entry: creation time, TTL, and a
// zstd-compressed payload, serialized to disk as msgpack.
type envelope struct {
	Key        string    `msgpack:"key"`
	CreatedAt  time.Time `msgpack:"created_at"`
	TTLSeconds int64     `msgpack:"ttl_seconds"`
	Payload    []byte    `msgpack:"payload"`
}

func (e *envelope) fresh(now time.Time) bool {
	return now.Sub(e.CreatedAt) <= time.Duration(e.TTLSeconds)*time.Second
}

func (e *envelope) decode() ([]byte, error) {
	return zstdDec.DecodeAll(e.Payload, nil)
}

// Store is a two-tier TTL cache: a memory map in front of one msgpack
// file per entry under dir. Entries outlive their TTL on disk so
// stale reads can serve an offline session.
type Store struct {
	dir string
	log *logger.Logger

	mu  sync.RWMutex
	mem map[string]*envelope

	sched gocron.Scheduler
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &Store{
		dir: dir,
		log: logger.Log.With("cache"),
		mem: make(map[string]*envelope),
	}, nil
}

// entryPath hashes the key so arbitrary key strings map to safe
// filenames.
func (s *Store) entryPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:16])+".cache")
}

// Put stores data under key in both tiers. A disk write failure only
// degrades the entry to memory-tier.
func (s *Store) Put(key string, data []byte, ttl time.Duration) error {
	env := &envelope{
		Key:        key,
		CreatedAt:  time.Now(),
		TTLSeconds: int64(ttl / time.Second),
		Payload:    zstdEnc.EncodeAll(data, make([]byte, 0, len(data))),
	}

	s.mu.Lock()
	s.mem[key] = env
	s.mu.Unlock()

	blob, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode cache entry %q: %w", key, err)
	}
	if err := os.WriteFile(s.entryPath(key), blob, 0o644); err != nil {
		s.log.Warn("cache disk write failed", "key", key, "error", err)
	}
	return nil
}

// Get returns the payload for key when a fresh entry exists in either
// tier. Disk hits are promoted back into memory.
func (s *Store) Get(key string) ([]byte, bool) {
	now := time.Now()

	s.mu.RLock()
	env, ok := s.mem[key]
	s.mu.RUnlock()
	if ok && env.fresh(now) {
		data, err := env.decode()
		if err == nil {
			metrics.CacheHits.WithLabelValues("memory").Inc()
			return data, true
		}
		s.log.Warn("corrupt memory cache entry", "key", key, "error", err)
	}

	env, err := s.readDisk(key)
	if err == nil && env.fresh(now) {
		data, derr := env.decode()
		if derr == nil {
			s.mu.Lock()
			s.mem[key] = env
			s.mu.Unlock()
			metrics.CacheHits.WithLabelValues("disk").Inc()
			return data, true
		}
		s.log.Warn("corrupt disk cache entry", "key", key, "error", derr)
	}

	metrics.CacheMisses.Inc()
	return nil, false
}

// GetStale returns the payload for key regardless of TTL. Used when
// the network is down and an expired answer beats none.
func (s *Store) GetStale(key string) ([]byte, bool) {
	s.mu.RLock()
	env, ok := s.mem[key]
	s.mu.RUnlock()
	if !ok {
		var err error
		env, err = s.readDisk(key)
		if err != nil {
			return nil, false
		}
	}
	data, err := env.decode()
	if err != nil {
		return nil, false
	}
	return data, true
}

func (s *Store) readDisk(key string) (*envelope, error) {
	blob, err := os.ReadFile(s.entryPath(key))
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := msgpack.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("decode cache entry %q: %w", key, err)
	}
	return &env, nil
}

// Has reports whether a fresh entry exists for key.
func (s *Store) Has(key string) bool {
	now := time.Now()
	s.mu.RLock()
	env, ok := s.mem[key]
	s.mu.RUnlock()
	if ok && env.fresh(now) {
		return true
	}
	env, err := s.readDisk(key)
	return err == nil && env.fresh(now)
}

// HasAny reports whether the store holds anything at all, fresh or
// stale.
func (s *Store) HasAny() bool {
	s.mu.RLock()
	n := len(s.mem)
	s.mu.RUnlock()
	if n > 0 {
		return true
	}
	names, err := os.ReadDir(s.dir)
	if err != nil {
		return false
	}
	for _, e := range names {
		if strings.HasSuffix(e.Name(), ".cache") {
			return true
		}
	}
	return false
}

// Delete removes key from both tiers.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.mem, key)
	s.mu.Unlock()
	_ = os.Remove(s.entryPath(key))
}

// Clear wipes both tiers.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.mem = make(map[string]*envelope)
	s.mu.Unlock()

	names, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("list cache dir: %w", err)
	}
	for _, e := range names {
		if strings.HasSuffix(e.Name(), ".cache") {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
				return fmt.Errorf("remove cache entry: %w", err)
			}
		}
	}
	return nil
}

// Stats summarizes both tiers for the cache subcommand.
type Stats struct {
	MemoryEntries int
	DiskEntries   int
	DiskBytes     int64
}

func (s *Store) Stats() Stats {
	var st Stats
	s.mu.RLock()
	st.MemoryEntries = len(s.mem)
	s.mu.RUnlock()

	names, err := os.ReadDir(s.dir)
	if err != nil {
		return st
	}
	for _, e := range names {
		if !strings.HasSuffix(e.Name(), ".cache") {
			continue
		}
		st.DiskEntries++
		if info, err := e.Info(); err == nil {
			st.DiskBytes += info.Size()
		}
	}
	return st
}

// Sweep drops expired entries from both tiers and reports how many it
// removed. The janitor calls this on its interval; Clear and Sweep
// are also safe to call directly.
func (s *Store) Sweep() int {
	now := time.Now()
	evicted := 0

	s.mu.Lock()
	for key, env := range s.mem {
		if !env.fresh(now) {
			delete(s.mem, key)
			evicted++
		}
	}
	s.mu.Unlock()

	names, err := os.ReadDir(s.dir)
	if err == nil {
		for _, e := range names {
			if !strings.HasSuffix(e.Name(), ".cache") {
				continue
			}
			path := filepath.Join(s.dir, e.Name())
			blob, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			var env envelope
			if err := msgpack.Unmarshal(blob, &env); err != nil || !env.fresh(now) {
				if os.Remove(path) == nil {
					evicted++
				}
			}
		}
	}

	if evicted > 0 {
		metrics.CacheEvictions.Add(float64(evicted))
		s.log.Debug("cache sweep", "evicted", evicted)
	}
	return evicted
}

// StartJanitor schedules Sweep every interval until Close.
func (s *Store) StartJanitor(interval time.Duration) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create cache janitor: %w", err)
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { s.Sweep() }),
		gocron.WithName("cache-sweep"),
	); err != nil {
		return fmt.Errorf("schedule cache sweep: %w", err)
	}
	sched.Start()
	s.sched = sched
	return nil
}

// Close stops the janitor if one is running.
func (s *Store) Close() error {
	if s.sched != nil {
		return s.sched.Shutdown()
	}
	return nil
}
