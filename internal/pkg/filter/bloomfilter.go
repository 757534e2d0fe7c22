package bloomfilter

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/rs/zerolog"
)

// SeenSet is a thread-safe Bloom filter of keys already handled, optionally
// persisted to disk every saveEvery additions.
type SeenSet struct {
	filter      *bloom.BloomFilter
	mutex       sync.Mutex
	savePath    string
	saveEvery   int
	saveCounter int
	logger      zerolog.Logger
}

// NewSeenSet loads the filter stored at savePath, or creates an empty one
// sized for capacity keys at fpRate. An empty savePath keeps the set in
// memory only.
func NewSeenSet(savePath string, saveEvery int, capacity uint, fpRate float64, logger zerolog.Logger) (*SeenSet, error) {
	if saveEvery <= 0 {
		saveEvery = 1
	}
	set := &SeenSet{
		savePath:  savePath,
		saveEvery: saveEvery,
		logger:    logger.With().Str("component", "seen_set").Logger(),
	}

	filter, err := loadBloomFilter(savePath)
	if err != nil {
		return nil, fmt.Errorf("load seen set: %w", err)
	}
	if filter == nil {
		filter = bloom.NewWithEstimates(capacity, fpRate)
	}
	set.filter = filter
	return set, nil
}

// Returns nil without error when there is nothing stored yet.
func loadBloomFilter(path string) (*bloom.BloomFilter, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	filter := &bloom.BloomFilter{}
	if _, err := filter.ReadFrom(bufio.NewReader(file)); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return filter, nil
}

// Caller holds the mutex.
func (s *SeenSet) save() error {
	if s.savePath == "" {
		return nil
	}
	file, err := os.Create(s.savePath)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if _, err := s.filter.WriteTo(writer); err != nil {
		return err
	}
	return writer.Flush()
}

// Seen reports whether key was probably marked before.
func (s *SeenSet) Seen(key string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.filter.TestString(key)
}

// CheckAndMark reports whether key was already present and marks it.
func (s *SeenSet) CheckAndMark(key string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.filter.TestString(key) {
		return true
	}
	s.filter.AddString(key)
	s.saveCounter++
	if s.saveCounter >= s.saveEvery {
		s.saveCounter = 0
		if err := s.save(); err != nil {
			s.logger.Warn().Err(err).Str("path", s.savePath).Msg("saving seen set failed")
		}
	}
	return false
}

// Flush writes pending additions to disk.
func (s *SeenSet) Flush() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.saveCounter == 0 {
		return nil
	}
	s.saveCounter = 0
	return s.save()
}
