// Package staging spools incoming Opus payloads to disk so a full alert
// never has to fit in memory. Each payload gets a uniquely named scratch
// file under the staging directory; completed payloads either feed playback
// directly or are retained under saved/ when the sender asked for it.
package staging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/soundpost/errors"
)

const (
	scratchPrefix = "alert_"
	scratchSuffix = ".opus"
	savedDirName  = "saved"
)

// Store manages the staging directory
type Store struct {
	dir      string
	maxBytes int
	logger   *slog.Logger
}

// StoreOption configures a Store
type StoreOption func(*Store) error

// WithMaxPayloadBytes bounds the size of a single staged payload
func WithMaxPayloadBytes(n int) StoreOption {
	return func(s *Store) error {
		if n <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"staging", "WithMaxPayloadBytes",
				fmt.Sprintf("accept limit %d", n))
		}
		s.maxBytes = n
		return nil
	}
}

// WithStoreLogger sets the logger
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// NewStore creates the staging and saved directories if needed
func NewStore(dir string, opts ...StoreOption) (*Store, error) {
	if dir == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"staging", "NewStore", "require staging directory")
	}

	s := &Store{
		dir:      dir,
		maxBytes: 16 << 20,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Join(dir, savedDirName), 0o755); err != nil {
		return nil, errors.WrapFatal(err, "staging", "NewStore", "create staging directory")
	}
	return s, nil
}

// Dir returns the staging directory path
func (s *Store) Dir() string {
	return s.dir
}

// Create opens a scratch file sized for expected bytes of payload
func (s *Store) Create(expected int) (*Payload, error) {
	if expected <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidEnvelope,
			"staging", "Create", fmt.Sprintf("accept expected size %d", expected))
	}
	if expected > s.maxBytes {
		return nil, errors.WrapInvalid(errors.ErrMessageTooLarge,
			"staging", "Create",
			fmt.Sprintf("fit %d bytes under limit %d", expected, s.maxBytes))
	}

	name := scratchPrefix + uuid.NewString() + scratchSuffix
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.WrapFatal(err, "staging", "Create", "open scratch file")
	}

	s.logger.Debug("staged payload created",
		slog.String("path", path),
		slog.Int("expected_bytes", expected))

	return &Payload{path: path, file: f, expected: expected}, nil
}

// Retain moves a completed payload into saved/ under the sender's filename.
// The name is reduced to its base so a hostile filename cannot escape the
// directory. Returns the final path.
func (s *Store) Retain(p *Payload, filename string) (string, error) {
	if !p.completed {
		return "", errors.WrapInvalid(errors.ErrPayloadIncomplete,
			"staging", "Retain", "retain incomplete payload")
	}

	base := filepath.Base(strings.TrimSpace(filename))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = filepath.Base(p.path)
	}
	dst := filepath.Join(s.dir, savedDirName, base)
	if err := os.Rename(p.path, dst); err != nil {
		return "", errors.WrapFatal(err, "staging", "Retain", "move payload to saved")
	}
	p.path = dst

	s.logger.Info("payload retained", slog.String("path", dst))
	return dst, nil
}

// OpenSaved wraps a previously retained file as a completed payload so it
// can be replayed on demand.
func (s *Store) OpenSaved(filename string) (*Payload, error) {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"staging", "OpenSaved", "require filename")
	}

	path := filepath.Join(s.dir, savedDirName, base)
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "staging", "OpenSaved", "stat saved payload")
	}

	size := int(info.Size())
	return &Payload{path: path, expected: size, written: size, completed: true}, nil
}

// Sweep removes scratch files left behind by an earlier run. Files under
// saved/ are untouched. Returns the number of files removed.
func (s *Store) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, errors.WrapFatal(err, "staging", "Sweep", "read staging directory")
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, scratchPrefix) || !strings.HasSuffix(name, scratchSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return removed, errors.WrapFatal(err, "staging", "Sweep", "remove stale scratch file")
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("swept stale payloads", slog.Int("removed", removed))
	}
	return removed, nil
}

// Payload is a write-once scratch file with strict byte accounting
type Payload struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	expected  int
	written   int
	completed bool
}

// Write appends payload bytes, rejecting any overrun of the expected size
func (p *Payload) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return 0, errors.WrapInvalid(errors.ErrPayloadIncomplete,
			"staging", "Write", "write to closed payload")
	}
	if p.written+len(b) > p.expected {
		return 0, errors.WrapInvalid(errors.ErrPayloadOverrun,
			"staging", "Write",
			fmt.Sprintf("fit %d bytes at offset %d under expected %d",
				len(b), p.written, p.expected))
	}

	n, err := p.file.Write(b)
	p.written += n
	if err != nil {
		return n, errors.WrapFatal(err, "staging", "Write", "write payload bytes")
	}
	return n, nil
}

// BytesWritten reports the bytes accepted so far
func (p *Payload) BytesWritten() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

// ExpectedLen reports the size declared at creation
func (p *Payload) ExpectedLen() int {
	return p.expected
}

// Path returns the current location of the backing file
func (p *Payload) Path() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.path
}

// Complete verifies every expected byte arrived and closes the writer
func (p *Payload) Complete() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file == nil {
		return errors.WrapInvalid(errors.ErrPayloadIncomplete,
			"staging", "Complete", "complete closed payload")
	}
	if p.written != p.expected {
		return errors.WrapInvalid(errors.ErrPayloadIncomplete,
			"staging", "Complete",
			fmt.Sprintf("account %d of %d expected bytes", p.written, p.expected))
	}

	if err := p.file.Sync(); err != nil {
		return errors.WrapFatal(err, "staging", "Complete", "sync payload")
	}
	if err := p.file.Close(); err != nil {
		return errors.WrapFatal(err, "staging", "Complete", "close payload")
	}
	p.file = nil
	p.completed = true
	return nil
}

// Open returns a reader over a completed payload
func (p *Payload) Open() (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.completed {
		return nil, errors.WrapInvalid(errors.ErrPayloadIncomplete,
			"staging", "Open", "open incomplete payload")
	}
	f, err := os.Open(p.path)
	if err != nil {
		return nil, errors.WrapFatal(err, "staging", "Open", "open payload file")
	}
	return f, nil
}

// Remove deletes the backing file, closing it first if still open
func (p *Payload) Remove() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.file != nil {
		_ = p.file.Close()
		p.file = nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.WrapFatal(err, "staging", "Remove", "remove payload file")
	}
	return nil
}
