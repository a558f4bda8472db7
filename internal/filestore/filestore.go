// Package filestore is the File Store (§4.3): content-addressed on-disk
// blobs indexed by file-id, metadata held in memory. Writes land via a
// temp-path-then-rename so a file-id either exists fully or not at all,
// standing in for the teacher's MinIO PUT in a world with no object store.
package filestore

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/clipshare/server/internal/errors"
	"github.com/clipshare/server/internal/models"
	"github.com/google/uuid"
)

const (
	maxUploadBytes = 100 << 20 // 100 MiB
	gcAge          = 12 * time.Hour
	maxNameLen     = 100
)

// dangerousNameChars matches characters disallowed mid-name once path
// separators have already been split out and rejoined with "_".
var dangerousNameChars = regexp.MustCompile(`[<>:"|?*\x00-\x1f]`)

var reservedWindowsNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeFilename enforces §8's invariants: path separators and traversal
// segments collapse into "_"-joined components (so "../../etc/passwd"
// becomes "etc_passwd", not "passwd"), remaining dangerous characters are
// replaced with "_" in place (so "<script>.txt" becomes "_script_.txt"),
// and a reserved Windows device name is prefixed rather than discarded (so
// "CON.txt" becomes "_CON.txt"). "unnamed_file" is reserved for names that
// are empty or reduce to nothing but dots/separators.
func SanitizeFilename(name string) string {
	if isAllDotsOrEmpty(name) {
		return "unnamed_file"
	}

	name = strings.ReplaceAll(name, "\\", "/")
	segments := strings.Split(name, "/")
	kept := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		kept = append(kept, seg)
	}
	name = strings.Join(kept, "_")
	if name == "" {
		return "unnamed_file"
	}

	name = dangerousNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, " .")
	if name == "" {
		return "unnamed_file"
	}

	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}

	stem := strings.ToUpper(strings.TrimSuffix(name, filepath.Ext(name)))
	if reservedWindowsNames[stem] {
		name = "_" + name
	}
	return name
}

func isAllDotsOrEmpty(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if r != '.' {
			return false
		}
	}
	return true
}

// RoomNotifier lets the File Store emit `file_expired` without importing
// the gateway package.
type RoomNotifier interface {
	NotifyRoom(roomKey, systemKind string, payload interface{})
}

// Store is the File Store's in-memory index plus the on-disk blobs it
// fronts.
type Store struct {
	mu      sync.RWMutex
	blobs   map[string]*models.FileBlob
	uploadDir string
	notifier  RoomNotifier
}

func New(uploadDir string, notifier RoomNotifier) *Store {
	return &Store{
		blobs:     make(map[string]*models.FileBlob),
		uploadDir: uploadDir,
		notifier:  notifier,
	}
}

// Upload implements `upload` (§4.3): the reader is drained to a temp file
// first; only once that succeeds completely is it renamed into place and
// indexed, so a crash mid-write leaves no partial file-id visible.
func (s *Store) Upload(roomKey, originalName, mimeType string, size int64, reader io.Reader) (*models.FileBlob, error) {
	if size > maxUploadBytes {
		return nil, errors.New(errors.CodeFileTooLarge, "file exceeds the 100 MiB limit")
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, errors.Internal(err)
	}

	fileID := uuid.NewString()
	finalPath := filepath.Join(s.uploadDir, fileID)
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Internal(err)
	}

	written, copyErr := io.CopyN(f, reader, maxUploadBytes+1)
	closeErr := f.Close()
	if copyErr != nil && copyErr != io.EOF {
		os.Remove(tmpPath)
		return nil, errors.Internal(copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return nil, errors.Internal(closeErr)
	}
	if written > maxUploadBytes {
		os.Remove(tmpPath)
		return nil, errors.New(errors.CodeFileTooLarge, "file exceeds the 100 MiB limit")
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, errors.Internal(err)
	}

	blob := &models.FileBlob{
		FileID:       fileID,
		Path:         finalPath,
		OriginalName: SanitizeFilename(originalName),
		MimeType:     mimeType,
		Size:         written,
		RoomKey:      roomKey,
		CreatedAt:    time.Now(),
	}

	s.mu.Lock()
	s.blobs[fileID] = blob
	s.mu.Unlock()

	return blob, nil
}

// Get returns the metadata for fileID, for building download responses.
func (s *Store) Get(fileID string) (*models.FileBlob, error) {
	s.mu.RLock()
	blob, ok := s.blobs[fileID]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.CodeFileNotFound, "file not found")
	}
	return blob, nil
}

// Open opens the blob's bytes for streaming to a download response.
func (s *Store) Open(fileID string) (*os.File, *models.FileBlob, error) {
	blob, err := s.Get(fileID)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(blob.Path)
	if err != nil {
		return nil, nil, errors.New(errors.CodeFileNotFound, "file not found")
	}
	return f, blob, nil
}

// Delete implements `delete` (§4.3). Idempotent: deleting an already-absent
// file-id is not an error.
func (s *Store) Delete(fileID string) error {
	s.mu.Lock()
	blob, ok := s.blobs[fileID]
	delete(s.blobs, fileID)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if err := os.Remove(blob.Path); err != nil && !os.IsNotExist(err) {
		return errors.Internal(err)
	}
	return nil
}

// OwnedByRoom implements registry.FileOwner: used by the Registry to check
// a `sendMessage` file reference without importing this package's types.
func (s *Store) OwnedByRoom(fileID, roomKey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[fileID]
	return ok && blob.RoomKey == roomKey
}

// DeleteOwnedFiles backs registry.RoomDestroyer's method of the same name
// (through the adapter in internal/server): deletes every blob owned by
// roomKey and returns their file-ids for the roomDestroyed event.
func (s *Store) DeleteOwnedFiles(roomKey string) []string {
	s.mu.Lock()
	var owned []string
	for id, blob := range s.blobs {
		if blob.RoomKey == roomKey {
			owned = append(owned, id)
		}
	}
	s.mu.Unlock()

	for _, id := range owned {
		_ = s.Delete(id)
	}
	return owned
}

// GC implements `gc` (§4.3): sweeps every file older than 12h, deleting it
// and notifying its room via `file_expired`. Intended to run every 10m.
func (s *Store) GC() {
	now := time.Now()

	s.mu.RLock()
	var expired []*models.FileBlob
	for _, blob := range s.blobs {
		if now.Sub(blob.CreatedAt) > gcAge {
			expired = append(expired, blob)
		}
	}
	s.mu.RUnlock()

	for _, blob := range expired {
		if err := s.Delete(blob.FileID); err != nil {
			continue
		}
		if s.notifier != nil {
			s.notifier.NotifyRoom(blob.RoomKey, "file_expired", map[string]string{"fileId": blob.FileID})
		}
	}
}
