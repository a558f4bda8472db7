package filestore_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/clipshare/server/internal/errors"
	"github.com/clipshare/server/internal/filestore"
)

type FileStoreSuite struct {
	suite.Suite
	store *filestore.Store
}

func (s *FileStoreSuite) SetupTest() {
	s.store = filestore.New(s.T().TempDir(), nil)
}

func (s *FileStoreSuite) TestUploadThenDownload() {
	blob, err := s.store.Upload("room12ab", "notes.txt", "text/plain", 11, strings.NewReader("hello world"))
	s.Require().NoError(err)
	s.Equal("notes.txt", blob.OriginalName)
	s.Equal(int64(11), blob.Size)

	f, got, err := s.store.Open(blob.FileID)
	s.Require().NoError(err)
	defer f.Close()
	s.Equal(blob.FileID, got.FileID)
}

func (s *FileStoreSuite) TestUploadTooLarge() {
	over := strings.Repeat("a", 5)
	_, err := s.store.Upload("room12ab", "big.bin", "application/octet-stream", 200<<20, strings.NewReader(over))
	s.Require().Error(err)
	apiErr, _ := errors.As(err)
	s.Equal(errors.CodeFileTooLarge, apiErr.Code)
}

func (s *FileStoreSuite) TestDeleteIsIdempotent() {
	blob, err := s.store.Upload("room12ab", "a.txt", "text/plain", 1, strings.NewReader("a"))
	s.Require().NoError(err)

	s.Require().NoError(s.store.Delete(blob.FileID))
	s.Require().NoError(s.store.Delete(blob.FileID))

	_, err = s.store.Get(blob.FileID)
	s.Require().Error(err)
}

func (s *FileStoreSuite) TestOwnedByRoom() {
	blob, err := s.store.Upload("room12ab", "a.txt", "text/plain", 1, strings.NewReader("a"))
	s.Require().NoError(err)

	s.True(s.store.OwnedByRoom(blob.FileID, "room12ab"))
	s.False(s.store.OwnedByRoom(blob.FileID, "other9ab"))
}

func (s *FileStoreSuite) TestDeleteOwnedFiles() {
	_, err := s.store.Upload("room12ab", "a.txt", "text/plain", 1, strings.NewReader("a"))
	s.Require().NoError(err)
	_, err = s.store.Upload("room12ab", "b.txt", "text/plain", 1, strings.NewReader("b"))
	s.Require().NoError(err)
	_, err = s.store.Upload("other9ab", "c.txt", "text/plain", 1, strings.NewReader("c"))
	s.Require().NoError(err)

	deleted := s.store.DeleteOwnedFiles("room12ab")
	s.Len(deleted, 2)
}

func TestFileStoreSuite(t *testing.T) {
	suite.Run(t, new(FileStoreSuite))
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"../../etc/passwd": "etc_passwd",
		"CON.txt":          "_CON.txt",
		"<script>.txt":     "_script_.txt",
		"":                 "unnamed_file",
		"...":              "unnamed_file",
		"report final.pdf": "report final.pdf",
		"bad\x00name.txt":  "bad_name.txt",
	}
	for in, want := range cases {
		if got := filestore.SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
	longName := strings.Repeat("a", 300) + ".txt"
	if got := filestore.SanitizeFilename(longName); len(got) > 100 {
		t.Errorf("expected sanitized name capped at 100 chars, got %d", len(got))
	}
}
