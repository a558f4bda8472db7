package shareservice_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/clipshare/server/internal/errors"
	"github.com/clipshare/server/internal/models"
	"github.com/clipshare/server/internal/shareservice"
)

type fakeFiles struct {
	blobs map[string]*models.FileBlob
}

func (f *fakeFiles) Get(fileID string) (*models.FileBlob, error) {
	b, ok := f.blobs[fileID]
	if !ok {
		return nil, errors.New(errors.CodeFileNotFound, "not found")
	}
	return b, nil
}

type fakeRooms struct{ members map[string]bool }

func (f *fakeRooms) IsMember(roomKey, userID string) bool { return f.members[roomKey+"|"+userID] }

type ShareServiceSuite struct {
	suite.Suite
	files *fakeFiles
	rooms *fakeRooms
	svc   *shareservice.Service
}

func (s *ShareServiceSuite) SetupTest() {
	s.files = &fakeFiles{blobs: map[string]*models.FileBlob{
		"file-1": {FileID: "file-1", RoomKey: "room12ab", OriginalName: "a.txt", Size: 10},
	}}
	s.rooms = &fakeRooms{members: map[string]bool{"room12ab|user-1": true}}
	s.svc = shareservice.New(s.files, s.rooms, "https://clipshare.example", 12)
}

func (s *ShareServiceSuite) TestCreateRequiresMembership() {
	_, err := s.svc.Create("file-1", "user-stranger", 7, false)
	s.Require().Error(err)
}

func (s *ShareServiceSuite) TestCreateDefaultsExpiry() {
	result, err := s.svc.Create("file-1", "user-1", 0, false)
	s.Require().NoError(err)
	s.Len(result.ShareID, 10)
	s.False(result.HasPassword)
	s.WithinDuration(time.Now().Add(7*24*time.Hour), result.ExpiresAt, time.Minute)
}

func (s *ShareServiceSuite) TestCreateWithPasswordReturnsPlaintextOnce() {
	result, err := s.svc.Create("file-1", "user-1", 1, true)
	s.Require().NoError(err)
	s.True(result.HasPassword)
	s.Len(result.Password, 6)
}

func (s *ShareServiceSuite) TestCreateRejectsBadExpiry() {
	_, err := s.svc.Create("file-1", "user-1", 2, false)
	s.Require().Error(err)
	apiErr, _ := errors.As(err)
	s.Equal(errors.CodeInvalidPayload, apiErr.Code)
}

func (s *ShareServiceSuite) TestAccessDecisionTree() {
	result, err := s.svc.Create("file-1", "user-1", 1, true)
	s.Require().NoError(err)

	_, err = s.svc.Access(shareservice.AccessRequest{ShareID: "doesnotexist"})
	s.Require().Error(err)
	apiErr, _ := errors.As(err)
	s.Equal(errors.CodeShareNotFound, apiErr.Code)

	_, err = s.svc.Access(shareservice.AccessRequest{ShareID: result.ShareID})
	s.Require().Error(err)
	apiErr, _ = errors.As(err)
	s.Equal(errors.CodeAuthenticationRequired, apiErr.Code)

	_, err = s.svc.Access(shareservice.AccessRequest{
		ShareID: result.ShareID, HasCredentials: true, ProvidedPassword: "wrong",
	})
	s.Require().Error(err)
	apiErr, _ = errors.As(err)
	s.Equal(errors.CodeInvalidPassword, apiErr.Code)

	access, err := s.svc.Access(shareservice.AccessRequest{
		ShareID: result.ShareID, HasCredentials: true, ProvidedPassword: result.Password,
	})
	s.Require().NoError(err)
	s.Equal("file-1", access.Blob.FileID)
}

func (s *ShareServiceSuite) TestRevokeThenAccessFails() {
	result, err := s.svc.Create("file-1", "user-1", 1, false)
	s.Require().NoError(err)

	s.Require().NoError(s.svc.Revoke(result.ShareID, "user-1"))

	_, err = s.svc.Access(shareservice.AccessRequest{ShareID: result.ShareID})
	s.Require().Error(err)
}

func (s *ShareServiceSuite) TestRevokeRequiresOwnership() {
	result, err := s.svc.Create("file-1", "user-1", 1, false)
	s.Require().NoError(err)

	err = s.svc.Revoke(result.ShareID, "someone-else")
	s.Require().Error(err)
}

func TestShareServiceSuite(t *testing.T) {
	suite.Run(t, new(ShareServiceSuite))
}
