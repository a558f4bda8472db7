package registry_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/clipshare/server/internal/errors"
	"github.com/clipshare/server/internal/models"
	"github.com/clipshare/server/internal/registry"
)

// fakeBroadcaster records every broadcast/direct-send for assertions
// instead of delivering to real connections.
type fakeBroadcaster struct {
	mu         sync.Mutex
	broadcasts []broadcastCall
	directs    []directCall
}

type broadcastCall struct {
	roomKey, event string
	exclude        string
	payload        interface{}
}

type directCall struct {
	roomKey, userID, event string
	payload                interface{}
}

func (f *fakeBroadcaster) BroadcastToRoom(roomKey, event string, payload interface{}, excludeUserID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, broadcastCall{roomKey, event, excludeUserID, payload})
}

func (f *fakeBroadcaster) SendToUser(roomKey, userID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.directs = append(f.directs, directCall{roomKey, userID, event, payload})
}

type fakeFileOwner struct{ owned map[string]string }

func (f *fakeFileOwner) OwnedByRoom(fileID, roomKey string) bool {
	return f.owned[fileID] == roomKey
}

type RegistrySuite struct {
	suite.Suite
	bc    *fakeBroadcaster
	files *fakeFileOwner
	reg   *registry.Registry
}

func (s *RegistrySuite) SetupTest() {
	s.bc = &fakeBroadcaster{}
	s.files = &fakeFileOwner{owned: map[string]string{}}
	s.reg = registry.New(s.bc, s.files, "test-salt", 12)
}

func (s *RegistrySuite) TestJoinCreatesRoomAndMember() {
	result, err := s.reg.Join("room12ab", "fp-1", "Alice", models.DeviceDesktop, "")
	s.Require().NoError(err)
	s.Equal("Alice", result.Member.DisplayName)
	s.Equal(models.RoomActive, result.RoomState)
	s.Empty(result.RecentMessages)
}

func (s *RegistrySuite) TestJoinIsDeterministicPerFingerprint() {
	r1, err := s.reg.Join("room12ab", "fp-1", "Alice", models.DeviceDesktop, "")
	s.Require().NoError(err)
	r2, err := s.reg.Join("room12ab", "fp-1", "Alice-renamed", models.DeviceMobile, "")
	s.Require().NoError(err)
	s.Equal(r1.Member.UserID, r2.Member.UserID)
	s.Equal("Alice-renamed", r2.Member.DisplayName)
}

func (s *RegistrySuite) TestJoinWithPasswordRequiresIt() {
	_, err := s.reg.Join("secret12", "fp-1", "Alice", models.DeviceDesktop, "")
	s.Require().NoError(err)

	_, err = s.reg.SetPassword("secret12", s.deriveUser("secret12", "fp-1"), registry.PasswordChange{
		Kind: registry.PasswordSet, Plaintext: "hunter22",
	})
	s.Require().NoError(err)

	_, err = s.reg.Join("secret12", "fp-2", "Bob", models.DeviceMobile, "")
	s.Require().Error(err)
	apiErr, ok := errors.As(err)
	s.Require().True(ok)
	s.Equal(errors.CodePasswordRequired, apiErr.Code)

	_, err = s.reg.Join("secret12", "fp-2", "Bob", models.DeviceMobile, "wrong-pw")
	apiErr, ok = errors.As(err)
	s.Require().True(ok)
	s.Equal(errors.CodeInvalidPassword, apiErr.Code)

	_, err = s.reg.Join("secret12", "fp-2", "Bob", models.DeviceMobile, "hunter22")
	s.Require().NoError(err)
}

func (s *RegistrySuite) TestPostMessageRejectsNonMember() {
	_, err := s.reg.Join("room12ab", "fp-1", "Alice", models.DeviceDesktop, "")
	s.Require().NoError(err)

	_, err = s.reg.PostMessage("room12ab", "not-a-member", models.MessageText, "hi", nil)
	s.Require().Error(err)
	apiErr, _ := errors.As(err)
	s.Equal(errors.CodeUserNotInRoom, apiErr.Code)
}

func (s *RegistrySuite) TestPostMessageRejectsUnknownFile() {
	result, err := s.reg.Join("room12ab", "fp-1", "Alice", models.DeviceDesktop, "")
	s.Require().NoError(err)

	_, err = s.reg.PostMessage("room12ab", result.Member.UserID, models.MessageFile, "", &models.FileInfo{FileID: "missing"})
	s.Require().Error(err)
	apiErr, _ := errors.As(err)
	s.Equal(errors.CodeInvalidFileReference, apiErr.Code)
}

func (s *RegistrySuite) TestRecallOnlyBySender() {
	alice, err := s.reg.Join("room12ab", "fp-alice", "Alice", models.DeviceDesktop, "")
	s.Require().NoError(err)
	bob, err := s.reg.Join("room12ab", "fp-bob", "Bob", models.DeviceDesktop, "")
	s.Require().NoError(err)

	msg, err := s.reg.PostMessage("room12ab", alice.Member.UserID, models.MessageText, "hello", nil)
	s.Require().NoError(err)

	err = s.reg.RecallMessage("room12ab", bob.Member.UserID, msg.ID)
	s.Require().Error(err)
	apiErr, _ := errors.As(err)
	s.Equal(errors.CodeNotYourMessage, apiErr.Code)

	err = s.reg.RecallMessage("room12ab", alice.Member.UserID, msg.ID)
	s.Require().NoError(err)

	users, err := s.reg.ListUsers("room12ab")
	s.Require().NoError(err)
	s.Len(users, 2)
}

func (s *RegistrySuite) TestLeaveRemovesMember() {
	result, err := s.reg.Join("room12ab", "fp-1", "Alice", models.DeviceDesktop, "")
	s.Require().NoError(err)

	s.Require().NoError(s.reg.Leave("room12ab", result.Member.UserID))

	users, err := s.reg.ListUsers("room12ab")
	s.Require().NoError(err)
	s.Empty(users)
}

func (s *RegistrySuite) TestValidateUserIdempotent() {
	s.False(s.reg.ValidateUser("room12ab", "fp-1"))
	_, err := s.reg.Join("room12ab", "fp-1", "Alice", models.DeviceDesktop, "")
	s.Require().NoError(err)
	s.True(s.reg.ValidateUser("room12ab", "fp-1"))
}

func (s *RegistrySuite) deriveUser(roomKey, fingerprint string) string {
	return s.reg.DeriveUserID(fingerprint, roomKey)
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}
