// Package shareservice is the Share-Link Service (§4.4): owns share records
// and their access logs, independent of the Room Registry and File Store
// it references by id.
package shareservice

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/clipshare/server/internal/errors"
	"github.com/clipshare/server/internal/models"
	"github.com/clipshare/server/internal/pwgen"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultExpiryDays = 7
	shareGCGrace       = 7 * 24 * time.Hour
	logRetention       = 30 * 24 * time.Hour
)

var allowedExpiryDays = map[int]bool{1: true, 3: true, 7: true, 15: true, 30: true}

// FileLocator is the File Store surface the Share-Link Service depends on.
type FileLocator interface {
	Get(fileID string) (*models.FileBlob, error)
}

// RoomMembership lets the service check that an actor belongs to the room
// owning a file, without importing the registry package's concrete type.
type RoomMembership interface {
	IsMember(roomKey, userID string) bool
}

type Service struct {
	mu      sync.Mutex
	shares  map[string]*models.ShareLink
	logs    map[string][]models.ShareAccessLog

	files   FileLocator
	rooms   RoomMembership
	baseURL string
	bcryptCost int
}

func New(files FileLocator, rooms RoomMembership, baseURL string, bcryptCost int) *Service {
	return &Service{
		shares:     make(map[string]*models.ShareLink),
		logs:       make(map[string][]models.ShareAccessLog),
		files:      files,
		rooms:      rooms,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		bcryptCost: bcryptCost,
	}
}

// CreateResult is the reply to `create`.
type CreateResult struct {
	ShareID     string
	URL         string
	ExpiresAt   time.Time
	HasPassword bool
	Password    string // plaintext, returned exactly once
}

// Create implements `create` (§4.4).
func (s *Service) Create(fileID, actorUserID string, expiresInDays int, wantPassword bool) (*CreateResult, error) {
	blob, err := s.files.Get(fileID)
	if err != nil {
		return nil, err
	}
	if s.rooms != nil && !s.rooms.IsMember(blob.RoomKey, actorUserID) {
		return nil, errors.New(errors.CodeUserNotAuthenticated, "only a room member may share this file")
	}

	if expiresInDays == 0 {
		expiresInDays = defaultExpiryDays
	}
	if !allowedExpiryDays[expiresInDays] {
		return nil, errors.New(errors.CodeInvalidPayload, "expiresInDays must be one of 1, 3, 7, 15, 30")
	}

	shareID := newShareID()

	var passwordHash, plaintext string
	if wantPassword {
		plaintext, err = pwgen.Generate(6)
		if err != nil {
			return nil, errors.Internal(err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), s.bcryptCost)
		if err != nil {
			return nil, errors.Internal(err)
		}
		passwordHash = string(hash)
	}

	now := time.Now()
	link := &models.ShareLink{
		ShareID:      shareID,
		FileID:       fileID,
		CreatedBy:    actorUserID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Duration(expiresInDays) * 24 * time.Hour),
		PasswordHash: passwordHash,
		Status:       models.ShareActive,
	}

	s.mu.Lock()
	s.shares[shareID] = link
	s.mu.Unlock()

	return &CreateResult{
		ShareID:     shareID,
		URL:         fmt.Sprintf("%s/s/%s", s.baseURL, shareID),
		ExpiresAt:   link.ExpiresAt,
		HasPassword: wantPassword,
		Password:    plaintext,
	}, nil
}

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// newShareID encodes a fresh UUID as base62 (§3/§4.4: share-ids are
// alphanumeric, never containing the "-"/"_" base64url can emit), truncated
// to 10 characters.
func newShareID() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])
	base := big.NewInt(int64(len(base62Alphabet)))
	mod := new(big.Int)

	var out []byte
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		out = append(out, base62Alphabet[mod.Int64()])
	}
	for len(out) < 10 {
		out = append(out, base62Alphabet[0])
	}
	// DivMod peels off the least-significant digit first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out[:10])
}

// ListFilter narrows List results.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// Summary is one page entry for `list`.
type Summary struct {
	ShareID        string
	Filename       string
	Size           int64
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Status         models.ShareStatus
	AccessCount    int64
	HasPassword    bool
}

// List implements `list` (§4.4).
func (s *Service) List(actorUserID string, filter ListFilter) []Summary {
	s.mu.Lock()
	var owned []*models.ShareLink
	for _, link := range s.shares {
		if link.CreatedBy != actorUserID {
			continue
		}
		s.lazilyExpire(link)
		if filter.Status != "" && string(link.Status) != filter.Status {
			continue
		}
		owned = append(owned, link)
	}
	s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	start := filter.Offset
	if start > len(owned) {
		start = len(owned)
	}
	end := start + limit
	if end > len(owned) {
		end = len(owned)
	}

	out := make([]Summary, 0, end-start)
	for _, link := range owned[start:end] {
		summary := Summary{
			ShareID:     link.ShareID,
			CreatedAt:   link.CreatedAt,
			ExpiresAt:   link.ExpiresAt,
			Status:      link.Status,
			AccessCount: link.AccessCount,
			HasPassword: link.HasPassword(),
		}
		if blob, err := s.files.Get(link.FileID); err == nil {
			summary.Filename = blob.OriginalName
			summary.Size = blob.Size
		}
		out = append(out, summary)
	}
	return out
}

// GetDetails implements `getDetails` (§4.4).
func (s *Service) GetDetails(shareID string) (*models.ShareLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.shares[shareID]
	if !ok {
		return nil, errors.New(errors.CodeShareNotFound, "share not found")
	}
	s.lazilyExpire(link)
	cp := *link
	return &cp, nil
}

// Revoke implements `revoke` (§4.4).
func (s *Service) Revoke(shareID, actorUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.shares[shareID]
	if !ok {
		return errors.New(errors.CodeShareNotFound, "share not found")
	}
	if link.CreatedBy != actorUserID {
		return errors.New(errors.CodeUserNotAuthenticated, "only the creator may revoke this share")
	}
	link.Status = models.ShareRevoked
	return nil
}

// PermanentDelete implements `permanentDelete` (§4.4).
func (s *Service) PermanentDelete(shareID, actorUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.shares[shareID]
	if !ok {
		return errors.New(errors.CodeShareNotFound, "share not found")
	}
	if link.CreatedBy != actorUserID {
		return errors.New(errors.CodeUserNotAuthenticated, "only the creator may delete this share")
	}
	delete(s.shares, shareID)
	delete(s.logs, shareID)
	return nil
}

// GetAccessLogs implements `getAccessLogs` (§4.4), newest first.
func (s *Service) GetAccessLogs(shareID, actorUserID string, limit int) ([]models.ShareAccessLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.shares[shareID]
	if !ok {
		return nil, errors.New(errors.CodeShareNotFound, "share not found")
	}
	if link.CreatedBy != actorUserID {
		return nil, errors.New(errors.CodeUserNotAuthenticated, "only the creator may view access logs")
	}

	entries := s.logs[shareID]
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]models.ShareAccessLog, limit)
	for i := 0; i < limit; i++ {
		out[i] = entries[len(entries)-1-i]
	}
	return out, nil
}

// RevokeOwnedShares backs registry.RoomDestroyer's method of the same name
// (through the adapter in internal/server): revokes every share whose file
// belongs to roomKey.
func (s *Service) RevokeOwnedShares(roomKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, link := range s.shares {
		if link.Status != models.ShareActive {
			continue
		}
		if blob, err := s.files.Get(link.FileID); err == nil && blob.RoomKey == roomKey {
			link.Status = models.ShareRevoked
		}
	}
}

// lazilyExpire transitions an active share past its expiry to expired, per
// §4.4's status machine. Caller must hold s.mu.
func (s *Service) lazilyExpire(link *models.ShareLink) {
	if link.Status == models.ShareActive && time.Now().After(link.ExpiresAt) {
		link.Status = models.ShareExpired
	}
}

// GC implements the hourly garbage collection from §4.4: delete share
// records dead for more than 7 days, and access-log entries older than 30
// days.
func (s *Service) GC() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, link := range s.shares {
		s.lazilyExpire(link)
		if link.Status != models.ShareActive && now.Sub(link.ExpiresAt) > shareGCGrace {
			delete(s.shares, id)
			delete(s.logs, id)
		}
	}

	for id, entries := range s.logs {
		kept := entries[:0]
		for _, e := range entries {
			if now.Sub(e.Timestamp) <= logRetention {
				kept = append(kept, e)
			}
		}
		s.logs[id] = kept
	}
}

// AccessRequest carries everything `access` needs about the inbound HTTP
// request (§4.4 decision tree).
type AccessRequest struct {
	ShareID          string
	ProvidedPassword string
	HasCredentials   bool
	ClientIP         string
	UserAgent        string
}

// AccessResult is what the gateway needs to stream the file and set headers.
type AccessResult struct {
	Blob *models.FileBlob
}

// Access implements `access` (§4.4)'s full decision tree, logging every
// failed outcome except the password-challenge step. A successful access
// is logged by RecordStreamComplete once the stream has ended.
func (s *Service) Access(req AccessRequest) (*AccessResult, error) {
	s.mu.Lock()
	link, ok := s.shares[req.ShareID]
	if !ok {
		s.mu.Unlock()
		s.appendLog(req.ShareID, req, false, models.AccessErrorInvalid, 0)
		return nil, errors.New(errors.CodeShareNotFound, "share not found")
	}

	s.lazilyExpire(link)

	if link.Status == models.ShareRevoked {
		s.mu.Unlock()
		s.appendLog(req.ShareID, req, false, models.AccessErrorRevoked, 0)
		return nil, errors.New(errors.CodeShareNotFound, "share not found")
	}
	if link.Status == models.ShareExpired {
		s.mu.Unlock()
		s.appendLog(req.ShareID, req, false, models.AccessErrorExpired, 0)
		return nil, errors.New(errors.CodeShareExpired, "share link has expired")
	}

	passwordHash := link.PasswordHash
	hasPassword := link.HasPassword()
	fileID := link.FileID
	s.mu.Unlock()

	if hasPassword {
		if !req.HasCredentials {
			return nil, errors.New(errors.CodeAuthenticationRequired, "password required")
		}
		// bcrypt is deliberately slow; compare it outside s.mu so one
		// password check doesn't serialize every other share operation
		// behind it.
		if bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.ProvidedPassword)) != nil {
			s.appendLog(req.ShareID, req, false, models.AccessErrorWrongPassword, 0)
			return nil, errors.New(errors.CodeInvalidPassword, "incorrect password")
		}
	}

	blob, err := s.files.Get(fileID)
	if err != nil {
		s.appendLog(req.ShareID, req, false, models.AccessErrorFileNotFound, 0)
		return nil, errors.New(errors.CodeFileNotFound, "file no longer exists")
	}

	s.mu.Lock()
	link.AccessCount++
	link.LastAccessedAt = time.Now()
	s.mu.Unlock()

	return &AccessResult{Blob: blob}, nil
}

// RecordStreamComplete logs a successful access once the stream has
// finished, carrying the final byte count (§4.4 step 7).
func (s *Service) RecordStreamComplete(shareID string, req AccessRequest, bytesTransferred int64) {
	s.appendLog(shareID, req, true, models.AccessErrorNone, bytesTransferred)
}

func (s *Service) appendLog(shareID string, req AccessRequest, success bool, code models.AccessErrorCode, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[shareID] = append(s.logs[shareID], models.ShareAccessLog{
		ShareID:          shareID,
		Timestamp:        time.Now(),
		ClientIP:         req.ClientIP,
		UserAgent:        req.UserAgent,
		Success:          success,
		ErrorCode:        code,
		BytesTransferred: bytes,
	})
}
