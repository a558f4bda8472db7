// Package validation declares the schema for every inbound payload — HTTP
// body and websocket event alike — as a single source of truth shared by
// both transports (§4.1). Each payload type implements ozzo-validation's
// Validatable interface so the gateway can call payload.Validate() exactly
// the same way regardless of which transport it arrived on.
package validation

import (
	"regexp"
	"unicode"

	v "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/clipshare/server/internal/errors"
)

// Validatable is implemented by every payload type in this package; the
// gateway calls it identically regardless of which transport decoded the
// payload.
type Validatable interface {
	Validate() error
}

var (
	roomKeyRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{6,50}$`)
	hasLetter    = regexp.MustCompile(`[A-Za-z]`)
	hasDigit     = regexp.MustCompile(`[0-9]`)
)

// roomKeyRule enforces §3's room-key invariant: 6-50 alnum/_/-, containing
// at least one letter AND one digit. ozzo's regexp rule alone can't express
// the "at least one of each" clause, so it's a custom rule.
type roomKeyRule struct{}

func (roomKeyRule) Validate(value interface{}) error {
	s, _ := value.(string)
	if !roomKeyRegex.MatchString(s) {
		return errValidation("room key must be 6-50 characters of letters, digits, _ or -")
	}
	if !hasLetter.MatchString(s) || !hasDigit.MatchString(s) {
		return errValidation("room key must contain at least one letter and one digit")
	}
	return nil
}

func errValidation(msg string) error { return v.NewError("invalid_payload", msg) }

// ValidateRoomKey validates a bare room-key string (used by REST handlers
// that take it from a header or query param rather than a JSON body).
func ValidateRoomKey(key string) error {
	if err := v.Validate(key, v.Required, roomKeyRule{}); err != nil {
		return errors.New(errors.CodeInvalidPayload, err.Error())
	}
	return nil
}

// displayNameRule enforces §3: <=50 chars, visible-printable + CJK range,
// no leading/trailing whitespace.
type displayNameRule struct{}

func (displayNameRule) Validate(value interface{}) error {
	s, _ := value.(string)
	trimmed := []rune(s)
	if len(trimmed) == 0 || len(trimmed) > 50 {
		return errValidation("display name must be 1-50 characters")
	}
	if unicode.IsSpace(trimmed[0]) || unicode.IsSpace(trimmed[len(trimmed)-1]) {
		return errValidation("display name must not have leading or trailing whitespace")
	}
	for _, r := range trimmed {
		if !isVisiblePrintableOrCJK(r) {
			return errValidation("display name contains a disallowed character")
		}
	}
	return nil
}

func isVisiblePrintableOrCJK(r rune) bool {
	if r == ' ' || unicode.IsPrint(r) {
		if unicode.IsControl(r) {
			return false
		}
		return true
	}
	// CJK Unified Ideographs and common extensions.
	return r >= 0x4E00 && r <= 0x9FFF
}

func ValidateDisplayName(name string) error {
	if err := v.Validate(name, displayNameRule{}); err != nil {
		return errors.New(errors.CodeInvalidPayload, err.Error())
	}
	return nil
}

// JoinRoomPayload is the `joinRoom` / `joinRoomWithPassword` event body.
type JoinRoomPayload struct {
	RoomKey     string `json:"roomKey"`
	Fingerprint string `json:"fingerprint"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password,omitempty"`
}

func (p JoinRoomPayload) Validate() error {
	return v.ValidateStruct(&p,
		v.Field(&p.RoomKey, v.Required, roomKeyRule{}),
		v.Field(&p.Fingerprint, v.Required, v.Length(1, 256)),
		v.Field(&p.DisplayName, v.Required, displayNameRule{}),
		v.Field(&p.Password, v.Length(0, 128)),
	)
}

// LeaveRoomPayload is the `leaveRoom` event body.
type LeaveRoomPayload struct {
	RoomKey string `json:"roomKey"`
}

func (p LeaveRoomPayload) Validate() error {
	return v.ValidateStruct(&p, v.Field(&p.RoomKey, v.Required, roomKeyRule{}))
}

// SendMessagePayload is the `sendMessage` event body. Exactly one of Text /
// FileID is set, matching the closed Message union (§3, §9).
type SendMessagePayload struct {
	RoomKey string `json:"roomKey"`
	Text    string `json:"text,omitempty"`
	FileID  string `json:"fileId,omitempty"`
}

func (p SendMessagePayload) Validate() error {
	if (p.Text == "") == (p.FileID == "") {
		return errValidation("exactly one of text or fileId must be set")
	}
	if p.Text != "" {
		if err := validateMessageText(p.Text); err != nil {
			return err
		}
	}
	return v.ValidateStruct(&p, v.Field(&p.RoomKey, v.Required, roomKeyRule{}))
}

// validateMessageText enforces §3: 1-50000 chars, lines <=10000 chars,
// <=1000 lines.
func validateMessageText(text string) error {
	if n := len([]rune(text)); n == 0 || n > 50000 {
		return errValidation("text must be 1-50000 characters")
	}
	lines := splitLines(text)
	if len(lines) > 1000 {
		return errValidation("text must not exceed 1000 lines")
	}
	for _, line := range lines {
		if len([]rune(line)) > 10000 {
			return errValidation("no line may exceed 10000 characters")
		}
	}
	return nil
}

func splitLines(s string) []string {
	lines := []string{""}
	for _, r := range s {
		if r == '\n' {
			lines = append(lines, "")
			continue
		}
		lines[len(lines)-1] += string(r)
	}
	return lines
}

// RequestUserListPayload is the `requestUserList` event body.
type RequestUserListPayload struct {
	RoomKey string `json:"roomKey"`
}

func (p RequestUserListPayload) Validate() error {
	return v.ValidateStruct(&p, v.Field(&p.RoomKey, v.Required, roomKeyRule{}))
}

// SetRoomPasswordPayload is the `setRoomPassword` event body. Mode carries
// the four-variant sentinel resolving Open Question #2 (§9): "none" is
// never sent over the wire (it's the zero state prior to any change).
type SetRoomPasswordPayload struct {
	RoomKey   string `json:"roomKey"`
	Mode      string `json:"mode"` // "generate" | "remove" | "set"
	Plaintext string `json:"password,omitempty"`
}

func (p SetRoomPasswordPayload) Validate() error {
	return v.ValidateStruct(&p,
		v.Field(&p.RoomKey, v.Required, roomKeyRule{}),
		v.Field(&p.Mode, v.Required, v.In("generate", "remove", "set")),
		v.Field(&p.Plaintext, v.When(p.Mode == "set", v.Required, v.Length(1, 128))),
	)
}

// ShareRoomLinkPayload is the `shareRoomLink` event body.
type ShareRoomLinkPayload struct {
	RoomKey string `json:"roomKey"`
}

func (p ShareRoomLinkPayload) Validate() error {
	return v.ValidateStruct(&p, v.Field(&p.RoomKey, v.Required, roomKeyRule{}))
}

// RecallMessagePayload is the `recallMessage` event body.
type RecallMessagePayload struct {
	RoomKey   string `json:"roomKey"`
	MessageID string `json:"messageId"`
}

func (p RecallMessagePayload) Validate() error {
	return v.ValidateStruct(&p,
		v.Field(&p.RoomKey, v.Required, roomKeyRule{}),
		v.Field(&p.MessageID, v.Required),
	)
}

// PinRoomPayload is the `pinRoom` event body.
type PinRoomPayload struct {
	RoomKey string `json:"roomKey"`
	Pinned  bool   `json:"pinned"`
}

func (p PinRoomPayload) Validate() error {
	return v.ValidateStruct(&p, v.Field(&p.RoomKey, v.Required, roomKeyRule{}))
}

// P2PSignalPayload covers p2pOffer/p2pAnswer/p2pIceCandidate: the server
// routes them to a named recipient without inspecting the rest (§4.5).
type P2PSignalPayload struct {
	RoomKey     string          `json:"roomKey"`
	ToUserID    string          `json:"toUserId"`
	Signal      interface{}     `json:"signal"`
}

func (p P2PSignalPayload) Validate() error {
	return v.ValidateStruct(&p,
		v.Field(&p.RoomKey, v.Required, roomKeyRule{}),
		v.Field(&p.ToUserID, v.Required),
	)
}

// ValidateUserRequest is the POST /api/rooms/validate-user body.
type ValidateUserRequest struct {
	RoomKey         string `json:"roomKey"`
	UserFingerprint string `json:"userFingerprint"`
}

func (p ValidateUserRequest) Validate() error {
	return v.ValidateStruct(&p,
		v.Field(&p.RoomKey, v.Required, roomKeyRule{}),
		v.Field(&p.UserFingerprint, v.Required),
	)
}

// CreateShareRequest is the POST /api/share body.
type CreateShareRequest struct {
	FileID         string `json:"fileId"`
	ExpiresInDays  int    `json:"expiresInDays,omitempty"`
	Password       string `json:"password,omitempty"` // "auto-generate" requests server-side generation
}

func (p CreateShareRequest) Validate() error {
	return v.ValidateStruct(&p,
		v.Field(&p.FileID, v.Required),
		v.Field(&p.ExpiresInDays, v.In(0, 1, 3, 7, 15, 30)),
	)
}
