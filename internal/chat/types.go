package chat

import (
	"encoding/json"
	"time"
)

// Attachment is a file shared in a message
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	URL      string `json:"url"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Reaction is one user's emoji on a message
type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"userId"`
}

// MessageMetadata holds delivery and edit bookkeeping
type MessageMetadata struct {
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
	EditedAt    *time.Time `json:"editedAt,omitempty"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
	Edited      bool       `json:"edited,omitempty"`
	Deleted     bool       `json:"deleted,omitempty"`
	ReplyTo     string     `json:"replyTo,omitempty"`
}

// Message is a single chat message
type Message struct {
	ID          string           `json:"id"`
	SenderID    string           `json:"senderId"`
	ReceiverID  string           `json:"receiverId"`
	Content     string           `json:"content"`
	Timestamp   time.Time        `json:"timestamp"`
	Read        bool             `json:"read"`
	Type        string           `json:"type,omitempty"` // text, image, file, workout
	Attachments []Attachment     `json:"attachments,omitempty"`
	Reactions   []Reaction       `json:"reactions,omitempty"`
	Metadata    *MessageMetadata `json:"metadata,omitempty"`
}

// Conversation is a thread between two or more participants
type Conversation struct {
	ID              string     `json:"id"`
	Participants    []string   `json:"participants"`
	LastMessage     *Message   `json:"lastMessage,omitempty"`
	UnreadCount     int        `json:"unreadCount"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	LastReadAt      *time.Time `json:"lastReadAt,omitempty"`
	IsGroup         bool       `json:"isGroup,omitempty"`
	GroupName       string     `json:"groupName,omitempty"`
	GroupAvatar     string     `json:"groupAvatar,omitempty"`
	Encrypted       bool       `json:"encrypted,omitempty"`
	EncryptionKeyID string     `json:"encryptionKeyId,omitempty"`
}

// User is a chat participant
type User struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Avatar      string            `json:"avatar,omitempty"`
	Status      string            `json:"status"` // online, offline, away
	LastSeen    *time.Time        `json:"lastSeen,omitempty"`
	PublicKey   string            `json:"publicKey,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

// Settings are the chat-wide user preferences
type Settings struct {
	Background       string `json:"background"`
	Notifications    bool   `json:"notifications"`
	Encryption       bool   `json:"encryption"`
	ReadReceipts     bool   `json:"readReceipts,omitempty"`
	TypingIndicators bool   `json:"typingIndicators,omitempty"`
	AutoBackup       bool   `json:"autoBackup,omitempty"`
}

// DefaultSettings is returned when no settings were ever saved.
func DefaultSettings() Settings {
	return Settings{
		Background:    "default",
		Notifications: true,
		Encryption:    true,
	}
}

// Stored dates are RFC 3339 strings. Decoding is lenient: a required date
// that fails to parse becomes the current time, an optional one is dropped.

var nowFunc = time.Now

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func requiredTime(s string) time.Time {
	if t, ok := parseTime(s); ok {
		return t
	}
	return nowFunc().UTC()
}

func optionalTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, ok := parseTime(*s)
	if !ok {
		return nil
	}
	return &t
}

type metadataRecord struct {
	DeliveredAt *string `json:"deliveredAt,omitempty"`
	ReadAt      *string `json:"readAt,omitempty"`
	EditedAt    *string `json:"editedAt,omitempty"`
	DeletedAt   *string `json:"deletedAt,omitempty"`
	Edited      bool    `json:"edited,omitempty"`
	Deleted     bool    `json:"deleted,omitempty"`
	ReplyTo     string  `json:"replyTo,omitempty"`
}

// MarshalJSON stores dates as RFC 3339 strings
func (m MessageMetadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(metadataRecord{
		DeliveredAt: formatTimePtr(m.DeliveredAt),
		ReadAt:      formatTimePtr(m.ReadAt),
		EditedAt:    formatTimePtr(m.EditedAt),
		DeletedAt:   formatTimePtr(m.DeletedAt),
		Edited:      m.Edited,
		Deleted:     m.Deleted,
		ReplyTo:     m.ReplyTo,
	})
}

// UnmarshalJSON rehydrates the four optional dates
func (m *MessageMetadata) UnmarshalJSON(data []byte) error {
	var rec metadataRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*m = MessageMetadata{
		DeliveredAt: optionalTime(rec.DeliveredAt),
		ReadAt:      optionalTime(rec.ReadAt),
		EditedAt:    optionalTime(rec.EditedAt),
		DeletedAt:   optionalTime(rec.DeletedAt),
		Edited:      rec.Edited,
		Deleted:     rec.Deleted,
		ReplyTo:     rec.ReplyTo,
	}
	return nil
}

// messageAlias strips Message's methods to avoid recursing into them.
type messageAlias Message

type messageRecord struct {
	messageAlias
	Timestamp string `json:"timestamp"`
}

// MarshalJSON stores the timestamp as an RFC 3339 string
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageRecord{
		messageAlias: messageAlias(m),
		Timestamp:    formatTime(m.Timestamp),
	})
}

// UnmarshalJSON rehydrates the timestamp, defaulting to now when unparsable
func (m *Message) UnmarshalJSON(data []byte) error {
	var rec messageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*m = Message(rec.messageAlias)
	m.Timestamp = requiredTime(rec.Timestamp)
	return nil
}

type conversationAlias Conversation

type conversationRecord struct {
	conversationAlias
	CreatedAt  string  `json:"createdAt"`
	UpdatedAt  string  `json:"updatedAt"`
	LastReadAt *string `json:"lastReadAt,omitempty"`
}

// MarshalJSON stores dates as RFC 3339 strings
func (c Conversation) MarshalJSON() ([]byte, error) {
	return json.Marshal(conversationRecord{
		conversationAlias: conversationAlias(c),
		CreatedAt:         formatTime(c.CreatedAt),
		UpdatedAt:         formatTime(c.UpdatedAt),
		LastReadAt:        formatTimePtr(c.LastReadAt),
	})
}

// UnmarshalJSON rehydrates createdAt and updatedAt (now when unparsable)
// and lastReadAt (dropped when unparsable)
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var rec conversationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*c = Conversation(rec.conversationAlias)
	c.CreatedAt = requiredTime(rec.CreatedAt)
	c.UpdatedAt = requiredTime(rec.UpdatedAt)
	c.LastReadAt = optionalTime(rec.LastReadAt)
	return nil
}

type userAlias User

type userRecord struct {
	userAlias
	LastSeen *string `json:"lastSeen,omitempty"`
}

// MarshalJSON stores lastSeen as an RFC 3339 string
func (u User) MarshalJSON() ([]byte, error) {
	return json.Marshal(userRecord{
		userAlias: userAlias(u),
		LastSeen:  formatTimePtr(u.LastSeen),
	})
}

// UnmarshalJSON rehydrates lastSeen, dropping it when unparsable
func (u *User) UnmarshalJSON(data []byte) error {
	var rec userRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*u = User(rec.userAlias)
	u.LastSeen = optionalTime(rec.LastSeen)
	return nil
}
