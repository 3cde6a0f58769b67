package message

import "time"

// Origin tags who produced a message. AI and system messages carry no user
// reference; SenderName alone labels them.
type Origin string

const (
	OriginUser   Origin = "user"
	OriginAI     Origin = "ai"
	OriginSystem Origin = "system"
)

// Kind is the payload type.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindFile  Kind = "file"
)

// Message is immutable once appended; only ReadBy grows, monotonically, and
// messages are never deleted in normal operation.
type Message struct {
	ID          string    `json:"id"`
	Sender      Origin    `json:"sender"`
	SenderName  string    `json:"sender_name"`
	Content     string    `json:"content"`
	IsEncrypted bool      `json:"is_encrypted"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        Kind      `json:"kind"`
	FileName    string    `json:"file_name,omitempty"`
	FileSize    int64     `json:"file_size,omitempty"`
	ReadBy      []string  `json:"read_by"`
}

// ReadBy reports whether the reader already acknowledged the message.
func (m *Message) HasRead(readerID string) bool {
	for _, r := range m.ReadBy {
		if r == readerID {
			return true
		}
	}
	return false
}
