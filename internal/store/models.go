package store

import "time"

type User struct {
	Address     string
	Username    string
	DisplayName string
	CreatedAt   time.Time
	LastLogin   time.Time
}

// Profile is the per-user annotation layered over immutable mail: read
// instants and the threads hidden from each box.
type Profile struct {
	User
	ReadTimestamps map[string]time.Time
	Hidden         map[string]map[string]struct{}
}

type Contact struct {
	ID        string
	Owner     string
	Name      string
	Address   string
	CreatedAt time.Time
}

type Note struct {
	ID        string
	Owner     string
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DriveFile struct {
	ID         string
	Owner      string
	FileName   string
	RecordID   string
	Size       int64
	MimeType   string
	SharedWith []string
	CreatedAt  time.Time
}

type Notification struct {
	ID        string
	Address   string
	Payload   []byte
	CreatedAt time.Time
}
