// Package record defines the append-only, content-addressed records that
// hold message bodies, attachments, drive uploads and automation rules.
package record

import (
	"encoding/base32"
	"encoding/binary"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// App names tag which feature a record belongs to.
const (
	AppEmail        = "Bridgbox-Email-Lit"
	AppZaps         = "Bridgbox-Zaps"
	AppEscrows      = "Bridgbox-Escrows"
	AppDeactivation = "Bridgbox-Deactivation"
	AppDrive        = "Bridgbox-Drive"
)

// Well-known tag names.
const (
	TagContentType = "Content-Type"
	TagAppName     = "App-Name"
	TagThreadID    = "Thread-ID"
	TagRecipient   = "Recipient"
	TagDeactivates = "Deactivates"
)

const idDomain = "bridgbox.record.id v1"

var idEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Tags []Tag

// Get returns the first value for name.
func (t Tags) Get(name string) (string, bool) {
	for _, tag := range t {
		if tag.Name == name {
			return tag.Value, true
		}
	}
	return "", false
}

func (t Tags) Values(name string) []string {
	var values []string
	for _, tag := range t {
		if tag.Name == name {
			values = append(values, tag.Value)
		}
	}
	return values
}

// Record is one upload. Owner is the lowercased address that wrote it.
type Record struct {
	ID        string
	Owner     string
	Tags      Tags
	Data      []byte
	Size      int64
	CreatedAt time.Time
}

func (r Record) ContentType() string {
	if value, ok := r.Tags.Get(TagContentType); ok && value != "" {
		return value
	}
	return "application/octet-stream"
}

// ID derives the content address of an upload. Owner, tags (in order) and
// data all feed the hash, each length-prefixed.
func ID(owner string, tags Tags, data []byte) string {
	hasher := blake3.NewDeriveKey(idDomain)
	writeField(hasher, []byte(strings.ToLower(owner)))
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(len(tags)))
	_, _ = hasher.Write(count[:])
	for _, tag := range tags {
		writeField(hasher, []byte(tag.Name))
		writeField(hasher, []byte(tag.Value))
	}
	writeField(hasher, data)
	return idEncoding.EncodeToString(hasher.Sum(nil))
}

func writeField(hasher *blake3.Hasher, field []byte) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(field)))
	_, _ = hasher.Write(length[:])
	_, _ = hasher.Write(field)
}

type Order int

const (
	Newest Order = iota
	Oldest
)

// Query selects records. Every tag name in Tags must be present with one
// of the listed values. Owners, when set, restricts the writer.
type Query struct {
	Tags   map[string][]string
	Owners []string
	Order  Order
	Limit  int
}
