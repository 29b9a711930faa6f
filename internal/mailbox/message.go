// Package mailbox assembles stored messages into display-ready
// conversation threads.
package mailbox

import (
	"strings"
)

type Recipients struct {
	To  []string `json:"to"`
	Cc  []string `json:"cc"`
	Bcc []string `json:"bcc"`
}

// All returns every recipient address, lowercased and deduplicated,
// in to, cc, bcc order.
func (r Recipients) All() []string {
	seen := map[string]struct{}{}
	var all []string
	for _, group := range [][]string{r.To, r.Cc, r.Bcc} {
		for _, addr := range group {
			normalized := NormalizeAddress(addr)
			if normalized == "" {
				continue
			}
			if _, ok := seen[normalized]; ok {
				continue
			}
			seen[normalized] = struct{}{}
			all = append(all, normalized)
		}
	}
	return all
}

type Attachment struct {
	FileName  string `json:"fileName"`
	ContentID string `json:"irysTxId"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
}

type Payment struct {
	Amount string `json:"amount"`
	Token  string `json:"token,omitempty"`
	TxHash string `json:"txHash,omitempty"`
}

// Message is a single stored email. It is never modified after upload;
// read and deleted state live in the owner's profile.
type Message struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	Recipients  Recipients   `json:"recipients"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Timestamp   Timestamp    `json:"timestamp"`
	Attachments []Attachment `json:"attachments"`
	Payment     *Payment     `json:"payment"`
	ThreadID    string       `json:"threadId"`
}

// Thread returns the identifier the message is grouped under.
func (m Message) Thread() string {
	if m.ThreadID != "" {
		return m.ThreadID
	}
	return m.ID
}

func (m Message) SentBy(address string) bool {
	return NormalizeAddress(m.From) == NormalizeAddress(address)
}

func (m Message) AddressedTo(address string) bool {
	target := NormalizeAddress(address)
	for _, addr := range m.Recipients.To {
		if NormalizeAddress(addr) == target {
			return true
		}
	}
	return false
}

// Participants returns the sender followed by every recipient.
func (m Message) Participants() []string {
	participants := []string{NormalizeAddress(m.From)}
	for _, addr := range m.Recipients.All() {
		if addr != participants[0] {
			participants = append(participants, addr)
		}
	}
	return participants
}

func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
