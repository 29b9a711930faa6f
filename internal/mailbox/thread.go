package mailbox

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ReadState maps a thread ID to the instant the owner last opened it.
type ReadState map[string]time.Time

type Thread struct {
	ID       string    `json:"id"`
	Subject  string    `json:"subject"`
	Messages []Message `json:"messages"`
	IsUnread bool      `json:"isUnread"`
}

// Latest returns the newest message of the thread.
func (t Thread) Latest() Message {
	if len(t.Messages) == 0 {
		return Message{}
	}
	return t.Messages[0]
}

func (t Thread) LatestAt() time.Time {
	if len(t.Messages) == 0 {
		return Epoch
	}
	return NormalizeTimestamp(t.Messages[0].Timestamp.Time)
}

// Assemble groups messages into threads for the user at address me.
// Messages inside a thread and threads overall are ordered newest first;
// equal timestamps fall back to ascending ID so the output is stable.
// Messages without an ID or thread ID cannot be addressed and are dropped.
func Assemble(messages []Message, me string, read ReadState) []Thread {
	index := map[string]int{}
	var threads []Thread
	for _, message := range messages {
		id := message.Thread()
		if id == "" {
			continue
		}
		pos, ok := index[id]
		if !ok {
			pos = len(threads)
			index[id] = pos
			threads = append(threads, Thread{ID: id, Subject: message.Subject})
		}
		threads[pos].Messages = append(threads[pos].Messages, message)
	}

	for i := range threads {
		thread := &threads[i]
		sort.SliceStable(thread.Messages, func(a, b int) bool {
			return newerMessage(thread.Messages[a], thread.Messages[b])
		})
		thread.IsUnread = isUnread(*thread, me, read)
	}

	sort.SliceStable(threads, func(a, b int) bool {
		ta, tb := threads[a].LatestAt(), threads[b].LatestAt()
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return threads[a].ID < threads[b].ID
	})
	return threads
}

func newerMessage(a, b Message) bool {
	ta := NormalizeTimestamp(a.Timestamp.Time)
	tb := NormalizeTimestamp(b.Timestamp.Time)
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return a.ID < b.ID
}

func isUnread(thread Thread, me string, read ReadState) bool {
	latest := thread.Latest()
	if latest.SentBy(me) {
		return false
	}
	lastRead := Epoch
	if at, ok := read[thread.ID]; ok {
		lastRead = NormalizeTimestamp(at)
	}
	return thread.LatestAt().After(lastRead)
}

// NewThreadID derives the identifier for a new conversation from its
// participants and the send time.
func NewThreadID(participants []string, now time.Time) string {
	normalized := make([]string, 0, len(participants))
	for _, p := range participants {
		if addr := NormalizeAddress(p); addr != "" {
			normalized = append(normalized, addr)
		}
	}
	sort.Strings(normalized)
	return fmt.Sprintf("%s-%d", strings.Join(normalized, "-"), now.UnixMilli())
}
