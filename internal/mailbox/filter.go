package mailbox

import "strings"

type Box string

const (
	BoxInbox Box = "inbox"
	BoxSent  Box = "sent"
	BoxAll   Box = "all"
)

func ParseBox(value string) (Box, bool) {
	switch Box(strings.ToLower(strings.TrimSpace(value))) {
	case "", BoxInbox:
		return BoxInbox, true
	case BoxSent:
		return BoxSent, true
	case BoxAll:
		return BoxAll, true
	default:
		return "", false
	}
}

// Filter narrows assembled threads to a box for the user at me. Threads
// whose IDs are in hidden are dropped. A non-empty query must appear in the
// subject or in the body of the newest message.
func Filter(threads []Thread, me string, box Box, hidden map[string]struct{}, query string) []Thread {
	query = strings.ToLower(strings.TrimSpace(query))
	result := make([]Thread, 0, len(threads))
	for _, thread := range threads {
		if _, ok := hidden[thread.ID]; ok && box != BoxAll {
			continue
		}
		if !inBox(thread, me, box) {
			continue
		}
		if query != "" && !matchesQuery(thread, query) {
			continue
		}
		result = append(result, thread)
	}
	return result
}

func inBox(thread Thread, me string, box Box) bool {
	switch box {
	case BoxInbox:
		for _, message := range thread.Messages {
			if message.AddressedTo(me) {
				return true
			}
		}
		return false
	case BoxSent:
		for _, message := range thread.Messages {
			if message.SentBy(me) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func matchesQuery(thread Thread, query string) bool {
	if strings.Contains(strings.ToLower(thread.Subject), query) {
		return true
	}
	return strings.Contains(strings.ToLower(thread.Latest().Body), query)
}

// UnreadCount counts unread inbox threads that are not hidden and whose
// newest message came from someone else.
func UnreadCount(threads []Thread, me string, hidden map[string]struct{}) int {
	count := 0
	for _, thread := range threads {
		if _, ok := hidden[thread.ID]; ok {
			continue
		}
		if thread.IsUnread && !thread.Latest().SentBy(me) {
			count++
		}
	}
	return count
}
