package smtpserver

import (
	"bytes"
	"errors"
	"html"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/bridgbox/bridgbox/internal/compose"
)

// ThreadHeader carries a Bridgbox thread ID on exported and inbound mail.
const ThreadHeader = "X-Bridgbox-Thread"

// Inbound is a parsed SMTP message before it is stored.
type Inbound struct {
	From        string
	Subject     string
	Date        time.Time
	Text        string
	HTML        string
	Attachments []compose.Upload
	// References holds In-Reply-To followed by References, without angle
	// brackets.
	References []string
	ThreadHint string
}

// Body prefers the HTML alternative. Plain text is escaped and kept on
// its own lines.
func (in Inbound) Body() string {
	if in.HTML != "" {
		return in.HTML
	}
	return textToHTML(in.Text)
}

func textToHTML(text string) string {
	text = strings.TrimRight(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if text == "" {
		return ""
	}
	return "<p>" + strings.ReplaceAll(html.EscapeString(text), "\n", "<br>\n") + "</p>"
}

// parseMessage returns whatever it could read even when it also returns
// an error.
func parseMessage(raw []byte) (Inbound, error) {
	var in Inbound
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return in, err
	}
	defer reader.Close()

	if subject, err := reader.Header.Subject(); err == nil {
		in.Subject = subject
	}
	if fromList, err := reader.Header.AddressList("From"); err == nil && len(fromList) > 0 {
		in.From = normalizeEmail(fromList[0].Address)
	}
	if date, err := reader.Header.Date(); err == nil {
		in.Date = date
	}
	for _, key := range []string{"In-Reply-To", "References"} {
		ids, err := reader.Header.MsgIDList(key)
		if err != nil {
			continue
		}
		in.References = append(in.References, ids...)
	}
	in.ThreadHint = strings.TrimSpace(reader.Header.Get(ThreadHeader))

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return in, err
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
				in.Text = appendBody(in.Text, string(body))
			case strings.HasPrefix(mediaType, "text/html"):
				in.HTML = appendBody(in.HTML, string(body))
			}
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			if strings.TrimSpace(filename) == "" {
				filename = "attachment"
			}
			contentType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			in.Attachments = append(in.Attachments, compose.Upload{
				FileName: filename,
				MimeType: contentType,
				Data:     body,
			})
		}
	}
	return in, nil
}

func appendBody(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "\n" + next
}
