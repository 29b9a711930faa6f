package smtpserver

import (
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/bridgbox/bridgbox/internal/mailbox"
)

// OpenFunc returns the stored bytes of an attachment by content ID.
type OpenFunc func(contentID string) ([]byte, error)

// MessageID is the RFC 5322 Message-ID of a stored message, without angle
// brackets. Replies that reference it are threaded back by the gateway.
func MessageID(recordID, domain string) string {
	return recordID + "@" + domain
}

// Export writes msg as an RFC 5322 message. Bcc recipients are never
// written. Wallet addresses are qualified with domain.
func Export(w io.Writer, msg mailbox.Message, domain string, open OpenFunc) error {
	var h mail.Header
	h.SetDate(msg.Timestamp.Time)
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", addressList(domain, msg.From))
	h.SetAddressList("To", addressList(domain, msg.Recipients.To...))
	if len(msg.Recipients.Cc) > 0 {
		h.SetAddressList("Cc", addressList(domain, msg.Recipients.Cc...))
	}
	if msg.ID != "" {
		h.SetMessageID(MessageID(msg.ID, domain))
	}
	if msg.ThreadID != "" {
		h.Set(ThreadHeader, msg.ThreadID)
	}

	var body mail.InlineHeader
	body.SetContentType(bodyType(msg.Body), map[string]string{"charset": "utf-8"})

	if len(msg.Attachments) == 0 {
		h.SetContentType(bodyType(msg.Body), map[string]string{"charset": "utf-8"})
		bw, err := mail.CreateSingleInlineWriter(w, h)
		if err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		if _, err := io.WriteString(bw, msg.Body); err != nil {
			return fmt.Errorf("write body: %w", err)
		}
		return bw.Close()
	}

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bw, err := mw.CreateSingleInline(body)
	if err != nil {
		return fmt.Errorf("create body part: %w", err)
	}
	if _, err := io.WriteString(bw, msg.Body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := bw.Close(); err != nil {
		return fmt.Errorf("close body part: %w", err)
	}

	for _, att := range msg.Attachments {
		data, err := open(att.ContentID)
		if err != nil {
			return fmt.Errorf("open attachment %s: %w", att.FileName, err)
		}
		var ah mail.AttachmentHeader
		mime := att.MimeType
		if mime == "" {
			mime = "application/octet-stream"
		}
		ah.SetContentType(mime, nil)
		ah.SetFilename(att.FileName)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return fmt.Errorf("create attachment %s: %w", att.FileName, err)
		}
		if _, err := aw.Write(data); err != nil {
			return fmt.Errorf("write attachment %s: %w", att.FileName, err)
		}
		if err := aw.Close(); err != nil {
			return fmt.Errorf("close attachment %s: %w", att.FileName, err)
		}
	}
	return mw.Close()
}

func addressList(domain string, addresses ...string) []*mail.Address {
	list := make([]*mail.Address, 0, len(addresses))
	for _, address := range addresses {
		address = mailbox.NormalizeAddress(address)
		if address == "" {
			continue
		}
		if !strings.Contains(address, "@") {
			address += "@" + domain
		}
		list = append(list, &mail.Address{Address: address})
	}
	return list
}

func bodyType(body string) string {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "<") && strings.HasSuffix(trimmed, ">") {
		return "text/html"
	}
	return "text/plain"
}
