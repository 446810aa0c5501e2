package connectors

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"reconcile/internal"
)

// MessageFromRaw fills the envelope fields of a fetched message from its raw
// RFC 822 bytes. fallbackID is used when the message has no Message-ID and
// received when it carries no parsable Date.
func MessageFromRaw(provider, fallbackID string, raw []byte, received time.Time) (internal.FetchedMailMessage, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return internal.FetchedMailMessage{}, fmt.Errorf("parse %s message %s: %w", provider, fallbackID, err)
	}

	messageID := strings.TrimSpace(env.GetHeader("Message-ID"))
	if messageID == "" {
		messageID = fallbackID
	}
	if date := env.GetHeader("Date"); date != "" {
		if t, err := mail.ParseDate(date); err == nil {
			received = t
		}
	}
	if received.IsZero() {
		received = time.Now()
	}

	return internal.FetchedMailMessage{
		Provider:   provider,
		MessageID:  messageID,
		Subject:    env.GetHeader("Subject"),
		From:       env.GetHeader("From"),
		ReceivedAt: received.UTC().Format(time.RFC3339),
		Raw:        raw,
	}, nil
}
