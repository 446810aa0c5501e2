package connectors

import (
	"context"

	"reconcile/internal"
)

type MailConnector interface {
	FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error)
}

type EmailStore interface {
	UpsertEmail(ctx context.Context, msg internal.FetchedMailMessage, hash, rawRef, status string) (internal.EmailRow, error)
}
