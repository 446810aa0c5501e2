package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"reconcile/internal"
	"reconcile/internal/config"
	"reconcile/internal/connectors"
)

type Connector struct {
	host     string
	port     int
	secure   bool
	user     string
	password string
	markSeen bool
	log      *zap.Logger
}

func NewConnector(cfg config.Config, log *zap.Logger) (*Connector, error) {
	if err := cfg.Require("IMAP_HOST", cfg.IMAPHost); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_USER", cfg.IMAPUser); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_PASSWORD", cfg.IMAPPassword); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Connector{
		host:     cfg.IMAPHost,
		port:     cfg.IMAPPort,
		secure:   cfg.IMAPSecure,
		user:     cfg.IMAPUser,
		password: cfg.IMAPPassword,
		markSeen: cfg.IMAPMarkSeen,
		log:      log,
	}, nil
}

// FetchInbox returns up to max unseen messages of the mailbox, newest last.
func (c *Connector) FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error) {
	client, err := c.login(ctx, label)
	if err != nil {
		return nil, err
	}
	defer client.Logout()
	stop := context.AfterFunc(ctx, func() { _ = client.Terminate() })
	defer stop()

	unseen, err := unseenSet(client, max)
	if err != nil || unseen == nil {
		return nil, err
	}

	out, fetched, err := c.fetch(client, unseen)
	if err != nil {
		return nil, err
	}
	if c.markSeen && !fetched.Empty() {
		flags := []interface{}{imap.SeenFlag}
		if err := client.Store(fetched, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
			return nil, err
		}
	}

	c.log.Info("imap fetch", zap.String("mailbox", label), zap.Int("fetched", len(out)))
	return out, nil
}

func (c *Connector) login(ctx context.Context, mailbox string) (*imapclient.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	var client *imapclient.Client
	var err error
	if c.secure {
		client, err = imapclient.DialTLS(addr, &tls.Config{ServerName: c.host})
	} else {
		client, err = imapclient.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", addr, err)
	}
	if err := client.Login(c.user, c.password); err != nil {
		_ = client.Logout()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := client.Select(mailbox, false); err != nil {
		_ = client.Logout()
		return nil, fmt.Errorf("imap select %s: %w", mailbox, err)
	}
	return client, nil
}

// unseenSet returns nil when nothing is unseen.
func unseenSet(client *imapclient.Client, max int) (*imap.SeqSet, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := client.Search(criteria)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	if max > 0 && len(ids) > max {
		ids = ids[len(ids)-max:]
	}
	set := new(imap.SeqSet)
	set.AddNum(ids...)
	return set, nil
}

func (c *Connector) fetch(client *imapclient.Client, set *imap.SeqSet) ([]internal.FetchedMailMessage, *imap.SeqSet, error) {
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}
	messages := make(chan *imap.Message, 16)
	fetchDone := make(chan error, 1)
	go func() { fetchDone <- client.Fetch(set, items, messages) }()

	var out []internal.FetchedMailMessage
	fetched := new(imap.SeqSet)
	var readErr error
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil || readErr != nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			readErr = err
			continue
		}
		m, err := connectors.MessageFromRaw("imap", fmt.Sprintf("imap-%d", msg.Uid), raw, msg.InternalDate)
		if err != nil {
			c.log.Warn("skipping unparsable message", zap.Uint32("uid", msg.Uid), zap.Error(err))
			continue
		}
		out = append(out, m)
		fetched.AddNum(msg.SeqNum)
	}
	if err := <-fetchDone; err != nil {
		return nil, nil, err
	}
	return out, fetched, readErr
}
