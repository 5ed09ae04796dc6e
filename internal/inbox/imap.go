// Package inbox fetches candidate messages from an IMAP mailbox.
package inbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"gitlab.com/yelinaung/finmail/internal/config"
	"gitlab.com/yelinaung/finmail/internal/logger"
	"gitlab.com/yelinaung/finmail/internal/models"
)

const dialTimeout = 30 * time.Second

// IMAPInbox searches one mailbox. Each Search opens its own connection.
type IMAPInbox struct {
	cfg config.IMAPConfig
}

// NewIMAPInbox creates an inbox for the configured mailbox.
func NewIMAPInbox(cfg config.IMAPConfig) *IMAPInbox {
	if cfg.Mailbox == "" {
		cfg.Mailbox = config.DefaultIMAPMailbox
	}
	if cfg.MaxResults < 1 {
		cfg.MaxResults = config.DefaultIMAPMaxResults
	}
	return &IMAPInbox{cfg: cfg}
}

// Search returns the newest messages matching query, oldest first. Messages
// are fetched with BODY.PEEK so their seen flag is left alone.
func (i *IMAPInbox) Search(ctx context.Context, query string) ([]models.RawMessage, error) {
	criteria, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}

	c, err := i.connect()
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer func() {
		if stop() {
			_ = c.Logout()
		}
	}()

	msgs, err := i.search(c, criteria)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return msgs, err
}

func (i *IMAPInbox) connect() (*imapclient.Client, error) {
	addr := net.JoinHostPort(i.cfg.Host, strconv.Itoa(i.cfg.Port))
	dialer := &net.Dialer{Timeout: dialTimeout}

	var (
		c   *imapclient.Client
		err error
	)
	if i.cfg.TLS {
		c, err = imapclient.DialWithDialerTLS(dialer, addr, &tls.Config{
			ServerName: i.cfg.Host,
			MinVersion: tls.VersionTLS12,
		})
	} else {
		c, err = imapclient.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if err := c.Login(i.cfg.User, i.cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to log in: %w", err)
	}
	return c, nil
}

func (i *IMAPInbox) search(c *imapclient.Client, criteria *imap.SearchCriteria) ([]models.RawMessage, error) {
	if _, err := c.Select(i.cfg.Mailbox, true); err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", i.cfg.Mailbox, err)
	}

	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search mailbox: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > i.cfg.MaxResults {
		ids = ids[len(ids)-i.cfg.MaxResults:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}
	messages := make(chan *imap.Message, len(ids))
	fetchDone := make(chan error, 1)
	go func() { fetchDone <- c.Fetch(seqset, items, messages) }()

	out := make([]models.RawMessage, 0, len(ids))
	var readErr error
	for msg := range messages {
		if msg == nil || readErr != nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			readErr = fmt.Errorf("failed to read message body: %w", err)
			continue
		}

		fallback := envelope{uid: msg.Uid, internalDate: msg.InternalDate}
		if msg.Envelope != nil {
			fallback.messageID = msg.Envelope.MessageId
			fallback.subject = msg.Envelope.Subject
			fallback.from = formatAddresses(msg.Envelope.From)
		}

		parsed, err := parseMessage(raw, fallback)
		if err != nil {
			logger.Log.Warn().Err(err).Uint32("uid", msg.Uid).Msg("Skipping unparseable message")
			continue
		}
		out = append(out, parsed)
	}

	if err := <-fetchDone; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	if readErr != nil {
		return nil, readErr
	}

	logger.Log.Debug().Int("matched", len(ids)).Int("fetched", len(out)).Msg("Mailbox searched")
	return out, nil
}

func formatAddresses(addrs []*imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		email := strings.Trim(a.MailboxName+"@"+a.HostName, "@")
		if a.PersonalName != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.PersonalName, email))
		} else {
			parts = append(parts, email)
		}
	}
	return strings.Join(parts, ", ")
}
