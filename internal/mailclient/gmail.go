package mailclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strings"
	"sync"
	"time"

	"tcg-inventory/internal/util"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	userID        = "me"
	maxListResult = 100
	unreadLabel   = "UNREAD"
)

// ErrEmptyBody is returned when a message has no readable text part
var ErrEmptyBody = errors.New("message has no readable body")

// Filter selects candidate order notifications
type Filter struct {
	Sender       string
	Subject      string
	ExcludeLabel string
}

// Query renders the filter in Gmail search syntax
func (f Filter) Query() string {
	var parts []string
	if f.Sender != "" {
		parts = append(parts, "from:"+f.Sender)
	}
	if f.Subject != "" {
		parts = append(parts, fmt.Sprintf("subject:%q", f.Subject))
	}
	if f.ExcludeLabel != "" {
		parts = append(parts, "-label:"+strings.ReplaceAll(f.ExcludeLabel, " ", "-"))
	}
	return strings.Join(parts, " ")
}

// Message is the part of a mail the ingestion pipeline reads
type Message struct {
	ID         string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// Config holds OAuth client settings
type Config struct {
	ClientID     string
	ClientSecret string
	TokenFile    string
	HandledLabel string
}

// GmailClient talks to the Gmail API on behalf of one mailbox
type GmailClient struct {
	svc          *gmail.Service
	handledLabel string
	logger       *zap.Logger

	mu      sync.Mutex
	labelID string
}

// NewGmailClient creates a client from an OAuth token file
func NewGmailClient(ctx context.Context, cfg Config) (*GmailClient, error) {
	token, err := loadToken(cfg.TokenFile)
	if err != nil {
		return nil, err
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailModifyScope},
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(oauthCfg.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return NewWithService(svc, cfg.HandledLabel), nil
}

// NewWithService wraps an existing Gmail service
func NewWithService(svc *gmail.Service, handledLabel string) *GmailClient {
	return &GmailClient{
		svc:          svc,
		handledLabel: handledLabel,
		logger:       util.GetLogger(),
	}
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open token file: %w", err)
	}
	defer f.Close()

	var token oauth2.Token
	if err := json.NewDecoder(f).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode token file: %w", err)
	}
	return &token, nil
}

// ListCandidateMessages returns matching message ids in listing order
func (c *GmailClient) ListCandidateMessages(ctx context.Context, f Filter) ([]string, error) {
	resp, err := c.svc.Users.Messages.List(userID).
		Q(f.Query()).
		MaxResults(maxListResult).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// GetMessage fetches a message and extracts subject, text body and date
func (c *GmailClient) GetMessage(ctx context.Context, id string) (*Message, error) {
	m, err := c.svc.Users.Messages.Get(userID, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}

	msg := &Message{ID: id}
	if m.Payload != nil {
		msg.Subject = header(m.Payload.Headers, "Subject")
		msg.Body = extractBody(m.Payload)
	}
	msg.ReceivedAt = receivedAt(m)

	if strings.TrimSpace(msg.Body) == "" {
		return nil, fmt.Errorf("message %s: %w", id, ErrEmptyBody)
	}
	return msg, nil
}

func header(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func receivedAt(m *gmail.Message) time.Time {
	if m.InternalDate > 0 {
		return time.UnixMilli(m.InternalDate)
	}
	if m.Payload != nil {
		if t, err := mail.ParseDate(header(m.Payload.Headers, "Date")); err == nil {
			return t
		}
	}
	return time.Time{}
}

// MarkHandled labels a message so it no longer matches the filter.
// Without a usable label it only clears UNREAD.
func (c *GmailClient) MarkHandled(ctx context.Context, id string) error {
	req := &gmail.ModifyMessageRequest{}

	labelID, err := c.handledLabelID(ctx)
	if err != nil {
		c.logger.Warn("Handled label unavailable, marking message read instead",
			zap.String("message_id", id), zap.Error(err))
		req.RemoveLabelIds = []string{unreadLabel}
	} else {
		req.AddLabelIds = []string{labelID}
	}

	if _, err := c.svc.Users.Messages.Modify(userID, id, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to modify message %s: %w", id, err)
	}
	return nil
}

func (c *GmailClient) handledLabelID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.labelID != "" {
		return c.labelID, nil
	}
	if c.handledLabel == "" {
		return "", errors.New("no handled label configured")
	}

	labels, err := c.svc.Users.Labels.List(userID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to list labels: %w", err)
	}
	for _, l := range labels.Labels {
		if strings.EqualFold(l.Name, c.handledLabel) {
			c.labelID = l.Id
			return c.labelID, nil
		}
	}

	created, err := c.svc.Users.Labels.Create(userID, &gmail.Label{
		Name:                  c.handledLabel,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create label: %w", err)
	}

	c.logger.Info("Created handled label", zap.String("label", c.handledLabel), zap.String("label_id", created.Id))
	c.labelID = created.Id
	return c.labelID, nil
}
