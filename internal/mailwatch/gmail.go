package mailwatch

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const me = "me"

// GmailConnector opens Gmail API clients. Options are appended to every
// client, e.g. option.WithEndpoint in tests.
type GmailConnector struct {
	Options []option.ClientOption
}

func (g GmailConnector) Connect(ctx context.Context, ts oauth2.TokenSource) (Mailbox, error) {
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, g.Options...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("mailwatch: gmail client: %w", err)
	}
	return &gmailBox{svc: svc}, nil
}

type gmailBox struct {
	svc *gmail.Service
}

func (b *gmailBox) Latest(ctx context.Context, historyID uint64) (*Mail, error) {
	res, err := b.svc.Users.History.List(me).StartHistoryId(historyID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("mailwatch: history list: %w", err)
	}
	for _, h := range res.History {
		if len(h.Messages) > 0 {
			return b.Message(ctx, h.Messages[0].Id)
		}
	}
	return nil, nil
}

func (b *gmailBox) Message(ctx context.Context, id string) (*Mail, error) {
	m, err := b.svc.Users.Messages.Get(me, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("mailwatch: get message %s: %w", id, err)
	}
	return toMail(m), nil
}

func (b *gmailBox) SetRead(ctx context.Context, id string, read bool) error {
	req := &gmail.ModifyMessageRequest{AddLabelIds: []string{"UNREAD"}}
	if read {
		req = &gmail.ModifyMessageRequest{RemoveLabelIds: []string{"UNREAD"}}
	}
	if _, err := b.svc.Users.Messages.Modify(me, id, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("mailwatch: modify %s: %w", id, err)
	}
	return nil
}

func (b *gmailBox) AttachmentData(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	body, err := b.svc.Users.Messages.Attachments.Get(me, messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("mailwatch: get attachment: %w", err)
	}
	return decodeBase64(body.Data)
}

func (b *gmailBox) Watch(ctx context.Context, topic string) (uint64, error) {
	res, err := b.svc.Users.Watch(me, &gmail.WatchRequest{
		TopicName:         topic,
		LabelIds:          []string{"INBOX"},
		LabelFilterAction: "include",
	}).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("mailwatch: watch: %w", err)
	}
	return res.HistoryId, nil
}
