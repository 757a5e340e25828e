package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"relaybot/internal/eventbus"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// DownloadFailedText is sent to the recipient when an attachment cannot be relayed.
const DownloadFailedText = "An error occurred while trying to download the attachment"

// DownloadRequest is a pressed download button. ReplyTo is the broadcast message it sits on.
type DownloadRequest struct {
	ChatID    int64
	ReplyTo   int
	MessageID string
	Index     int
}

// Download streams one attachment of a persisted message to the recipient as
// a typed media send. On failure the recipient is told so and the cause is returned.
func (d *Dispatcher) Download(ctx context.Context, req DownloadRequest) error {
	kind, err := d.download(ctx, req)
	d.metrics.Download(string(kind), err == nil)
	if err == nil {
		return nil
	}
	d.log.Warn("download failed",
		logx.Int64("chat_id", req.ChatID),
		logx.String("message_id", req.MessageID),
		logx.Int("index", req.Index),
		logx.Err(err),
	)
	eventbus.Publish(d.events, eventbus.DownloadFailed, req)

	cctx, cancel := context.WithTimeout(ctx, d.config().SendTimeout)
	defer cancel()
	if _, sendErr := d.relay.SendText(cctx, kit.ChatTarget{ChatID: req.ChatID}, DownloadFailedText, nil); sendErr != nil {
		d.log.Warn("download failure notice not sent", logx.Int64("chat_id", req.ChatID), logx.Err(sendErr))
	}
	return err
}

func (d *Dispatcher) download(ctx context.Context, req DownloadRequest) (kit.MediaKind, error) {
	cfg := d.config()
	msg, err := storage.GetJSON[Message](ctx, d.store, storage.Messages, req.MessageID)
	if err != nil {
		return "", fmt.Errorf("load message %s: %w", req.MessageID, err)
	}
	if req.Index < 0 || req.Index >= len(msg.Attachments) {
		return "", fmt.Errorf("%w: %s[%d]", ErrAttachmentNotFound, req.MessageID, req.Index)
	}
	att := msg.Attachments[req.Index]
	kind, ok := att.Kind()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, att.ContentType)
	}

	dctx, cancel := context.WithTimeout(ctx, cfg.DownloadTimeout)
	defer cancel()
	hreq, err := http.NewRequestWithContext(dctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return kind, fmt.Errorf("attachment url: %w", err)
	}
	resp, err := d.client.Do(hreq)
	if err != nil {
		return kind, fmt.Errorf("fetch attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return kind, fmt.Errorf("fetch attachment: status %d", resp.StatusCode)
	}
	if resp.ContentLength > cfg.MaxDownloadBytes {
		return kind, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	up := kit.Upload{
		Kind:     kind,
		Reader:   &cappedReader{r: resp.Body, left: cfg.MaxDownloadBytes},
		FileName: uploadName(att),
	}
	switch kind {
	case kit.MediaVoice:
	case kit.MediaAudio, kit.MediaPhoto, kit.MediaVideo, kit.MediaDocument:
		up.Caption = fmt.Sprintf("Attachment %s by \n%s", att.FileName, msg.User.Email)
	}
	if _, err := d.relay.SendMedia(dctx, kit.ChatTarget{ChatID: req.ChatID}, up, &kit.SendOptions{ReplyTo: req.ReplyTo}); err != nil {
		return kind, fmt.Errorf("send %s: %w", kind, err)
	}
	return kind, nil
}

func uploadName(a Attachment) string {
	if a.FileName != "" {
		return a.FileName
	}
	if u, err := url.Parse(a.URL); err == nil {
		if b := path.Base(u.Path); b != "/" && b != "." {
			return b
		}
	}
	return "attachment"
}

// cappedReader fails once more than left bytes have been read.
type cappedReader struct {
	r    io.Reader
	left int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.left < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > c.left+1 {
		p = p[:c.left+1]
	}
	n, err := c.r.Read(p)
	c.left -= int64(n)
	if c.left < 0 {
		return n, ErrTooLarge
	}
	return n, err
}
