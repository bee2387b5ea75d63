// Package matrix answers sales questions asked in Matrix rooms. Each room is
// one conversation.
package matrix

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	mformat "maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"sales-assistant/internal/common/logger"
	"sales-assistant/internal/orchestrator"
)

const (
	typingTimeout = 30 * time.Second
	backoffMin    = 2 * time.Second
	backoffMax    = 5 * time.Minute
)

type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms restricts the bot to these room IDs. Empty answers in every
	// room the bot is a member of.
	Rooms []string
	// SyncStore persists the sync position. Nil keeps it in memory and the
	// first sync after a restart replays recent history.
	SyncStore mautrix.SyncStore
}

// Assistant answers one turn of a conversation.
type Assistant interface {
	ProcessTurn(ctx context.Context, conversationID, utterance string, at time.Time) (orchestrator.Response, error)
}

// messenger is the part of the mautrix client used to answer.
type messenger interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON interface{}, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
}

type Bot struct {
	client    *mautrix.Client
	out       messenger
	assistant Assistant
	userID    id.UserID
	rooms     map[id.RoomID]bool
	startedAt time.Time
	logger    logger.Logger
}

func New(cfg Config, assistant Assistant, log logger.Logger) (*Bot, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	log = logger.ForComponent(log, "matrix")
	if cfg.SyncStore != nil {
		client.Store = cfg.SyncStore
	} else {
		log.Warn("No Matrix sync store configured, history replays on restart", nil)
	}

	b := newBot(client, assistant, id.UserID(cfg.UserID), cfg.Rooms, log)
	b.client = client
	return b, nil
}

func newBot(out messenger, assistant Assistant, userID id.UserID, rooms []string, log logger.Logger) *Bot {
	allowed := make(map[id.RoomID]bool, len(rooms))
	for _, r := range rooms {
		allowed[id.RoomID(r)] = true
	}
	return &Bot{
		out:       out,
		assistant: assistant,
		userID:    userID,
		rooms:     allowed,
		startedAt: time.Now(),
		logger:    log,
	}
}

// Run joins the configured rooms and syncs until ctx is cancelled,
// reconnecting with exponential backoff.
func (b *Bot) Run(ctx context.Context) error {
	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return stderrors.New("unexpected Matrix syncer type")
	}
	syncer.OnEventType(event.EventMessage, b.handleMessage)

	for roomID := range b.rooms {
		if _, err := b.client.JoinRoomByID(ctx, roomID); err != nil && !stderrors.Is(err, mautrix.MForbidden) {
			return fmt.Errorf("failed to join room %s: %w", roomID, err)
		}
	}

	b.startedAt = time.Now()
	b.logger.Info("Matrix bot syncing", map[string]interface{}{
		"userId": b.userID.String(),
		"rooms":  len(b.rooms),
	})

	backoff := backoffMin
	for {
		err := b.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		b.logger.Error("Matrix sync stopped, reconnecting", map[string]interface{}{
			"error":     err.Error(),
			"backoffMs": backoff.Milliseconds(),
		})
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

// handleMessage answers a text message from someone else in an allowed room.
func (b *Bot) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.userID {
		return
	}
	if len(b.rooms) > 0 && !b.rooms[evt.RoomID] {
		return
	}
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText || strings.TrimSpace(msg.Body) == "" {
		return
	}
	at := time.UnixMilli(evt.Timestamp)
	if at.Before(b.startedAt.Add(-time.Minute)) {
		return
	}

	roomID := evt.RoomID
	if _, err := b.out.UserTyping(ctx, roomID, true, typingTimeout); err != nil {
		b.logger.Debug("Failed to set typing", map[string]interface{}{"roomId": roomID.String(), "error": err.Error()})
	}

	resp, err := b.assistant.ProcessTurn(ctx, roomID.String(), msg.Body, at)
	if err != nil {
		b.logger.Warn("Turn failed", map[string]interface{}{
			"roomId": roomID.String(),
			"error":  err.Error(),
		})
	}

	if _, err := b.out.UserTyping(ctx, roomID, false, 0); err != nil {
		b.logger.Debug("Failed to clear typing", map[string]interface{}{"roomId": roomID.String(), "error": err.Error()})
	}
	if resp.Text == "" {
		return
	}

	content := replyContent(resp, evt.ID)
	if _, err := b.out.SendMessageEvent(ctx, roomID, event.EventMessage, &content); err != nil {
		b.logger.Error("Failed to send reply", map[string]interface{}{
			"roomId": roomID.String(),
			"error":  err.Error(),
		})
	}
}

// replyContent renders the answer, with its table when there is one, as a
// notice replying to the question.
func replyContent(resp orchestrator.Response, replyTo id.EventID) event.MessageEventContent {
	text := resp.Text
	if md := resp.Table.Markdown(); md != "" {
		text += "\n\n" + md
	}
	content := mformat.RenderMarkdown(text, true, false)
	content.MsgType = event.MsgNotice
	if replyTo != "" {
		content.RelatesTo = &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: replyTo}}
	}
	return content
}
