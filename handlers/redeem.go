package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"feedrelay/bot"
	"feedrelay/database"
	"feedrelay/models"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
)

// ErrUnknownToken is returned when no published file carries the token.
var ErrUnknownToken = errors.New("unknown or expired token")

var tokenPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// RecordLookup resolves tokens to published records.
type RecordLookup interface {
	RecordByToken(token string) (*models.UploadRecord, error)
}

// Outbox is the part of the messenger a redemption uses.
type Outbox interface {
	DirectChannel(ctx context.Context, userID string) (string, error)
	Forward(ctx context.Context, toChannelID, fromChannelID, messageID string) (string, error)
	Delete(ctx context.Context, channelID, messageID string) error
	SendNotice(ctx context.Context, channelID, text string, components []discordgo.MessageComponent) (string, error)
}

// Redeemer hands published files to users by token.
type Redeemer struct {
	records    RecordLookup
	out        Outbox
	autoDelete time.Duration
	afterFunc  func(d time.Duration, f func())
}

// NewRedeemer creates a Redeemer. autoDelete <= 0 keeps forwarded copies.
func NewRedeemer(records RecordLookup, out Outbox, autoDelete time.Duration) *Redeemer {
	return &Redeemer{
		records:    records,
		out:        out,
		autoDelete: autoDelete,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

func redeemerFor(b *bot.Bot) *Redeemer {
	return NewRedeemer(b.Registry, b.Messenger, b.Settings.Bot.AutoDelete)
}

// NormalizeToken accepts tokens pasted with dashes, spaces or upper case.
// It returns "" when the input cannot be a token.
func NormalizeToken(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	t = strings.ReplaceAll(t, "-", "")
	if !tokenPattern.MatchString(t) {
		return ""
	}
	return t
}

// Redeem forwards the message stored under token to the user's DM channel.
func (r *Redeemer) Redeem(ctx context.Context, userID, token string) (*models.UploadRecord, error) {
	token = NormalizeToken(token)
	if token == "" {
		return nil, ErrUnknownToken
	}
	rec, err := r.records.RecordByToken(token)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrUnknownToken
	}
	if err != nil {
		return nil, err
	}

	dm, err := r.out.DirectChannel(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to open DM: %w", err)
	}
	msgID, err := r.out.Forward(ctx, dm, rec.ChannelID, rec.MessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to forward %s: %w", rec.Name, err)
	}

	if r.autoDelete > 0 {
		r.afterFunc(r.autoDelete, func() {
			r.expire(dm, msgID, token)
		})
	}
	return rec, nil
}

// expire deletes a forwarded copy and leaves a notice to fetch it again.
func (r *Redeemer) expire(channelID, messageID, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := r.out.Delete(ctx, channelID, messageID); err != nil {
		log.Printf("Failed to delete forwarded message %s: %v", messageID, err)
		return
	}
	text := fmt.Sprintf("This file was removed after %s. Press the button to get it again.", humanizeDelay(r.autoDelete))
	if _, err := r.out.SendNotice(ctx, channelID, text, bot.RedeemButtons(token, "Get again")); err != nil {
		log.Printf("Failed to send re-request notice: %v", err)
	}
}

func humanizeDelay(d time.Duration) string {
	return strings.TrimSpace(humanize.RelTime(time.Time{}, time.Time{}.Add(d), "", ""))
}

// redeemReply is the text shown to the requester.
func redeemReply(rec *models.UploadRecord, err error, autoDelete time.Duration) string {
	switch {
	case errors.Is(err, ErrUnknownToken):
		return "🔍 Not found: this token is unknown or has expired."
	case err != nil:
		return "🚫 Could not send the file. Make sure your DMs are open and try again."
	case autoDelete > 0:
		return fmt.Sprintf("📬 **%s** was sent to your DMs. It will be removed after %s.", rec.Name, humanizeDelay(autoDelete))
	default:
		return fmt.Sprintf("📬 **%s** was sent to your DMs.", rec.Name)
	}
}
