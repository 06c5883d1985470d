package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"feedrelay/models"
	"feedrelay/retry"
	"feedrelay/uploader"
	"feedrelay/utils"

	"github.com/bwmarrin/discordgo"
)

// RedeemPrefix starts the custom id of every "Get" button.
const RedeemPrefix = "redeem:"

const maxContentLength = 2000

// RateLimitedError is a 429 from the platform. The retry policy sleeps RetryAfter
// without counting the attempt.
type RateLimitedError struct {
	After time.Duration
	Err   error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited for %v: %v", e.After, e.Err)
}

func (e *RateLimitedError) Unwrap() error             { return e.Err }
func (e *RateLimitedError) RetryAfter() time.Duration { return e.After }

// Messenger performs the outbound platform operations.
type Messenger struct {
	s *discordgo.Session
}

// NewMessenger wraps a session. The session must not retry rate limits itself.
func NewMessenger(s *discordgo.Session) *Messenger {
	return &Messenger{s: s}
}

// SendText posts a plain message.
func (m *Messenger) SendText(ctx context.Context, channelID, text string) (string, error) {
	msg, err := m.s.ChannelMessageSend(channelID, utils.Truncate(text, maxContentLength), discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err)
	}
	return msg.ID, nil
}

// SendPhoto posts a caption with an image shown from imageURL.
func (m *Messenger) SendPhoto(ctx context.Context, channelID, caption, imageURL string) (string, error) {
	msg, err := m.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: utils.Truncate(caption, maxContentLength),
		Embeds:  []*discordgo.MessageEmbed{{Image: &discordgo.MessageEmbedImage{URL: imageURL}}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err)
	}
	return msg.ID, nil
}

// SendDocument uploads a file with its caption, thumbnail and a "Get" button for its token.
func (m *Messenger) SendDocument(ctx context.Context, channelID string, doc uploader.Document) (string, error) {
	send := &discordgo.MessageSend{
		Content: utils.Truncate(doc.Caption, maxContentLength),
		Files: []*discordgo.File{{
			Name:        doc.Name,
			ContentType: contentType(doc.Name),
			Reader:      doc.Reader,
		}},
	}
	if doc.Thumbnail != "" {
		send.Embeds = []*discordgo.MessageEmbed{{Thumbnail: &discordgo.MessageEmbedThumbnail{URL: doc.Thumbnail}}}
	}
	if doc.Token != "" {
		send.Components = RedeemButtons(doc.Token, "Get")
	}
	msg, err := m.s.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err)
	}
	return msg.ID, nil
}

// SendNotice posts text with buttons below it.
func (m *Messenger) SendNotice(ctx context.Context, channelID, text string, components []discordgo.MessageComponent) (string, error) {
	msg, err := m.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    utils.Truncate(text, maxContentLength),
		Components: components,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err)
	}
	return msg.ID, nil
}

// DirectChannel opens (or reuses) the DM channel with a user.
func (m *Messenger) DirectChannel(ctx context.Context, userID string) (string, error) {
	ch, err := m.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err)
	}
	return ch.ID, nil
}

// EditText replaces the text of a message.
func (m *Messenger) EditText(ctx context.Context, channelID, messageID, text string) error {
	_, err := m.s.ChannelMessageEdit(channelID, messageID, utils.Truncate(text, maxContentLength), discordgo.WithContext(ctx))
	return classify(err)
}

// EditMarkup replaces the buttons under a message.
func (m *Messenger) EditMarkup(ctx context.Context, channelID, messageID string, components []discordgo.MessageComponent) error {
	edit := discordgo.NewMessageEdit(channelID, messageID)
	edit.Components = &components
	_, err := m.s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return classify(err)
}

// Forward copies a stored message into another channel.
func (m *Messenger) Forward(ctx context.Context, toChannelID, fromChannelID, messageID string) (string, error) {
	msg, err := m.s.ChannelMessageSendComplex(toChannelID, &discordgo.MessageSend{
		Reference: &discordgo.MessageReference{
			Type:      discordgo.MessageReferenceTypeForward,
			MessageID: messageID,
			ChannelID: fromChannelID,
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err)
	}
	return msg.ID, nil
}

// Delete removes a message.
func (m *Messenger) Delete(ctx context.Context, channelID, messageID string) error {
	return classify(m.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

// RedeemButtons is the action row carrying a redeem button for token.
func RedeemButtons(token, label string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    label,
					Style:    discordgo.PrimaryButton,
					CustomID: RedeemPrefix + token,
				},
			},
		},
	}
}

// PartButtons is one "Part n" redeem button per record of a split item.
func PartButtons(records []models.UploadRecord) []discordgo.MessageComponent {
	buttons := make([]discordgo.MessageComponent, 0, len(records))
	for n, rec := range records {
		buttons = append(buttons, discordgo.Button{
			Label:    fmt.Sprintf("Part %d", n+1),
			Style:    discordgo.SecondaryButton,
			CustomID: RedeemPrefix + rec.Token,
		})
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
}

// classify maps platform errors onto the retry taxonomy: 429 sleeps, other 4xx are final.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) && rl.RateLimit != nil && rl.TooManyRequests != nil {
		return &RateLimitedError{After: rl.RetryAfter, Err: err}
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		code := rest.Response.StatusCode
		if code == http.StatusTooManyRequests {
			return &RateLimitedError{After: time.Second, Err: err}
		}
		if code >= 400 && code < 500 && code != http.StatusRequestTimeout {
			return retry.Permanent(err)
		}
	}
	return err
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}
