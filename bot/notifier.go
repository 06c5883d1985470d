package bot

import (
	"context"
	"fmt"
	"log"
	"strings"

	"feedrelay/models"
	"feedrelay/utils"
	"feedrelay/worker"

	"github.com/bwmarrin/discordgo"
)

// Notifier reports item outcomes to the ops channel.
type Notifier struct {
	m         *Messenger
	s         *discordgo.Session
	channelID string
}

// NewNotifier creates a notifier. An empty channel disables it.
func NewNotifier(s *discordgo.Session, m *Messenger, opsChannelID string) *Notifier {
	return &Notifier{m: m, s: s, channelID: opsChannelID}
}

// Progress opens a status message for title that is edited as events arrive.
func (n *Notifier) Progress(ctx context.Context, title string) worker.ProgressView {
	if n.channelID == "" {
		return nil
	}
	id, err := n.m.SendText(ctx, n.channelID, fmt.Sprintf("⏳ **%s**\nStarting…", utils.Truncate(title, 120)))
	if err != nil {
		log.Printf("Failed to open progress message for %q: %v", title, err)
		return nil
	}
	return &statusMessage{m: n.m, channelID: n.channelID, messageID: id}
}

// Published posts a success notice with links to the published messages.
// Every part of a split item also gets buttons for all its parts.
func (n *Notifier) Published(ctx context.Context, item models.Item, records []models.UploadRecord) {
	if len(records) > 1 {
		buttons := PartButtons(records)
		for _, rec := range records {
			if err := n.m.EditMarkup(ctx, rec.ChannelID, rec.MessageID, buttons); err != nil {
				log.Printf("Failed to add part buttons to %s: %v", rec.Name, err)
			}
		}
	}
	if n.channelID == "" {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Published **%s**", utils.Truncate(item.Title, 200))
	for _, rec := range records {
		fmt.Fprintf(&b, "\n%s (%s) %s", rec.Name, utils.FormatSize(rec.Size), n.messageLink(rec.ChannelID, rec.MessageID))
	}
	var err error
	if item.Thumbnail != "" {
		_, err = n.m.SendPhoto(ctx, n.channelID, b.String(), item.Thumbnail)
	} else {
		_, err = n.m.SendText(ctx, n.channelID, b.String())
	}
	if err != nil {
		log.Printf("Failed to send publish notice for %q: %v", item.Title, err)
	}
}

// Failed posts a failure notice. Details stay in the process log.
func (n *Notifier) Failed(ctx context.Context, item models.Item, err error) {
	if n.channelID == "" {
		return
	}
	text := fmt.Sprintf("❌ Could not publish **%s**\n`%s`", utils.Truncate(item.Title, 200), utils.Truncate(err.Error(), 300))
	if _, serr := n.m.SendText(ctx, n.channelID, text); serr != nil {
		log.Printf("Failed to send failure notice for %q: %v", item.Title, serr)
	}
}

func (n *Notifier) messageLink(channelID, messageID string) string {
	guildID := "@me"
	if n.s != nil && n.s.State != nil {
		if ch, err := n.s.State.Channel(channelID); err == nil && ch.GuildID != "" {
			guildID = ch.GuildID
		}
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

// statusMessage is one item's live progress message.
type statusMessage struct {
	m         *Messenger
	channelID string
	messageID string
	last      string
}

func (sm *statusMessage) Update(ctx context.Context, ev models.ProgressEvent) {
	text := utils.FormatProgress(ev)
	if text == sm.last {
		return
	}
	if err := sm.m.EditText(ctx, sm.channelID, sm.messageID, text); err != nil {
		log.Printf("Failed to edit progress message: %v", err)
		return
	}
	sm.last = text
}

// Close removes the progress message; the outcome notice replaces it.
func (sm *statusMessage) Close(ctx context.Context) {
	if err := sm.m.Delete(context.WithoutCancel(ctx), sm.channelID, sm.messageID); err != nil {
		log.Printf("Failed to delete progress message: %v", err)
	}
}
