package handlers

import (
	"errors"
	"fmt"
	"log"

	"feedrelay/bot"
	"feedrelay/database"
	"feedrelay/utils"

	"github.com/bwmarrin/discordgo"
)

// MessageDelete withdraws the tokens of a published post when moderators remove it,
// so redemptions answer "not found" instead of forwarding a missing message.
func MessageDelete(b *bot.Bot) func(s *discordgo.Session, m *discordgo.MessageDelete) {
	return func(s *discordgo.Session, m *discordgo.MessageDelete) {
		if m.ChannelID != b.Settings.Bot.PublishChannelID {
			return
		}
		rec, err := b.Registry.RecordByMessage(m.ChannelID, m.ID)
		if errors.Is(err, database.ErrNotFound) {
			return
		}
		if err != nil {
			log.Printf("Error looking up deleted message %s: %v", m.ID, err)
			return
		}
		n, err := b.Registry.DeleteRecordsByFingerprint(rec.Fingerprint)
		if err != nil {
			log.Printf("Error removing records for %s: %v", rec.Fingerprint, err)
			return
		}
		utils.Warn("records", "withdraw", fmt.Sprintf("%s: post deleted, %d records removed", rec.Name, n))
	}
}
