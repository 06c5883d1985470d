package handlers

import (
	"errors"
	"log"
	"strings"

	"feedrelay/bot"

	"github.com/bwmarrin/discordgo"
)

// MessageCreate answers text commands sent to the bot in DMs.
func MessageCreate(b *bot.Bot) func(s *discordgo.Session, m *discordgo.MessageCreate) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		// Ignore all messages created by the bot itself
		if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
			return
		}
		// Only DMs carry redeem requests.
		if m.GuildID != "" {
			return
		}

		prefix := b.Settings.Bot.Prefix
		if prefix == "" {
			prefix = "!" // Default prefix
		}

		command, token := ParseDirectMessage(m.Content, prefix)
		switch command {
		case "ping":
			s.ChannelMessageSend(m.ChannelID, "Pong!")
		case "get":
			rec, err := redeemerFor(b).Redeem(b.Context(), m.Author.ID, token)
			if err != nil && !errors.Is(err, ErrUnknownToken) {
				log.Printf("Redeem for %s failed: %v", m.Author.ID, err)
			}
			if err != nil || b.Settings.Bot.AutoDelete > 0 {
				s.ChannelMessageSend(m.ChannelID, redeemReply(rec, err, b.Settings.Bot.AutoDelete))
			}
		}
	}
}

// ParseDirectMessage recognises "<prefix>get <token>", "<prefix>ping" and a bare token.
func ParseDirectMessage(content, prefix string) (command, token string) {
	content = strings.TrimSpace(content)
	if t := NormalizeToken(content); t != "" {
		return "get", t
	}
	if !strings.HasPrefix(content, prefix) {
		return "", ""
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return "", ""
	}
	switch strings.ToLower(fields[0]) {
	case "ping":
		return "ping", ""
	case "get", "start":
		if len(fields) < 2 {
			return "get", ""
		}
		return "get", fields[1]
	}
	return "", ""
}
