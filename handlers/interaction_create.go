package handlers

import (
	"strings"

	"feedrelay/bot"

	"github.com/bwmarrin/discordgo"
)

// InteractionCreate handles slash commands and button presses.
func InteractionCreate(b *bot.Bot) func(s *discordgo.Session, i *discordgo.InteractionCreate) {
	return func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		switch i.Type {
		case discordgo.InteractionApplicationCommand:
			CommandDispatcher(b, s, i)
		case discordgo.InteractionMessageComponent:
			if strings.HasPrefix(i.MessageComponentData().CustomID, bot.RedeemPrefix) {
				HandleRedeemButton(b, s, i)
			}
		}
	}
}
