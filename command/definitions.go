package command

import "github.com/bwmarrin/discordgo"

// GetCommand defines the structure for the /get command.
type GetCommand struct{}

// Definition returns the application command definition.
func (c *GetCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "get",
		Description: "Receive a published file by its token",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "token",
				Description: "The token shown under the post",
				Type:        discordgo.ApplicationCommandOptionString,
				Required:    true,
			},
		},
	}
}

// StatusCommand defines the structure for the /status command.
type StatusCommand struct{}

// Definition returns the application command definition.
func (c *StatusCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "status",
		Description: "Show the worker lease, daily count and last cycle",
	}
}

// FailedCommand defines the structure for the /failed command.
type FailedCommand struct{}

// Definition returns the application command definition.
func (c *FailedCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "failed",
		Description: "List or clear items whose download failed for good",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "action",
				Description: "What to do",
				Type:        discordgo.ApplicationCommandOptionString,
				Required:    false,
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{
						Name:  "List",
						Value: "list",
					},
					{
						Name:  "Clear",
						Value: "clear",
					},
				},
			},
		},
	}
}

// PurgeCommand defines the structure for the /purge command.
type PurgeCommand struct{}

// Definition returns the application command definition.
func (c *PurgeCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "purge",
		Description: "Empty the download and encode directories",
	}
}

// QueueCommand defines the structure for the /queue command.
type QueueCommand struct{}

// Definition returns the application command definition.
func (c *QueueCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "queue",
		Description: "Show items waiting for capacity",
	}
}

// StatsCommand defines the structure for the /stats command.
type StatsCommand struct{}

// Definition returns the application command definition.
func (c *StatsCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "stats",
		Description: "Show how much has been published",
	}
}

// PingCommand defines the structure for the /ping command.
type PingCommand struct{}

// Definition returns the application command definition.
func (c *PingCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "ping",
		Description: "Responds with Pong!",
	}
}
