package utils

import (
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Level is the severity of a mirrored log line.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const (
	ColorInfo  = 0x00ff00 // Green
	ColorWarn  = 0xffff00 // Yellow
	ColorError = 0xff0000 // Red
)

// Color is the embed colour for the level.
func (l Level) Color() int {
	switch l {
	case LevelWarn:
		return ColorWarn
	case LevelError:
		return ColorError
	default:
		return ColorInfo
	}
}

var (
	mirrorMu sync.RWMutex
	mirror   func(embed *discordgo.MessageEmbed)
)

// InitLogger starts mirroring Info/Warn/Error to the ops channel of the session.
func InitLogger(s *discordgo.Session, opsChannelID string) {
	if opsChannelID == "" {
		log.Println("Warning: bot.opsChannelId is not set in config.yaml. Logging to channel will be disabled.")
		setMirror(nil)
		return
	}
	setMirror(func(embed *discordgo.MessageEmbed) {
		if _, err := s.ChannelMessageSendEmbed(opsChannelID, embed); err != nil {
			log.Printf("Error sending log message to Discord: %v", err)
		}
	})
}

func setMirror(fn func(embed *discordgo.MessageEmbed)) {
	mirrorMu.Lock()
	defer mirrorMu.Unlock()
	mirror = fn
}

// Log writes a log line and mirrors it to the ops channel when one is configured.
func Log(level Level, module, operation, details string) {
	log.Printf("[%s] Module: %s, Operation: %s, Details: %s", level, module, operation, details)

	mirrorMu.RLock()
	send := mirror
	mirrorMu.RUnlock()
	if send != nil {
		send(LogEmbed(level, module, operation, details, time.Now()))
	}
}

// LogEmbed renders one log line. Empty values are left out since the API rejects blank fields.
func LogEmbed(level Level, module, operation, details string, at time.Time) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:     "Log Level: " + string(level),
		Color:     level.Color(),
		Timestamp: at.Format(time.RFC3339),
	}
	if module != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Module", Value: Truncate(module, 256), Inline: true})
	}
	if operation != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Operation", Value: Truncate(operation, 256), Inline: true})
	}
	if details != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Details", Value: Truncate(details, 1024)})
	}
	return embed
}

// Info logs an informational message.
func Info(module, operation, details string) {
	Log(LevelInfo, module, operation, details)
}

// Warn logs a warning message.
func Warn(module, operation, details string) {
	Log(LevelWarn, module, operation, details)
}

// Error logs an error message.
func Error(module, operation, details string) {
	Log(LevelError, module, operation, details)
}
