package utils

import (
	"feedrelay/models"

	"github.com/bwmarrin/discordgo"
)

// Auth provides methods for authorization checks.
type Auth struct {
	config models.CommandsConfig
}

// NewAuth creates a new Auth instance from the commands configuration.
func NewAuth(cfg models.CommandsConfig) *Auth {
	return &Auth{config: cfg}
}

// IsDeveloper checks if a user is a developer.
func (a *Auth) IsDeveloper(userID string) bool {
	for _, devID := range a.config.Auth.Developers {
		if userID == devID {
			return true
		}
	}
	return false
}

// IsAdmin checks if a member has an admin role.
func (a *Auth) IsAdmin(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	for _, adminRoleID := range a.config.Auth.AdminsRoles {
		for _, userRoleID := range member.Roles {
			if userRoleID == adminRoleID {
				return true
			}
		}
	}
	return false
}

// IsGuest checks if a user is a guest.
// An empty list or the entry "0" opens guest commands to everyone.
func (a *Auth) IsGuest(userID string) bool {
	if len(a.config.Auth.Guest) == 0 {
		return true
	}
	for _, guestID := range a.config.Auth.Guest {
		if guestID == "0" || userID == guestID {
			return true
		}
	}
	return false
}

// InteractionUser returns the invoking user for guild and DM interactions alike.
func InteractionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// CheckPermission checks if the invoking user has the required permission level.
func (a *Auth) CheckPermission(i *discordgo.InteractionCreate, requiredLevel string) bool {
	user := InteractionUser(i)
	if user == nil {
		return false
	}

	switch requiredLevel {
	case "developer":
		return a.IsDeveloper(user.ID)
	case "admin":
		return a.IsDeveloper(user.ID) || a.IsAdmin(i.Member)
	case "guest":
		return a.IsDeveloper(user.ID) || a.IsAdmin(i.Member) || a.IsGuest(user.ID)
	default:
		return false
	}
}
