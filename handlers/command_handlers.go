package handlers

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"feedrelay/bot"
	"feedrelay/models"
	"feedrelay/utils"
	"feedrelay/worker"

	"github.com/bwmarrin/discordgo"
)

const listLimit = 10

// HandleGet handles the /get command.
func HandleGet(b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate) {
	var token string
	if opt, ok := optionMap(i)["token"]; ok {
		token = opt.StringValue()
	}
	redeemInteraction(b, s, i, token)
}

// HandleRedeemButton handles presses on a redeem:<token> button.
func HandleRedeemButton(b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate) {
	token := strings.TrimPrefix(i.MessageComponentData().CustomID, bot.RedeemPrefix)
	redeemInteraction(b, s, i, token)
}

func redeemInteraction(b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate, token string) {
	user := utils.InteractionUser(i)
	if user == nil {
		respondEphemeral(s, i, "🚫 Could not tell who asked.")
		return
	}
	deferEphemeral(s, i)
	rec, err := redeemerFor(b).Redeem(b.Context(), user.ID, token)
	if err != nil && !errors.Is(err, ErrUnknownToken) {
		log.Printf("Redeem for %s failed: %v", user.ID, err)
	}
	followUp(s, i, redeemReply(rec, err, b.Settings.Bot.AutoDelete))
}

// HandleStatus handles the /status command.
func HandleStatus(b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate) {
	state, err := b.Registry.State()
	if err != nil {
		log.Printf("Error reading worker state: %v", err)
		respondEphemeral(s, i, "🚫 Could not read the worker state.")
		return
	}
	stats, err := b.Registry.Stats()
	if err != nil {
		log.Printf("Error reading stats: %v", err)
		respondEphemeral(s, i, "🚫 Could not read the registry.")
		return
	}
	remaining, err := b.Limiter.Remaining()
	if err != nil {
		log.Printf("Error reading daily count: %v", err)
	}
	day := dayUsage{
		Date:      b.Limiter.Today(),
		Published: b.Limiter.MaxPerDay() - remaining,
		Max:       b.Limiter.MaxPerDay(),
	}
	var snapshot models.Status
	if b.Status != nil {
		snapshot = b.Status.Snapshot()
	}
	respondEphemeral(s, i, statusText(state, stats, snapshot, day, time.Now()))
}

// dayUsage is today's publish count against the cap.
type dayUsage struct {
	Date      string
	Published int
	Max       int
}

func statusText(state models.WorkerState, stats models.Stats, snapshot models.Status, day dayUsage, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("**Worker status**\n")
	if state.IsWorking(now) {
		fmt.Fprintf(&sb, "Lease: held by `%s` until %s\n", state.LeaseOwner, state.LeaseExpiresAt.Format(time.RFC3339))
	} else {
		sb.WriteString("Lease: idle\n")
	}
	if snapshot.CurrentItem != "" {
		fmt.Fprintf(&sb, "Processing: %s\n", snapshot.CurrentItem)
	}
	fmt.Fprintf(&sb, "Published today: %d/%d (%s)\n", day.Published, day.Max, day.Date)
	fmt.Fprintf(&sb, "Pending queue: %d\n", stats.PendingQueue)
	fmt.Fprintf(&sb, "Failed downloads: %d\n", stats.FailedEntries)
	fmt.Fprintf(&sb, "Last fingerprint: `%s`\n", orDash(state.LastFingerprint))
	if !snapshot.LastCycleAt.IsZero() {
		fmt.Fprintf(&sb, "Last cycle: %s, %s", utils.FormatAgo(snapshot.LastCycleAt), snapshot.LastCycleResult)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// HandleFailed handles the /failed command.
func HandleFailed(b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate) {
	action := "list"
	if opt, ok := optionMap(i)["action"]; ok {
		action = opt.StringValue()
	}

	if action == "clear" {
		n, err := b.Registry.ClearFailedDownloads()
		if err != nil {
			log.Printf("Error clearing failed downloads: %v", err)
			respondEphemeral(s, i, "🚫 Could not clear failed downloads.")
			return
		}
		utils.Info("failed", "clear", fmt.Sprintf("%d entries cleared", n))
		respondEphemeral(s, i, fmt.Sprintf("🧹 Cleared %d failed downloads.", n))
		return
	}

	failed, err := b.Registry.FailedDownloads(listLimit)
	if err != nil {
		log.Printf("Error listing failed downloads: %v", err)
		respondEphemeral(s, i, "🚫 Could not list failed downloads.")
		return
	}
	respondEphemeral(s, i, failedText(failed))
}

func failedText(failed []models.FailedDownload) string {
	if len(failed) == 0 {
		return "No failed downloads."
	}
	var sb strings.Builder
	sb.WriteString("**Failed downloads**\n")
	for _, f := range failed {
		fmt.Fprintf(&sb, "• %s (%s): %s\n", utils.Truncate(f.Title, 80), utils.FormatAgo(f.FailedAt), utils.Truncate(f.Reason, 120))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// HandlePurge handles the /purge command.
func HandlePurge(b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if b.Worker == nil {
		respondEphemeral(s, i, "🚫 The worker is not running.")
		return
	}
	deferEphemeral(s, i)
	n, err := b.Worker.Purge()
	switch {
	case errors.Is(err, worker.ErrBusy):
		followUp(s, i, "⏳ An item is being processed. Try again once it is done.")
	case err != nil:
		utils.Error("purge", "admin", err.Error())
		followUp(s, i, fmt.Sprintf("⚠️ Purged %d entries with errors: %v", n, err))
	default:
		utils.Info("purge", "admin", fmt.Sprintf("%d entries removed", n))
		followUp(s, i, fmt.Sprintf("🧹 Removed %d entries.", n))
	}
}

// HandleQueue handles the /queue command.
func HandleQueue(b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate) {
	entries, err := b.Limiter.Backlog(listLimit)
	if err != nil {
		log.Printf("Error listing queue: %v", err)
		respondEphemeral(s, i, "🚫 Could not read the queue.")
		return
	}
	total, err := b.Limiter.Pending()
	if err != nil {
		log.Printf("Error counting queue: %v", err)
		total = len(entries)
	}
	respondEphemeral(s, i, queueText(entries, total))
}

func queueText(entries []models.QueueEntry, total int) string {
	if len(entries) == 0 {
		return "The queue is empty."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Queue** (%d pending)\n", total)
	for n, e := range entries {
		fmt.Fprintf(&sb, "%d. %s (queued %s)\n", n+1, utils.Truncate(e.Item.Title, 80), utils.FormatAgo(e.EnqueuedAt))
	}
	if total > len(entries) {
		fmt.Fprintf(&sb, "… and %d more", total-len(entries))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// HandleStats handles the /stats command.
func HandleStats(b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate) {
	stats, err := b.Registry.Stats()
	if err != nil {
		log.Printf("Error reading stats: %v", err)
		respondEphemeral(s, i, "🚫 Could not read the registry.")
		return
	}
	respondEphemeral(s, i, statsText(stats))
}

func statsText(stats models.Stats) string {
	return fmt.Sprintf("**Stats**\nItems published: %d\nFiles: %d\nTotal size: %s",
		stats.Fingerprints, stats.Records, utils.FormatSize(stats.TotalBytes))
}

// HandlePing handles the logic for the /ping command.
func HandlePing(s *discordgo.Session, i *discordgo.InteractionCreate) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "Pong!",
		},
	})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
