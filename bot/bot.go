package bot

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"feedrelay/database"
	healthgrpc "feedrelay/grpc"
	"feedrelay/models"
	"feedrelay/ratelimit"
	"feedrelay/utils"
	"feedrelay/worker"

	"github.com/bwmarrin/discordgo"
	"github.com/robfig/cron/v3"
)

// Bot encapsulates the bot's state.
type Bot struct {
	Session   *discordgo.Session
	Settings  *models.Settings
	Messenger *Messenger
	Auth      *utils.Auth
	Commands  map[string]*discordgo.ApplicationCommand

	Registry *database.Registry
	Status   *database.StatusManager
	Limiter  *ratelimit.Limiter
	Worker   *worker.Worker
	Health   *healthgrpc.HealthServer

	closers []func()
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewBot creates and initializes a new Bot instance.
func NewBot(settings *models.Settings) (*Bot, error) {
	if settings.Bot.Token == "" {
		return nil, fmt.Errorf("no bot token provided")
	}

	dg, err := discordgo.New("Bot " + settings.Bot.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	// Rate limits surface as errors so the upload retry policy can sleep them off.
	dg.ShouldRetryOnRateLimit = false
	if settings.Bot.RequestTimeout > 0 {
		dg.Client.Timeout = settings.Bot.RequestTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		Session:   dg,
		Settings:  settings,
		Messenger: NewMessenger(dg),
		Auth:      utils.NewAuth(settings.Commands),
		Commands:  make(map[string]*discordgo.ApplicationCommand),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Context is cancelled when the bot stops.
func (b *Bot) Context() context.Context {
	return b.ctx
}

// RegisterCommands registers the provided command definitions.
func (b *Bot) RegisterCommands(defs []*discordgo.ApplicationCommand) {
	for _, def := range defs {
		b.Commands[def.Name] = def
	}
}

// Start builds the pipeline, opens the session, registers handlers and starts the scheduler.
func (b *Bot) Start(registerHandlers func(*Bot)) error {
	if err := b.buildPipeline(); err != nil {
		return err
	}
	registerHandlers(b)

	err := b.Session.Open()
	if err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}
	utils.InitLogger(b.Session, b.Settings.Bot.OpsChannelID)

	// Register slash commands
	for _, def := range b.Commands {
		_, err := b.Session.ApplicationCommandCreate(b.Session.State.User.ID, "", def)
		if err != nil {
			log.Printf("Cannot create '%v' command: %v", def.Name, err)
		}
	}

	if err := b.startScheduler(); err != nil {
		return err
	}

	fmt.Println("Bot is now running. Press CTRL-C to exit.")
	return nil
}

// Stop cancels the running cycle, waits for it and closes everything.
func (b *Bot) Stop() {
	b.cancel()
	b.stopScheduler()
	if b.Session != nil {
		b.Session.Close()
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	fmt.Println("Bot stopped gracefully.")
}

// Run is the main entry point for the bot application. It blocks until SIGINT or SIGTERM.
func Run(settings *models.Settings, registerHandlers func(*Bot), defs []*discordgo.ApplicationCommand) error {
	bot, err := NewBot(settings)
	if err != nil {
		return fmt.Errorf("error initializing bot: %w", err)
	}

	bot.RegisterCommands(defs)

	if err := bot.Start(registerHandlers); err != nil {
		bot.Stop()
		return fmt.Errorf("error starting bot: %w", err)
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	bot.Stop()
	return nil
}
