package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"feedrelay/bot"
	"feedrelay/command"
	"feedrelay/config"
	"feedrelay/database"
	"feedrelay/export"
	healthgrpc "feedrelay/grpc"
	"feedrelay/handlers"
	"feedrelay/models"
	"feedrelay/utils"
	"feedrelay/workspace"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "feedrelay",
		Usage: "Publish feed releases to a chat channel",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to config file (default: ./config.yaml)"},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Connect the bot and run the publishing worker",
				Action: func(ctx context.Context, c *cli.Command) error {
					settings, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}
					return bot.Run(settings, handlers.Register, command.GetCommandDefinitions())
				},
			},
			{
				Name:  "purge",
				Usage: "Empty the download and encode directories (refused while a worker cycle holds the lease)",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Purge even if a worker lease is live"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return withRegistry(c, func(settings *models.Settings, reg *database.Registry) error {
						ws := workspace.ForSettings(afero.NewOsFs(), settings)
						size, err := ws.Usage()
						if err != nil {
							log.Printf("Warning: could not measure workspace: %v", err)
						}
						var n int
						if c.Bool("force") {
							n, err = ws.Purge()
						} else {
							n, err = ws.PurgeIdle(reg, time.Now())
						}
						if errors.Is(err, workspace.ErrWorkerActive) {
							return fmt.Errorf("%w; stop the worker or pass --force", err)
						}
						fmt.Printf("Removed %d entries (%s) from %v\n", n, utils.FormatSize(size), ws.Dirs())
						return err
					})
				},
			},
			{
				Name:  "failed",
				Usage: "List items whose download failed for good",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "clear", Usage: "Forget every failed download"},
					&cli.IntFlag{Name: "limit", Usage: "Number of entries to list", Value: 20},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return withRegistry(c, func(_ *models.Settings, reg *database.Registry) error {
						if c.Bool("clear") {
							n, err := reg.ClearFailedDownloads()
							if err != nil {
								return err
							}
							fmt.Printf("Cleared %d failed downloads\n", n)
							return nil
						}
						failed, err := reg.FailedDownloads(int(c.Int("limit")))
						if err != nil {
							return err
						}
						for _, f := range failed {
							fmt.Printf("%s  %s  %s\n", f.FailedAt.Format(time.RFC3339), f.Title, f.Reason)
						}
						return nil
					})
				},
			},
			{
				Name:  "status",
				Usage: "Show the worker state and registry totals",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withRegistry(c, func(settings *models.Settings, reg *database.Registry) error {
						return printStatus(settings, reg)
					})
				},
			},
			{
				Name:  "unlock",
				Usage: "Release the worker lease left by a crashed process",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withRegistry(c, func(_ *models.Settings, reg *database.Registry) error {
						if err := reg.ForceReleaseLease(); err != nil {
							return err
						}
						fmt.Println("Lease released")
						return nil
					})
				},
			},
			{
				Name:  "export",
				Usage: "Write the RSS export of recent uploads",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withRegistry(c, func(settings *models.Settings, reg *database.Registry) error {
						x := export.New(settings.Export, afero.NewOsFs(), reg)
						if !x.Enabled() {
							return fmt.Errorf("export.rssPath is not set")
						}
						if err := x.Write(); err != nil {
							return err
						}
						fmt.Printf("Wrote %s\n", settings.Export.RSSPath)
						return nil
					})
				},
			},
			{
				Name:  "health",
				Usage: "Query a running instance's health server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "address", Usage: "Health server address (default from config)"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					address := c.String("address")
					if address == "" {
						settings, err := config.Load(c.String("config"))
						if err != nil {
							return err
						}
						address = settings.Health.Address
					}
					if address == "" {
						return fmt.Errorf("no health address configured")
					}
					client, err := healthgrpc.NewClient(address, 5*time.Second)
					if err != nil {
						return err
					}
					defer client.Close()
					for _, service := range []string{healthgrpc.ServiceFeed, healthgrpc.ServiceWorker} {
						status, err := client.Check(ctx, service)
						if err != nil {
							return err
						}
						fmt.Printf("%-8s %s\n", service, status)
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func withRegistry(c *cli.Command, fn func(*models.Settings, *database.Registry) error) error {
	settings, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	reg, err := database.Open(settings.Database.Path)
	if err != nil {
		return err
	}
	defer reg.Close()
	return fn(settings, reg)
}

func printStatus(settings *models.Settings, reg *database.Registry) error {
	state, err := reg.State()
	if err != nil {
		return err
	}
	stats, err := reg.Stats()
	if err != nil {
		return err
	}
	sm := database.NewStatusManager(afero.NewOsFs(), settings.Database.StatusFile)
	if err := sm.Load(); err != nil {
		log.Printf("Warning: %v", err)
	}
	last := sm.Snapshot()

	if state.IsWorking(time.Now()) {
		fmt.Printf("Lease:            %s until %s\n", state.LeaseOwner, state.LeaseExpiresAt.Format(time.RFC3339))
	} else {
		fmt.Println("Lease:            idle")
	}
	fmt.Printf("Published today:  %d/%d (%s)\n", state.DailyPostCount, settings.Worker.MaxPerDay, state.LastResetDate)
	fmt.Printf("Last fingerprint: %s\n", state.LastFingerprint)
	fmt.Printf("Records:          %d files, %d items, %s\n", stats.Records, stats.Fingerprints, utils.FormatSize(stats.TotalBytes))
	fmt.Printf("Pending queue:    %d\n", stats.PendingQueue)
	fmt.Printf("Failed downloads: %d\n", stats.FailedEntries)
	fmt.Printf("Last cycle:       %s (%s)\n", utils.FormatAgo(last.LastCycleAt), last.LastCycleResult)
	return nil
}
