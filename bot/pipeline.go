package bot

import (
	"context"
	"fmt"
	"log"

	"feedrelay/database"
	"feedrelay/downloader"
	"feedrelay/encoder"
	"feedrelay/export"
	healthgrpc "feedrelay/grpc"
	"feedrelay/ratelimit"
	"feedrelay/scanner"
	"feedrelay/uploader"
	"feedrelay/worker"
	"feedrelay/workspace"

	"github.com/spf13/afero"
)

// buildPipeline opens the registry and wires every stage of the worker.
func (b *Bot) buildPipeline() error {
	s := b.Settings
	fs := afero.NewOsFs()

	registry, err := database.Open(s.Database.Path)
	if err != nil {
		return err
	}
	b.Registry = registry
	b.closers = append(b.closers, func() { registry.Close() })

	b.Status = database.NewStatusManager(fs, s.Database.StatusFile)
	if err := b.Status.Load(); err != nil {
		log.Printf("Warning: starting with an empty status: %v", err)
	}

	swarm, err := downloader.NewAnacrolixSwarm(s.Download.DataDir)
	if err != nil {
		return err
	}
	b.closers = append(b.closers, swarm.Close)

	limiter, err := ratelimit.FromConfig(registry, s.Worker)
	if err != nil {
		return err
	}
	b.Limiter = limiter

	poller := scanner.NewPoller(s.Feed, registry)
	go func() {
		if err := poller.Ping(context.Background()); err != nil {
			log.Printf("Feed warm-up failed: %v", err)
		}
	}()

	deps := worker.Deps{
		Store:      registry,
		Poller:     poller,
		Limiter:    limiter,
		Downloader: downloader.NewEngine(downloader.ConfigFrom(s.Download), swarm, fs),
		Preparer:   encoder.NewPipeline(s.Encode, fs),
		Uploader:   uploader.NewEngine(s.Upload, fs, b.Messenger, registry),
		Notifier:   NewNotifier(b.Session, b.Messenger, s.Bot.OpsChannelID),
		Purger:     workspace.ForSettings(fs, s),
		Status:     b.Status,
	}
	if exp := export.New(s.Export, fs, registry); exp.Enabled() {
		deps.Exporter = exp
	}
	if s.Health.Address != "" {
		hs, err := healthgrpc.NewHealthServer(s.Health.Address)
		if err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		hs.Start()
		b.Health = hs
		b.closers = append(b.closers, hs.Stop)
		deps.Health = hs
	}

	b.Worker = worker.New(worker.Options{
		LeaseTTL:         s.Worker.LeaseTTL,
		PublishChannelID: s.Bot.PublishChannelID,
		Progress:         s.Progress,
	}, deps)
	log.Printf("Pipeline ready, worker lease owner %s", b.Worker.Owner())
	return nil
}
