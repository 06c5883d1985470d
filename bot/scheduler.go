package bot

import (
	"fmt"
	"log"
	"time"

	"feedrelay/utils"

	"github.com/robfig/cron/v3"
)

// startScheduler starts the cron jobs.
func (b *Bot) startScheduler() error {
	log.Println("Initializing scheduler...")
	b.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	spec := fmt.Sprintf("@every %s", b.Settings.Worker.Interval)
	if _, err := b.cron.AddFunc(spec, b.runCycle); err != nil {
		return fmt.Errorf("could not schedule worker: %w", err)
	}
	if _, err := b.cron.AddFunc("@daily", b.prune); err != nil {
		return fmt.Errorf("could not schedule queue pruning: %w", err)
	}
	b.cron.Start()
	log.Printf("Worker scheduled to run %s.", spec)

	if b.Settings.Worker.RunAtStartup {
		go func() {
			log.Println("Running first cycle on startup...")
			b.runCycle()
		}()
	} else {
		log.Println("Skipping cycle on startup as per configuration.")
	}
	return nil
}

func (b *Bot) runCycle() {
	result, err := b.Worker.Tick(b.ctx)
	if err != nil {
		log.Printf("Worker cycle failed: %v", err)
		utils.Error("Scheduler", "Tick", err.Error())
		return
	}
	if result.Published > 0 || result.Failed > 0 {
		utils.Info("Scheduler", "Tick", result.String())
	}
}

func (b *Bot) prune() {
	n, err := b.Registry.PruneProcessedQueue(b.Settings.Worker.QueueRetention, time.Now())
	if err != nil {
		log.Printf("Queue pruning failed: %v", err)
		return
	}
	log.Printf("Pruned %d processed queue entries", n)
}

// stopScheduler stops the cron jobs and waits for a running cycle to return.
func (b *Bot) stopScheduler() {
	if b.cron == nil {
		return
	}
	ctx := b.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Minute):
		log.Println("Timed out waiting for the running cycle to stop.")
	}
	log.Println("Scheduler stopped.")
}
