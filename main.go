package main

import (
	"context"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"palaver/internal/api"
	"palaver/internal/attach"
	"palaver/internal/auth"
	"palaver/internal/commands"
	"palaver/internal/config"
	"palaver/internal/filestore"
	"palaver/internal/http"
	"palaver/internal/models"
	"palaver/internal/notify"
	"palaver/internal/pipeline"
	"palaver/internal/receipts"
	"palaver/internal/roster"
	"palaver/internal/storage"
	"palaver/internal/ws"

	"golang.org/x/sync/errgroup"
)

// fanoutNotifier delivers committed message events to the live hub and the
// offline push notifier.
type fanoutNotifier struct {
	targets []pipeline.Notifier
}

func (f fanoutNotifier) MessageCreated(msg models.Message) {
	for _, t := range f.targets {
		t.MessageCreated(msg)
	}
}

func (f fanoutNotifier) MessageEdited(msg models.Message) {
	for _, t := range f.targets {
		t.MessageEdited(msg)
	}
}

func (f fanoutNotifier) MessageDeleted(roomID, messageID string, seq int64) {
	for _, t := range f.targets {
		t.MessageDeleted(roomID, messageID, seq)
	}
}

func run(ctx context.Context) error {
	addUser := flag.String("add-user", "", "Display name of a user to provision (prints their bearer token)")
	staff := flag.Bool("staff", false, "Provision the user with the staff role")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if *addUser != "" {
		return commands.ProvisionUser(*addUser, *staff, cfg)
	}

	store, err := storage.Open(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	authService, err := auth.NewService(ctx, store, cfg.TokenExpiry)
	if err != nil {
		return err
	}

	rooms := roster.NewService(store)

	hub := ws.NewHub(ws.HubConfig{
		Roster:         rooms,
		OfflineGrace:   cfg.OfflineGrace,
		TypingTTL:      cfg.TypingTTL,
		TypingDebounce: cfg.TypingDebounce,
	})

	pusher := notify.NewPusher(store, rooms, hub.Presence(),
		cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject)

	msgPipeline := pipeline.New(store, rooms, fanoutNotifier{
		targets: []pipeline.Notifier{hub, pusher},
	})

	readTracker := receipts.NewTracker(store, rooms)
	attachments := attach.NewHandler(store, files, cfg.MaxUploadSize, cfg.AllowedMimes)

	apiHandlers := api.New(authService, rooms, msgPipeline, readTracker, attachments, pusher)
	wsServer := ws.NewServer(authService, hub, cfg.HeartbeatWindow)

	apiServer := http.NewAPIServer(apiHandlers, wsServer, cfg.APIAddr)
	adminServer := http.NewAdminServer(api.NewAdminHandler(authService, store), cfg.AdminAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Typing states expire even when the client never says stop.
	g.Go(func() error {
		hub.Typing().Run(gCtx)
		return nil
	})

	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
