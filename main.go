package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pathakanu/taskMemo/internal/bot"
	"github.com/pathakanu/taskMemo/internal/config"
	"github.com/pathakanu/taskMemo/internal/database"
	"github.com/pathakanu/taskMemo/internal/scheduler"
	"github.com/pathakanu/taskMemo/internal/store"
	"github.com/pathakanu/taskMemo/internal/twilio"
)

func main() {
	logger := log.New(os.Stdout, "[taskMemo] ", log.LstdFlags|log.Lshortfile)
	cfg := config.Load()

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database init failed: %v", err)
	}

	st := store.New(db)
	twilioClient := twilio.New(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppNumber)

	sched := scheduler.New(st, twilioClient, cfg.LocalTimezone, logger)
	if err := sched.Recover(); err != nil {
		logger.Fatalf("reminder recovery: %v", err)
	}
	if err := sched.Start(); err != nil {
		logger.Fatalf("scheduler start: %v", err)
	}

	taskBot := bot.New(cfg, st, sched, logger)

	http.Handle("/twilio/webhook", taskBot.Handler())
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("taskMemo bot running\n"))
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: nil,
	}

	go func() {
		logger.Printf("server starting on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	waitForShutdown(server, sched, logger)
}

func waitForShutdown(server *http.Server, sched *scheduler.Scheduler, logger *log.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("server shutdown error: %v", err)
	}
	sched.Stop()
}
