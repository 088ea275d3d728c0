package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"classtrack/internal/attendance"
	"classtrack/internal/audio"
	"classtrack/internal/bus"
	"classtrack/internal/config"
	"classtrack/internal/device"
	"classtrack/internal/engage"
	"classtrack/internal/roster"
	"classtrack/internal/session"
	"classtrack/internal/speech"
	"classtrack/internal/store"
	"classtrack/internal/vision"
	"classtrack/internal/web"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("tracker failed: %v", err)
	}
}

func run(cfg config.App) error {
	ctx := context.Background()

	mongoStore, err := store.NewMongo(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := mongoStore.Close(context.Background()); cerr != nil {
			log.Printf("mongo close: %v", cerr)
		}
	}()
	if err := mongoStore.EnsureCollections(ctx); err != nil {
		return err
	}

	var redisClient *store.Redis
	var eventBus bus.Bus
	if cfg.BusBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		eventBus = bus.NewRedisBus(redisClient.Client, "classtrack:events")
	} else {
		eventBus = bus.NewInMemory(64)
	}

	rosterRepo := roster.NewRepository(mongoStore)
	attRepo := attendance.NewRepository(mongoStore)
	attSvc := attendance.NewService(attRepo)
	engRepo := engage.NewRepository(mongoStore)

	visionClient := vision.New(cfg.VisionServiceURL, cfg.VisionSkip)
	speechClient := speech.New(cfg.SpeechServiceURL, cfg.SpeechAPIKey, cfg.ChatModel, cfg.SpeechSkip)

	var camera session.Camera
	if cfg.CameraURL != "" {
		camera = device.NewSnapshotCamera(cfg.CameraURL)
	} else {
		log.Println("CAMERA_URL not set, using stub camera")
		camera = &device.StubCamera{}
	}

	var mic audio.Device
	if cfg.AudioPCMPath != "" {
		mic = device.NewPCMStreamDevice(cfg.AudioPCMPath)
	} else {
		log.Println("AUDIO_PCM_PATH not set, using silent stub device")
		mic = &device.StubAudio{}
	}
	recorder := audio.NewRecorder(mic, cfg.AudioSampleRate, cfg.AudioChunkFrames, cfg.CaptureDuration)

	controller := session.NewController(camera, visionClient, attSvc, engRepo, rosterRepo, speechClient, recorder, eventBus, session.Config{
		FaceTolerance:           cfg.FaceTolerance,
		HandRaiseThresh:         cfg.HandRaiseThresh,
		Cooldown:                cfg.HandRaiseCooldown,
		FrameInterval:           cfg.FrameInterval,
		RegistrationMaxAttempts: cfg.RegistrationMaxAttempts,
	})

	server := web.NewServer(rosterRepo, attSvc, attRepo, engRepo, controller, visionClient, redisClient)

	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	go server.WatchEvents(watchCtx, eventBus)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting tracker on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	// Stop the session first so the camera is released and any in-flight
	// capture drains before the HTTP surface goes away.
	controller.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Tracker exited")
	return nil
}
