package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	microphone "github.com/deepgram/deepgram-go-sdk/v3/pkg/audio/microphone"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listen "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/RandomArray/SpectraScribe/internal/client"
	"github.com/RandomArray/SpectraScribe/internal/config"
	"github.com/RandomArray/SpectraScribe/internal/digest"
	"github.com/RandomArray/SpectraScribe/internal/gdrive"
	"github.com/RandomArray/SpectraScribe/internal/room"
	"github.com/RandomArray/SpectraScribe/internal/server"
	"github.com/RandomArray/SpectraScribe/internal/storage"
	"github.com/RandomArray/SpectraScribe/internal/transcribe"
)

func main() {
	log.Println("spectrascribe: starting")

	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}

	var archive room.Archiver
	if cfg.ArchiveDir != "" {
		archive = storage.NewArchive(cfg.ArchiveDir)
	}

	rooms := room.NewRegistry(cfg.HistoryLimit, store, archive)
	if err := replayRooms(rooms, store, cfg.HistoryLimit); err != nil {
		log.Fatalf("history replay failed: %v", err)
	}

	var digester server.Digester
	if cfg.OpenAIAPIKey != "" {
		digester = digest.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	}

	handler, err := server.Handler(server.Options{
		Rooms:       rooms,
		UploadDir:   cfg.UploadDir,
		Digester:    digester,
		DigestCache: store,
		Warnings:    func() []string { return warnings },
	})
	if err != nil {
		log.Fatalf("build http handler failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	if cfg.GDriveFolderID != "" {
		syncer, syncErr := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if syncErr != nil {
			log.Printf("warning: gdrive backup disabled: %v", syncErr)
		} else {
			go func() {
				ticker := time.NewTicker(5 * time.Minute)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if err := syncer.Sync(cfg.DBPath); err != nil {
							log.Printf("gdrive backup error: %v", err)
						}
					}
				}
			}()
		}
	}

	var scribeStop func()
	if cfg.DeepgramAPIKey != "" {
		stop, scribeErr := startScribe(ctx, cfg)
		if scribeErr != nil {
			log.Printf("warning: live transcription disabled: %v", scribeErr)
		} else {
			scribeStop = stop
		}
	}

	log.Printf("spectrascribe: listening on %s", cfg.ListenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("spectrascribe: shutting down")
	cancel()

	if scribeStop != nil {
		scribeStop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
	}

	rooms.Close()
	if err := store.Close(); err != nil {
		log.Printf("warning: storage close failed: %v", err)
	}
}

// replayRooms seeds each room's in-memory history with the newest persisted
// messages so clients joining after a restart see the same window as before.
func replayRooms(rooms *room.Registry, store *storage.SQLiteStore, limit int) error {
	names, err := store.Rooms()
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	for _, name := range names {
		msgs, err := store.RecentMessages(name, limit)
		if err != nil {
			return fmt.Errorf("load history for %s: %w", name, err)
		}
		rooms.Seed(name, msgs)
		log.Printf("replayed %d messages into room %s", len(msgs), name)
	}
	return nil
}

// startScribe connects a microphone to Deepgram and publishes the resulting
// utterances into the configured room over the server's own websocket
// endpoint, exactly like any other participant.
func startScribe(ctx context.Context, cfg config.Config) (func(), error) {
	// The server's listener starts concurrently; retry briefly so the
	// publisher does not lose the race at boot.
	var ws *client.Client
	var err error
	for attempt := 0; attempt < 10; attempt++ {
		ws, err = client.Dial(ctx, localURL(cfg.ListenAddr), cfg.Room, cfg.Username, nil)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("join room %s: %w", cfg.Room, err)
	}

	acc := transcribe.NewAccumulator(cfg.Username, func(u transcribe.Utterance) {
		if err := ws.SendTranscription(u.ID, u.Text, u.Final); err != nil {
			log.Printf("warning: publish transcription: %v", err)
		}
	})

	microphone.Initialize()

	var mic *microphone.Microphone
	selectedSampleRate := cfg.MicSampleRate
	for _, rate := range cfg.SampleRateCandidates() {
		mic, err = microphone.New(microphone.AudioConfig{InputChannels: 1, SamplingRate: float32(rate)})
		if err != nil {
			log.Printf("warning: microphone open failed at %d Hz: %v", rate, err)
			continue
		}
		selectedSampleRate = rate
		break
	}
	if mic == nil {
		microphone.Teardown()
		_ = ws.Close()
		return nil, fmt.Errorf("no usable microphone")
	}
	if err := mic.Start(); err != nil {
		microphone.Teardown()
		_ = ws.Close()
		return nil, fmt.Errorf("microphone start at %d Hz: %w", selectedSampleRate, err)
	}
	log.Printf("microphone started at %d Hz", selectedSampleRate)

	listen.Init(listen.InitLib{LogLevel: listen.LogLevelDefault})

	cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:       "nova-2",
		Language:    "en-US",
		Punctuate:   true,
		SmartFormat: true,
		Encoding:    "linear16",
		SampleRate:  selectedSampleRate,
		Channels:    1,
	}

	dgClient, err := listen.NewWSUsingCallback(ctx, cfg.DeepgramAPIKey, cOptions, tOptions, transcribe.NewLiveHandler(acc))
	if err != nil {
		_ = mic.Stop()
		microphone.Teardown()
		_ = ws.Close()
		return nil, fmt.Errorf("deepgram client: %w", err)
	}
	if ok := dgClient.Connect(); !ok {
		_ = mic.Stop()
		microphone.Teardown()
		_ = ws.Close()
		return nil, fmt.Errorf("deepgram connect failed")
	}

	go func() {
		streamMicWithRetry(ctx, mic, dgClient, time.Sleep, log.Printf)
	}()

	stop := func() {
		dgClient.Stop()
		_ = mic.Stop()
		microphone.Teardown()
		_ = ws.Close()
	}
	return stop, nil
}

// localURL turns a listen address like ":8080" into a dialable URL for the
// in-process publisher.
func localURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://127.0.0.1:8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, port))
}

type micStreamer interface {
	Stream(writer io.Writer) error
}

func streamMicWithRetry(
	ctx context.Context,
	streamer micStreamer,
	writer io.Writer,
	wait func(time.Duration),
	logf func(string, ...any),
) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := streamer.Stream(writer)
		if err == nil || ctx.Err() != nil {
			return
		}

		if strings.Contains(strings.ToLower(err.Error()), "overflow") {
			logf("warning: mic input overflow, restarting stream")
			wait(250 * time.Millisecond)
			continue
		}

		logf("mic stream error: %v", err)
		return
	}
}
