// Command roadtrip plays I Spy in a terminal against a running game
// master server. Typed lines stand in for speech.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/Tiewasters99/ispy-game/internal/agent"
	"github.com/Tiewasters99/ispy-game/internal/audio"
	"github.com/Tiewasters99/ispy-game/internal/console"
	"github.com/Tiewasters99/ispy-game/internal/game"
	"github.com/Tiewasters99/ispy-game/internal/geocode"
	"github.com/Tiewasters99/ispy-game/internal/logging"
	"github.com/Tiewasters99/ispy-game/internal/transcript"
)

func main() {
	_ = godotenv.Load()
	server := flag.String("server", envOr("ISPY_SERVER", "http://localhost:8080"), "game master server base URL")
	user := flag.String("user", os.Getenv("ISPY_USER_ID"), "account to charge; empty plays anonymously")
	lat := flag.Float64("lat", 0, "latitude of the car")
	lon := flag.Float64("lon", 0, "longitude of the car")
	silence := flag.Duration("silence", 20*time.Second, "how long to wait before nudging a quiet player")
	level := flag.String("log-level", envOr("LOG_LEVEL", "warn"), "log level")
	flag.Parse()

	logger := logging.New(*level, true).With().Str("session", uuid.NewString()).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := console.NewPrinter(os.Stdout)
	keyboard := console.NewKeyboard()
	store := game.NewStore(game.Rules{})
	printer.Watch(store)

	session, channel := agent.NewVoiceSession(agent.Config{
		UserID: *user,
		Agent:  agent.NewHTTPAgent(strings.TrimRight(*server, "/") + "/api/gamemaster"),
		Store:  store,
		Log:    transcript.NewLog(transcript.HistoryCap),
		Events: printer.SessionEvents(),
		Logger: logger,
	}, audio.Config{
		Recognizer: keyboard,
		Events:     printer.AudioEvents(),
	}, *silence)
	defer session.Close()

	if *lat != 0 || *lon != 0 {
		lookupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		loc := geocode.NewClient(logger).Locate(lookupCtx, *lat, *lon)
		cancel()
		store.SetLocation(loc)
		fmt.Printf("Driving near %s\n", geocode.Label(loc))
	}

	channel.StartListening(audio.ModeCommand)
	session.Begin()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-session.Done():
			return
		case line, ok := <-lines:
			if !ok {
				keyboard.Close()
				return
			}
			switch strings.TrimSpace(line) {
			case "/quit", "/exit":
				return
			case "/score":
				fmt.Println(console.Scoreboard(store.Snapshot()))
				continue
			}
			feedCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			taken := keyboard.Feed(feedCtx, line)
			cancel()
			if !taken && strings.TrimSpace(line) != "" {
				fmt.Println("(not listening right now)")
			}
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
