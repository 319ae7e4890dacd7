package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuetimer/go/internal/syncclient"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	defaults := syncclient.DefaultConfig()
	serverURL := flag.String("url", getEnv("CUETIMER_URL", defaults.URL), "timer server WebSocket URL")
	room := flag.String("room", getEnv("CUETIMER_ROOM", "MAIN"), "room code")
	role := flag.String("role", "display", "display or control")
	refresh := flag.Duration("refresh", 100*time.Millisecond, "render interval")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	cfg := defaults
	cfg.URL = *serverURL
	cfg.RoomID = *room
	cfg.Role = *role

	clock := clockwork.NewRealClock()
	client := syncclient.NewClient(cfg, nil, clock)
	client.OnState(func(s syncclient.State) {
		log.Info().Str("state", string(s)).Msg("connection state changed")
	})

	if err := client.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start client")
	}
	defer client.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go readCommands(ctx, client, *role)

	ticker := clock.NewTicker(*refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case <-ticker.Chan():
			render(client, clock.Now())
		}
	}
}

func render(client *syncclient.Client, now time.Time) {
	reading, ok := client.Estimator().Read(now)
	if !ok {
		fmt.Printf("\r%-12s waiting for snapshot...", client.State())
		return
	}
	fmt.Printf("\r%-8s %s  %-8s %-6s %-12s",
		reading.RoomID,
		formatRemaining(reading.RemainingMs),
		reading.Status,
		reading.Phase,
		client.State(),
	)
}

// formatRemaining renders milliseconds as [H:]MM:SS, rounding up so the
// display reads 00:00 only once time is actually up.
func formatRemaining(ms int64) string {
	secs := (ms + 999) / 1000
	h, m, s := secs/3600, (secs/60)%60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// readCommands turns stdin lines into messages:
//
//	start [ms] | pause | resume | reset | finish | duration <ms> | adjust <ms>
//	join <room> [role]
//
// Displays may only join; the server drops anything else they send.
func readCommands(ctx context.Context, client *syncclient.Client, role string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		msgType, payload, err := parseCommand(scanner.Text())
		if err != nil {
			log.Warn().Err(err).Msg("unrecognised input")
			continue
		}
		if msgType == "" {
			continue
		}
		if target, ok := payload.(joinTarget); ok {
			if target.Role == "" {
				target.Role = role
			}
			role = target.Role
			if err := client.Join(target.RoomID, target.Role); err != nil {
				log.Warn().Err(err).Str("room_id", target.RoomID).Msg("failed to join room")
			}
			continue
		}
		if err := client.Send(msgType, payload); err != nil {
			log.Warn().Err(err).Str("command", msgType).Msg("failed to send command")
		}
	}
}

type joinTarget struct {
	RoomID string
	Role   string
}

func parseCommand(line string) (string, any, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, nil
	}

	arg := func() (int64, error) {
		if len(fields) < 2 {
			return 0, fmt.Errorf("%s needs a value in milliseconds", fields[0])
		}
		return strconv.ParseInt(fields[1], 10, 64)
	}

	switch fields[0] {
	case "pause", "resume", "reset", "finish":
		return fields[0], nil, nil
	case "start":
		if len(fields) == 1 {
			return "start", nil, nil
		}
		ms, err := arg()
		if err != nil {
			return "", nil, err
		}
		return "start", map[string]int64{"durationMs": ms}, nil
	case "duration":
		ms, err := arg()
		if err != nil {
			return "", nil, err
		}
		return "setDuration", map[string]int64{"durationMs": ms}, nil
	case "join":
		if len(fields) < 2 {
			return "", nil, fmt.Errorf("join needs a room code")
		}
		target := joinTarget{RoomID: fields[1]}
		if len(fields) > 2 {
			target.Role = fields[2]
		}
		return "join", target, nil
	case "adjust":
		ms, err := arg()
		if err != nil {
			return "", nil, err
		}
		return "adjustTime", map[string]int64{"deltaMs": ms}, nil
	}
	return "", nil, fmt.Errorf("unknown command %q", fields[0])
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
