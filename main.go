package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lachameleon/dcmod-reborn/bridge"
	"github.com/lachameleon/dcmod-reborn/dedup"
	"github.com/lachameleon/dcmod-reborn/ratelimit"
	"github.com/lachameleon/dcmod-reborn/relay"
	"github.com/lachameleon/dcmod-reborn/ws"
)

const tickInterval = 50 * time.Millisecond

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := LoadConfig()

	// Everything is constructed and wired here, once. No component
	// reaches for another through hidden globals.
	sess := newConsoleSession(cfg.PlayerName)
	store := dedup.New()
	limiter := ratelimit.New(cfg.MaxMessagesPerMinute)
	router := relay.New(sess, store, limiter)
	router.SetLocalChatMode(cfg.LocalChatToDiscord)
	router.RelayActive = func() bool { return cfg.RelayEnabled && cfg.RelayURL != "" }

	broker := ws.New(cfg.Port, sess)
	broker.Handler = router.HandleRemote
	broker.OnSyncGroup = router.SetSyncGroup
	router.Broker = broker

	var relayBridge *bridge.Bridge
	if cfg.RelayEnabled && cfg.RelayURL != "" {
		b, err := bridge.New(cfg.RelayURL, cfg.RelayToken, cfg.RelayClientID, cfg.RelayTimeout)
		if err != nil {
			slog.Error("invalid relay configuration", "err", err)
			os.Exit(1)
		}
		b.OnRemoteMessage = router.DisplayRemote
		router.Bridge = b
		relayBridge = b
	}

	sess.onLocal = router.HandleLocalChat
	sess.onOutgoing = router.FilterOutgoing

	if err := broker.Start(); err != nil {
		if errors.Is(err, ws.ErrPortInUse) {
			slog.Error("port is already in use, pick another with -port", "port", cfg.Port)
		} else {
			slog.Error("failed to start chat bridge server", "err", err)
		}
		os.Exit(1)
	}

	if relayBridge != nil {
		relayBridge.Start()
		if id, ok := sess.Identity(); ok {
			relayBridge.PushSessionJoin(id.Name, sess.InMultiplayer(), "", id.UUID, id.SkinURL)
		}
	}

	// The logical clock. Its callback is the only place the tick queue
	// is drained.
	tickerDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tickerDone:
				return
			case <-ticker.C:
				router.OnTick(sess.advanceTick())
			}
		}
	}()

	go readInput(sess, router, broker, limiter)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	slog.Info("shutting down")
	close(tickerDone)
	if relayBridge != nil {
		relayBridge.Close()
	}
	broker.Close()
	router.Close()
}

func readInput(sess *consoleSession, router *relay.Router, broker *ws.Broker, limiter *ratelimit.Limiter) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/mode":
			if router.ToggleLocalChatMode() {
				sess.ShowMessage("[Discord Chat] Local chat now goes to Discord")
			} else {
				sess.ShowMessage("[Discord Chat] Local chat now goes to the server")
			}
			continue
		case "/status":
			sess.ShowMessage(fmt.Sprintf("[Discord Chat] Clients: %d | Rate: %d/%d per minute | Sync group: %s",
				broker.ConnectionCount(), router.RateLimitUsage(), limiter.Limit(), router.SyncGroup()))
			continue
		}

		sess.SendChat(line)
	}
}
