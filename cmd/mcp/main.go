// Command mcp serves the battle tools over the Model Context Protocol on
// stdin and stdout. Logs go to stderr.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/kriegsim/internal/agent"
	"github.com/freeeve/kriegsim/internal/logger"
	"github.com/freeeve/kriegsim/internal/mcpserver"
)

func main() {
	url := flag.String("url", envOr("KRIEGSIM_URL", "http://localhost:8009"), "battle server base URL")
	token := flag.String("token", "", "seat token to start with")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	logger.Init(logger.Options{Level: level, Out: os.Stderr})

	client := agent.NewClient(*url)
	if *token != "" {
		battleID, player, err := agent.SeatFromToken(*token)
		if err != nil {
			log.Fatal().Err(err).Msg("Bad seat token")
		}
		client.SetToken(player, *token)
		log.Info().Str("battleId", battleID).Int("player", player).Msg("Seat token loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("url", *url).Msg("MCP server ready on stdio")
	if err := mcpserver.Serve(ctx, client); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("MCP server stopped")
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
