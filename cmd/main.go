package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"krait/internal/registry"
	"krait/internal/server"
)

func main() {
	address := flag.String("address", "0.0.0.0", "order entry listen address")
	port := flag.Int("port", 9001, "order entry listen port")
	streamAddr := flag.String("stream", ":9002", "market data websocket address")
	journalDir := flag.String("journal", "journal", "event journal directory")
	base := flag.String("base", "BTC", "base asset of the default pair")
	quote := flag.String("quote", "USD", "quote asset of the default pair")
	tick := flag.Int64("tick", 1, "tick size in price units")
	minSize := flag.Int64("min", 1, "minimum order size")
	makerBps := flag.Int64("maker-bps", 10, "maker fee in basis points")
	takerBps := flag.Int64("taker-bps", 20, "taker fee in basis points")
	flag.Parse()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	srv, err := server.New(server.Config{
		ListenAddress: *address,
		ListenPort:    *port,
		StreamAddress: *streamAddr,
		JournalDir:    *journalDir,
		Pairs: []registry.PairConfig{{
			Base:         *base,
			Quote:        *quote,
			TickSize:     *tick,
			MinOrderSize: *minSize,
			MakerFeeBps:  *makerBps,
			TakerFeeBps:  *takerBps,
		}},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("unable to build server")
	}

	go func() {
		if err := srv.Run(ctx); err != nil {
			log.Error().Err(err).Msg("server stopped")
		}
	}()

	// Block on running the server.
	<-ctx.Done()
}
