package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"krait/internal/custody"
	"krait/internal/engine"
	"krait/internal/journal"
	"krait/internal/net"
	"krait/internal/registry"
	"krait/internal/stream"
)

type Config struct {
	ListenAddress string
	ListenPort    int
	StreamAddress string // http listen address for the websocket feed
	JournalDir    string
	Pairs         []registry.PairConfig
}

// Server wires the registry to its collaborators: the custody ledger,
// the durable event journal, the websocket market-data hub and the TCP
// order entry listener.
type Server struct {
	cfg      Config
	registry *registry.Registry
	ledger   *custody.Ledger
	journal  *journal.Journal
	hub      *stream.Hub
	tcp      *net.Server
}

func New(cfg Config) (*Server, error) {
	ledger := custody.NewLedger()
	reg := registry.New(ledger)

	jnl, err := journal.Open(cfg.JournalDir)
	if err != nil {
		return nil, err
	}
	hub := stream.NewHub()
	reg.SetSink(engine.MultiSink{jnl, hub})

	for _, pc := range cfg.Pairs {
		created, err := reg.CreatePair(pc)
		if err != nil {
			_ = jnl.Close()
			return nil, fmt.Errorf("registering pair: %w", err)
		}
		log.Info().Str("pair", created.ID).Msg("pair registered")
	}

	return &Server{
		cfg:      cfg,
		registry: reg,
		ledger:   ledger,
		journal:  jnl,
		hub:      hub,
		tcp:      net.New(cfg.ListenAddress, cfg.ListenPort, reg),
	}, nil
}

func (s *Server) Registry() *registry.Registry { return s.registry }

// Ledger exposes the in-process custody ledger so deployments can seed
// balances.
func (s *Server) Ledger() *custody.Ledger { return s.ledger }

// Run serves until the context is done, then closes the journal.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.StreamAddress != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", s.hub.ServeWS)
		go func() {
			if err := http.ListenAndServe(s.cfg.StreamAddress, mux); err != nil {
				log.Error().Err(err).Msg("stream listener stopped")
			}
		}()
		log.Info().Str("address", s.cfg.StreamAddress).Msg("market data stream running")
	}

	s.tcp.Run(ctx)
	return s.journal.Close()
}
