package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"krait/internal/engine"
	"krait/internal/registry"
	"krait/internal/utils"
)

const (
	MAX_RECV_SIZE      = 4 * 1024
	defaultNWorkers    = 10
	defaultConnTimeout = 30 * time.Second
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
)

// ClientSession contains relevant information pertaining to an individual
// connected TCP session.
type ClientSession struct {
	id   string // correlation id for logs
	conn net.Conn
}

// ClientMessage links a message to the session sending it.
type ClientMessage struct {
	session ClientSession
	message Message
}

type Server struct {
	address            string
	port               int
	registry           *registry.Registry
	pool               utils.WorkerPool
	cancel             context.CancelFunc
	clientSessions     map[string]ClientSession
	clientSessionsLock sync.Mutex
	clientMessages     chan ClientMessage
}

func New(address string, port int, reg *registry.Registry) *Server {
	return &Server{
		address:        address,
		port:           port,
		registry:       reg,
		pool:           utils.NewWorkerPool(defaultNWorkers),
		clientSessions: make(map[string]ClientSession),
		clientMessages: make(chan ClientMessage, 1),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	s.cancel()
}

func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	// Setup a cancel on the context for future shutdown.
	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	// Start the worker pool.
	s.pool.Setup(t, s.handleConnection)

	// Start the session handler.
	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().Str("address", s.address).Int("port", s.port).Msg("server running")

	// Start accepting connections.
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				log.Error().Err(err).Msg("error accepting client")
				continue
			}

			session := s.addClientSession(conn)
			log.Info().
				Str("session", session.id).
				Str("address", conn.RemoteAddr().String()).
				Msg("new client added")

			// Pass over the connection to be read from.
			s.pool.AddTask(session)
		}
	}
}

// sessionHandler drains incoming client messages and applies them to the
// registry. All book mutations for a pair serialize inside the registry;
// this loop only orders the reports back onto the right session.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case cm := <-s.clientMessages:
			switch m := cm.message.(type) {
			case NewOrderMessage:
				s.handleNewOrder(cm.session, m)
			case CancelOrderMessage:
				s.handleCancelOrder(cm.session, m)
			default:
				// Heartbeats keep the session alive; nothing to do.
			}
		}
	}
}

func (s *Server) handleNewOrder(session ClientSession, m NewOrderMessage) {
	res, err := s.registry.Place(registry.PlaceRequest{
		Pair:     m.Pair,
		Trader:   m.Trader,
		Side:     m.Side,
		Type:     m.OrderType,
		Price:    m.Price,
		Quantity: m.Quantity,
		Expiry:   m.Expiry,
	})
	if err != nil {
		log.Info().
			Str("session", session.id).
			Str("pair", m.Pair).
			Err(err).
			Msg("order rejected")
		s.sendError(session, err)
		return
	}

	// Drain any continuation so the client sees the completed sweep.
	trades := res.Trades
	for !res.Done {
		next, resumeErr := s.registry.Resume(res.Continuation, 0)
		if resumeErr != nil {
			s.sendError(session, resumeErr)
			return
		}
		trades = append(trades, next.Trades...)
		res = next
	}

	ack := Report{
		Type:      OrderAck,
		Status:    res.Status,
		Side:      m.Side,
		OrderID:   res.OrderID,
		Price:     m.Price,
		Quantity:  res.Filled,
		Remaining: res.Remaining,
		Timestamp: uint64(time.Now().Unix()),
		Pair:      m.Pair,
	}
	s.send(session, ack)
	for _, trade := range trades {
		s.send(session, Report{
			Type:      ExecutionReport,
			Status:    res.Status,
			Side:      m.Side,
			OrderID:   res.OrderID,
			Price:     trade.Price,
			Quantity:  trade.Quantity,
			Timestamp: uint64(trade.Time.Unix()),
			Pair:      m.Pair,
		})
	}
}

func (s *Server) handleCancelOrder(session ClientSession, m CancelOrderMessage) {
	remaining, err := s.registry.Cancel(m.Pair, m.OrderID, m.Trader)
	if err != nil {
		log.Info().
			Str("session", session.id).
			Uint64("order", m.OrderID).
			Err(err).
			Msg("cancel rejected")
		s.sendError(session, err)
		return
	}
	s.send(session, Report{
		Type:      OrderAck,
		Status:    engine.Canceled,
		OrderID:   m.OrderID,
		Remaining: remaining,
		Timestamp: uint64(time.Now().Unix()),
		Pair:      m.Pair,
	})
}

func (s *Server) sendError(session ClientSession, err error) {
	s.send(session, Report{
		Type:      ErrorReport,
		Timestamp: uint64(time.Now().Unix()),
		Err:       err.Error(),
	})
}

func (s *Server) send(session ClientSession, report Report) {
	if _, err := session.conn.Write(report.Serialize()); err != nil {
		log.Error().
			Str("session", session.id).
			Err(err).
			Msg("unable to send report")
		s.deleteClientSession(session.conn.RemoteAddr().String())
	}
}

// handleConnection is a short-lived worker method which reads the next
// message off the connection, parses and passes it forward to
// sessionHandler. If the connection dies, the client session is cleaned
// up. Any error returned from here is fatal to the worker.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	session, ok := task.(ClientSession)
	if !ok {
		return ErrImproperConversion
	}
	conn := session.conn

	// Set max read timeout.
	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		log.Error().
			Str("session", session.id).
			Err(err).
			Msg("failed setting deadline for connection")
		return nil
	}

	buffer := make([]byte, MAX_RECV_SIZE)
	select {
	case <-t.Dying():
		return nil
	default:
		n, err := conn.Read(buffer)
		if err != nil {
			// If a read from a client fails, it is likely that the
			// client has exited. Clean up the client session.
			s.closeClientSession(session)
			return nil
		}

		message, err := parseMessage(buffer[:n])
		if err != nil {
			log.Error().
				Err(err).
				Str("session", session.id).
				Msg("error parsing message")
			s.closeClientSession(session)
			return nil
		}

		// Pass over to the message handling buffer and exit this worker.
		s.clientMessages <- ClientMessage{
			session: session,
			message: message,
		}

		// Push the session back to handle the next message.
		s.pool.AddTask(session)
	}
	return nil
}

// addClientSession is an atomic map add.
func (s *Server) addClientSession(conn net.Conn) ClientSession {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	session := ClientSession{
		id:   uuid.New().String(),
		conn: conn,
	}
	s.clientSessions[conn.RemoteAddr().String()] = session
	return session
}

// deleteClientSession is an atomic map remove.
func (s *Server) deleteClientSession(address string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	delete(s.clientSessions, address)
}

func (s *Server) closeClientSession(session ClientSession) {
	s.deleteClientSession(session.conn.RemoteAddr().String())
	if err := session.conn.Close(); err != nil {
		log.Error().Str("session", session.id).Err(err).Msg("closing connection")
	}
}
