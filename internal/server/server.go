package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"huddle/internal/chat"
	"huddle/internal/handlers"
	"huddle/internal/handlers/room"
	"huddle/internal/membership"
	"huddle/internal/middleware"
	"huddle/internal/registry"
	"huddle/internal/session"
	"huddle/internal/store"
	"huddle/internal/sweeper"
)

type Options struct {
	Addr             string
	TicketSecret     string
	TicketTTL        time.Duration
	CORSOrigins      []string
	DeleteEmptyRooms bool
}

type Deps struct {
	Store       store.Store
	Registry    *registry.Registry
	Coordinator *membership.Coordinator
	Channel     *chat.Channel
	Sweeper     *sweeper.Sweeper
}

type Server struct {
	opts Options
	deps Deps
	log  logrus.FieldLogger
	http *http.Server
}

func NewServer(opts Options, deps Deps, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{opts: opts, deps: deps, log: log}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func HandlerFunc(h http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r)
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// middlewares
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, "Welcome to huddle! Server is running....")
	})
	r.Get("/health", HandlerFunc(&handlers.HealthHandler{Store: s.deps.Store}))

	r.Route("/rooms", func(r chi.Router) {
		r.Get("/", HandlerFunc(&room.RoomListHandler{Rooms: s.deps.Registry, Members: s.deps.Coordinator}))
		r.Post("/", HandlerFunc(&room.CreateRoomHandler{Rooms: s.deps.Registry}))
		r.Get("/{code}", HandlerFunc(&room.RoomCheckHandler{Rooms: s.deps.Registry, Members: s.deps.Coordinator}))
		r.Get("/{code}/members", HandlerFunc(&room.RoomMembersHandler{Members: s.deps.Coordinator}))
		r.Get("/{code}/messages", HandlerFunc(&room.RoomMessagesHandler{Rooms: s.deps.Registry, Messages: s.deps.Channel}))
		r.With(middleware.AuthJWT(s.opts.TicketSecret)).
			Post("/{code}/messages", HandlerFunc(&room.SendMessageHandler{Members: s.deps.Coordinator, Messages: s.deps.Channel}))
	})

	// WebSocket endpoint
	r.Get("/ws", HandlerFunc(&handlers.WSHandler{
		Deps: session.Deps{
			Store:            s.deps.Store,
			Registry:         s.deps.Registry,
			Coordinator:      s.deps.Coordinator,
			Channel:          s.deps.Channel,
			Log:              s.log,
			DeleteEmptyRooms: s.opts.DeleteEmptyRooms,
		},
		TicketSecret: s.opts.TicketSecret,
		TicketTTL:    s.opts.TicketTTL,
		Log:          s.log,
	}))

	return r
}

// Run serves HTTP and runs the sweeper. It returns once Shutdown has been
// called and ctx is done, or as soon as either one fails.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.WithField("addr", s.opts.Addr).Info("server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if s.deps.Sweeper != nil {
		g.Go(func() error { return s.deps.Sweeper.Run(ctx) })
	}
	return g.Wait()
}

// Shutdown stops accepting requests and waits for handlers to finish.
// Websockets are hijacked, so they are not waited for here.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
