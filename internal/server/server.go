package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/rohandol112/tcetian-realtime/internal/dispatch"
	"github.com/rohandol112/tcetian-realtime/internal/presence"
	"github.com/rohandol112/tcetian-realtime/internal/server/middleware"
	"github.com/rohandol112/tcetian-realtime/pkg/config"
	"github.com/rohandol112/tcetian-realtime/pkg/state"
	"github.com/rohandol112/tcetian-realtime/pkg/state/statemanager"
	"github.com/rohandol112/tcetian-realtime/pkg/transport"
)

type App struct {
	logger       *slog.Logger
	stateManager state.Manager
	presence     *presence.Tracker
	fanout       *dispatch.Fanout
	eventRouter  *dispatch.Router
	wg           sync.WaitGroup
	http         *http.Server
	config       *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) *App {
	stateManager := statemanager.NewInMemoryManager(logger)
	presenceTracker := presence.NewTracker(logger, cfg.Sync.TypingTTL)
	fanout := dispatch.NewFanout(logger, stateManager)
	eventRouter := dispatch.NewRouter(logger, stateManager, fanout, presenceTracker)

	app := &App{
		logger:       logger,
		stateManager: stateManager,
		presence:     presenceTracker,
		fanout:       fanout,
		eventRouter:  eventRouter,
		config:       cfg,
		ctx:          rootCtx,
	}

	connCounter := middleware.UserConnectionCounter(stateManager.UserConnectionCount)
	// closes the user's oldest connection to make room for the new one
	connCycler := func(userID string) {
		oldest, found := stateManager.FindOldestUserConnection(userID)
		if found {
			logger.Info("Cycling connection: closing oldest",
				slog.String("userID", userID),
				slog.String("connID", oldest.ID.String()),
			)
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(logger, app.config.Server.Auth.JWTSecret),
			middleware.NewConnectionLimiter(
				logger,
				connCounter,
				connCycler,
				app.config.Server.ConnectionLimit,
			),
		),
	)
	// the mutation path (the authoritative REST API) emits domain events here
	mux.Handle("/publish",
		middleware.Chain(http.HandlerFunc(app.publishHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(logger, app.config.Server.Auth.JWTSecret),
		),
	)

	app.http = &http.Server{
		Addr:    app.config.Server.Address,
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}

	return app
}

// Fanout exposes the dispatcher for in-process mutation paths.
func (a *App) Fanout() *dispatch.Fanout {
	return a.fanout
}

func (a *App) Run() error {
	go a.presence.Run(a.ctx)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConn(
		r.Context(),
		&a.wg,
		wsConn,
		transport.Config(a.config.Transport),
		a.logger,
	)
	stateConn, err := a.stateManager.RegisterConnection(conn, reqMeta.IP)
	if err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}
	// bind the authenticated identity to the registered connection
	if _, err := a.stateManager.AssociateUser(stateConn.ID, reqMeta.UserID); err != nil {
		connLogger.Error("Failed to associate user with connection", slog.Any("error", err))
		conn.Close(err)
		return
	}
	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
		// deregistration releases every room membership the connection held
		if dErr := a.stateManager.DeregisterConnection(id); dErr != nil {
			connLogger.Error("Failed to deregister connection from state", slog.Any("error", dErr))
		}
		a.presence.SetStatus(reqMeta.UserID, false)
	})

	connLogger.Info("User connection fully established")
	conn.Run()
	<-conn.Done()
}

// publishRequest is the wire form of a domain event as submitted by the
// mutation path.
type publishRequest struct {
	Kind         string          `json:"kind"`
	PostID       string          `json:"postId,omitempty"`
	EventID      string          `json:"eventId,omitempty"`
	Topic        string          `json:"topic,omitempty"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

func (a *App) publishHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	a.fanout.Publish(dispatch.DomainEvent{
		Kind:         dispatch.Kind(req.Kind),
		PostID:       req.PostID,
		EventID:      req.EventID,
		Topic:        req.Topic,
		TargetUserID: req.TargetUserID,
		Payload:      req.Payload,
	})
	w.WriteHeader(http.StatusAccepted)
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections
	a.logger.Info("Closing all active connections...")
	rooms, conns := a.stateManager.Stats()
	a.logger.Info("Registry at shutdown", slog.Int("rooms", rooms), slog.Int("conns", conns))
	a.closeAllConnections()

	// wait for all connection goroutines to finish their cleanup
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}

func (a *App) closeAllConnections() {
	for _, c := range a.stateManager.AllConnections() {
		c.Transport.Close(errors.New("graceful shutdown"))
	}
}
