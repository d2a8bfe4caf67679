package main

import (
	"context"
	"flag"
	"fmt"
	"groupchat-server/config"
	"groupchat-server/handlers/api/groups"
	"groupchat-server/handlers/api/messages"
	presenceapi "groupchat-server/handlers/api/presence"
	"groupchat-server/handlers/api/users"
	"groupchat-server/handlers/auth"
	"groupchat-server/handlers/websocket"
	authmw "groupchat-server/middleware"
	"groupchat-server/presence"
	"groupchat-server/stores"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

type app struct {
	backend     *stores.Backend
	issuer      *auth.Issuer
	coordinator *presence.Coordinator
	dispatcher  *presence.Dispatcher
	typing      *presence.Typing
}

func newApp(backend *stores.Backend, issuer *auth.Issuer, transport presence.Transport, typingTTL time.Duration) *app {
	registry := presence.NewRegistry()
	dispatcher := presence.NewDispatcher(registry, backend.Store, transport)
	typing := presence.NewTyping(backend.Store, dispatcher, typingTTL)
	coordinator := presence.NewCoordinator(presence.Deps{
		Registry:   registry,
		Dispatcher: dispatcher,
		Membership: backend.Store,
		Status:     backend.Status,
		Transport:  transport,
		Typing:     typing,
	})
	return &app{
		backend:     backend,
		issuer:      issuer,
		coordinator: coordinator,
		dispatcher:  dispatcher,
		typing:      typing,
	}
}

func setupRouter(a *app, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	corsOptions := cors.Options{
		AllowedOrigins:   append([]string{"http://localhost:*", "http://127.0.0.1:*"}, allowedOrigins...),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	r.Use(cors.Handler(corsOptions))

	store := a.backend.Store
	msgDeps := messages.Deps{
		Store:  store,
		Blobs:  a.backend.Blobs,
		Fanout: a.dispatcher,
		Typing: a.typing,
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", auth.HandleRegister(store, a.issuer))
		r.Post("/login", auth.HandleLogin(store, a.issuer))

		r.Group(func(r chi.Router) {
			r.Use(authmw.AuthJWT(a.issuer))

			r.Route("/users", func(r chi.Router) {
				r.Get("/me", users.HandleMe(store))
				r.Put("/me", users.HandleUpdateMe(store))
				r.Get("/search", users.HandleSearch(store))
				r.Get("/online", users.HandleOnline(store))
				r.Get("/{userID}", users.HandleGetUser(store))
			})

			r.Route("/friends", func(r chi.Router) {
				r.Get("/", users.HandleListFriends(store))
				r.Post("/{userID}", users.HandleAddFriend(store))
				r.Delete("/{userID}", users.HandleRemoveFriend(store))
			})

			r.Route("/groups", func(r chi.Router) {
				r.Post("/", groups.HandleCreate(store, a.coordinator))
				r.Get("/", groups.HandleList(store))
				r.Get("/search", groups.HandleSearch(store))
				r.Route("/{groupID}", func(r chi.Router) {
					r.Get("/", groups.HandleGet(store))
					r.Put("/", groups.HandleUpdate(store))
					r.Delete("/", groups.HandleDelete(store, a.coordinator))
					r.Post("/members", groups.HandleAddMember(store, a.coordinator))
					r.Delete("/members/{userID}", groups.HandleRemoveMember(store, a.coordinator))
					r.Post("/admins", groups.HandleAddAdmin(store))
					r.Delete("/admins/{userID}", groups.HandleRemoveAdmin(store))
					r.Get("/messages", messages.HandleList(msgDeps))
					r.Post("/messages", messages.HandleSend(msgDeps))
					r.Post("/read", messages.HandleMarkRead(msgDeps))
					r.Post("/attachments", messages.HandleUpload(msgDeps))
					r.Get("/typing", presenceapi.HandleTyping(a.typing, store))
				})
			})

			r.Route("/messages/{messageID}", func(r chi.Router) {
				r.Put("/", messages.HandleEdit(msgDeps))
				r.Delete("/", messages.HandleDelete(msgDeps))
			})

			r.Get("/attachments/{key}", messages.HandleDownload(a.backend.Blobs))
			r.Get("/presence", presenceapi.HandleOnline(a.coordinator))
			r.Get("/presence/{userID}", presenceapi.HandleGet(a.coordinator, store))
		})
	})

	return r
}

func waitForShutdown(ioo *socketio.Server, a *app) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	s := <-signalC
	logrus.WithField("signal", s.String()).Info("Shutting down...")

	ioo.Close(nil)
	a.typing.Close()
	if err := a.backend.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close storage")
	}
	os.Exit(0)
}

func main() {
	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":3002", "Set the server listen address")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	backend, err := stores.Open(ctx, cfg)
	cancel()
	if err != nil {
		logrus.WithError(err).Fatal("failed to open storage")
	}

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	ioo := websocket.NewServer(cfg.AllowedOrigins)
	a := newApp(backend, issuer, websocket.NewTransport(ioo), cfg.TypingTTL)
	websocket.Attach(ioo, websocket.NewChatHandler(a.coordinator, a.typing, issuer, issuer.Configured()))

	r := setupRouter(a, cfg.AllowedOrigins)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddr, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(ioo, a)
}
