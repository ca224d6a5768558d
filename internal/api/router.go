package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", apiHandler.RegisterHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/health", apiHandler.HealthHandler)

		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/logout", apiHandler.LogoutHandler)
			r.Get("/session", apiHandler.SessionHandler)
			r.Post("/messages", apiHandler.PostMessageHandler)

			r.Get("/chats", apiHandler.ListChatsHandler)
			r.Post("/chats/new", apiHandler.NewChatHandler)
			r.Post("/chats/{chatID}/open", apiHandler.OpenChatHandler)
		})
	})

	return r
}
