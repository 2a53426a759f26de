package handler

import (
	"net/http"

	"github.com/Dan9191/bank-cards/internal/middleware"
	"github.com/gorilla/mux"
)

// Router wires the API routes. Admin-only routes are gated by the caller's current role.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(h.log))
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	// Public routes
	api.HandleFunc("/auth/register", h.Register).Methods("POST")
	api.HandleFunc("/auth/login", h.Login).Methods("POST")

	// Protected routes
	authRouter := api.NewRoute().Subrouter()
	authRouter.Use(middleware.Auth(h.svc.Auth))
	requireAdmin := middleware.RequireAdmin(h.svc.Users, h.log)
	admin := func(fn http.HandlerFunc) http.Handler { return requireAdmin(fn) }

	authRouter.Handle("/cards", admin(h.CreateCard)).Methods("POST")
	authRouter.Handle("/cards/all", admin(h.ListCards)).Methods("GET")
	authRouter.HandleFunc("/cards/my", h.ListMyCards).Methods("GET")
	authRouter.HandleFunc("/cards/{id:[0-9]+}", h.GetCard).Methods("GET")
	authRouter.HandleFunc("/cards/{id:[0-9]+}/balance", h.GetCardBalance).Methods("GET")
	authRouter.HandleFunc("/cards/{id:[0-9]+}/block", h.BlockCard).Methods("PATCH")
	authRouter.Handle("/cards/{id:[0-9]+}", admin(h.UpdateCard)).Methods("PATCH")
	authRouter.Handle("/cards/{id:[0-9]+}", admin(h.DeleteCard)).Methods("DELETE")

	authRouter.HandleFunc("/transfers", h.CreateTransfer).Methods("POST")
	authRouter.Handle("/transfers/all", admin(h.ListTransfers)).Methods("GET")
	authRouter.HandleFunc("/transfers/my", h.ListMyTransfers).Methods("GET")

	authRouter.HandleFunc("/users/my-info", h.MyInfo).Methods("GET")
	authRouter.Handle("/users", admin(h.ListUsers)).Methods("GET")
	authRouter.Handle("/users/{id:[0-9]+}", admin(h.GetUser)).Methods("GET")
	authRouter.Handle("/users/{id:[0-9]+}", admin(h.UpdateUser)).Methods("PATCH")
	authRouter.Handle("/users/{id:[0-9]+}", admin(h.DeleteUser)).Methods("DELETE")

	return r
}
