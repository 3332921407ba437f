package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handlers groups the API handlers mounted by RegisterRoutes
type Handlers struct {
	Auth   *AuthHandler
	Fields *FieldHandler
	Admin  *AdminHandler
}

// RegisterRoutes registers the /api/v1 routes. Everything except session
// issuance requires a client-context token via authMiddleware.
func RegisterRoutes(r chi.Router, h Handlers, authMiddleware func(next http.Handler) http.Handler) {
	// POST /api/v1/session - Issue a client-context token
	r.Post("/session", h.Auth.IssueSession)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Auth.Login)
			r.Post("/logout", h.Auth.Logout)
			r.Post("/auto-login", h.Auth.AutoLogin)
			r.Get("/me", h.Auth.Me)
			r.Post("/activity", h.Auth.Activity)

			r.Route("/password-reset", func(r chi.Router) {
				r.Get("/", h.Auth.ResetState)
				r.Post("/request", h.Auth.RequestOTP)
				r.Post("/verify", h.Auth.VerifyOTP)
				r.Post("/confirm", h.Auth.ConfirmReset)
				r.Post("/resend", h.Auth.ResendOTP)
				r.Post("/back", h.Auth.ResetBack)
			})
		})

		r.Route("/fields", func(r chi.Router) {
			r.Get("/", h.Fields.ListFields)
			r.Post("/{id}/items", h.Fields.AddItem)
			r.Delete("/{id}/items/{itemId}", h.Fields.RemoveItem)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", h.Admin.ListUsers)
				r.Post("/", h.Admin.CreateUser)
				r.Get("/{username}", h.Admin.GetUser)
				r.Patch("/{username}", h.Admin.UpdateUser)
				r.Delete("/{username}", h.Admin.DeleteUser)
				r.Post("/{username}/toggle-status", h.Admin.ToggleUserStatus)
			})

			r.Route("/fields", func(r chi.Router) {
				r.Get("/", h.Admin.ListFields)
				r.Post("/", h.Admin.CreateField)
				r.Patch("/{id}", h.Admin.UpdateField)
				r.Delete("/{id}", h.Admin.DeactivateField)
			})

			r.Get("/activity", h.Admin.ActivityLog)
		})
	})
}
