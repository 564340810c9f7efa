package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/erazemk/armory/internal/audit"
	"github.com/erazemk/armory/internal/custody"
	"github.com/erazemk/armory/internal/directory"
	"github.com/erazemk/armory/internal/model"
	"github.com/erazemk/armory/internal/orchestrator"
	"github.com/erazemk/armory/internal/split"
	"github.com/erazemk/armory/internal/verification"
)

// SoldierWriter registers soldiers.
type SoldierWriter interface {
	CreateSoldier(ctx context.Context, s model.Soldier) (*model.Soldier, error)
}

// Deps are the services the API exposes. DB holds operator accounts and
// token revocations; custody state lives behind Ledger.
type Deps struct {
	DB           *sql.DB
	JWTSecret    string
	Ledger       *custody.Ledger
	Orchestrator *orchestrator.Orchestrator
	Splitter     *split.Engine
	Tracker      *verification.Tracker
	Directory    directory.Directory
	Soldiers     SoldierWriter
	AuditLog     *audit.LogSink
	Publisher    *audit.Publisher
	Now          func() time.Time
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	if d.Now == nil {
		d.Now = time.Now
	}

	authHandler := &AuthHandler{DB: d.DB, JWTSecret: d.JWTSecret}
	usersHandler := &UsersHandler{DB: d.DB}
	soldiersHandler := &SoldiersHandler{Soldiers: d.Soldiers, Directory: d.Directory, Ledger: d.Ledger}
	itemsHandler := &ItemsHandler{Ledger: d.Ledger, Splitter: d.Splitter, Directory: d.Directory}
	custodyHandler := &CustodyHandler{Orchestrator: d.Orchestrator}
	verificationsHandler := &VerificationsHandler{Tracker: d.Tracker, Now: d.Now}
	auditHandler := &AuditHandler{Log: d.AuditLog, Publisher: d.Publisher}

	requireAdmin := RequireRole(model.RoleAdmin)
	requireManager := RequireRole(model.RoleManager)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		// Public: login.
		r.Post("/auth/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.JWTSecret, d.DB))

			r.Put("/auth/password", authHandler.ChangePassword)
			r.Post("/auth/logout", authHandler.Logout)

			// Users (admin only).
			r.Route("/users", func(r chi.Router) {
				r.Use(requireAdmin)
				r.Get("/", usersHandler.List)
				r.Post("/", usersHandler.Create)
				r.Get("/{id}", usersHandler.Get)
				r.Put("/{id}", usersHandler.Update)
				r.Put("/{id}/password", usersHandler.ResetPassword)
				r.Delete("/{id}", usersHandler.Delete)
			})

			// Soldiers: read (all roles), write (manager+).
			r.Get("/soldiers", soldiersHandler.List)
			r.With(requireManager).Post("/soldiers", soldiersHandler.Create)
			r.Get("/soldiers/{id}", soldiersHandler.Get)
			r.Get("/soldiers/{id}/equipment", soldiersHandler.Equipment)

			// Serialized items: read (all roles), write (manager+).
			r.Get("/items", itemsHandler.List)
			r.With(requireManager).Post("/items", itemsHandler.Create)
			r.Get("/items/{category}/{id}", itemsHandler.Get)
			r.With(requireManager).Delete("/items/{category}/{id}", itemsHandler.Delete)
			r.Get("/items/{category}/{id}/components", itemsHandler.Components)

			// Bulk records.
			r.Get("/bulk", itemsHandler.ListBulk)
			r.With(requireManager).Post("/bulk", itemsHandler.CreateBulk)
			r.Get("/bulk/{id}", itemsHandler.GetBulk)
			r.With(requireManager).Post("/bulk/consolidate", itemsHandler.Consolidate)

			// Custody changes. Role and division checks happen per batch.
			r.Post("/custody/resolve", custodyHandler.Resolve)
			r.Post("/custody/deposit", custodyHandler.Deposit)
			r.Post("/custody/release", custodyHandler.Release)
			r.Post("/custody/reassign", custodyHandler.Reassign)
			r.Post("/custody/full-release", custodyHandler.FullRelease)

			// Verifications: read (all roles), write (manager+).
			r.Get("/verifications", verificationsHandler.List)
			r.Get("/verifications/summary", verificationsHandler.Summary)
			r.Get("/verifications/status", verificationsHandler.Status)
			r.With(requireManager).Post("/verifications/soldiers/{id}", verificationsHandler.VerifySoldier)
			r.With(requireManager).Post("/verifications/items/{category}/{id}", verificationsHandler.VerifyItem)
			r.With(requireManager).Delete("/verifications/{id}", verificationsHandler.Undo)

			// Audit trail (manager+), flushing (admin).
			r.With(requireManager).Get("/audit/pending", auditHandler.Pending)
			r.With(requireAdmin).Post("/audit/flush", auditHandler.Flush)
			r.With(requireManager).Get("/audit/{id}", auditHandler.Get)
		})
	})

	return r
}
