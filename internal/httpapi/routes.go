package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func SetupRoutes(a *API, ws http.HandlerFunc) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws)

	r.Route("/battles", func(r chi.Router) {
		r.Post("/", a.CreateBattle)
		r.Get("/{id}", a.GetBattle)
		r.Post("/{id}/start", a.StartBattle)
		r.Delete("/{id}", a.CancelBattle)
	})

	r.Route("/matchmaking/tickets", func(r chi.Router) {
		r.Post("/", a.Enqueue)
		r.Delete("/{id}", a.CancelTicket)
	})

	r.Route("/tournaments", func(r chi.Router) {
		r.Post("/", a.CreateTournament)
		r.Get("/{id}", a.GetTournament)
		r.Get("/{id}/standings", a.TournamentStandings)
		r.Post("/{id}/join", a.JoinTournament)
		r.Post("/{id}/advance", a.AdvanceTournament)
	})

	r.Get("/leaderboard", a.Leaderboard)
	r.Get("/participants/{id}/history", a.History)

	return r
}
