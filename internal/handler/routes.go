package handler

import (
	"net/http"

	"github.com/freeeve/kriegsim/internal/auth"
)

// Routes returns the API mux, without the /api/v1 prefix. Reads and
// battle creation are public; acting for a seat needs its token.
func Routes(battles *BattleHandler, ws *WSHandler, jwtMgr *auth.JWTManager) *http.ServeMux {
	authMw := auth.Middleware(jwtMgr)
	seat := func(h http.HandlerFunc) http.Handler { return authMw(h) }

	api := http.NewServeMux()
	api.HandleFunc("GET /scenarios", battles.Scenarios)
	api.HandleFunc("POST /battles", battles.CreateBattle)
	api.HandleFunc("GET /battles", battles.ListBattles)
	api.HandleFunc("GET /battles/{id}", battles.GetBattle)
	api.HandleFunc("GET /battles/{id}/snapshot", battles.Snapshot)
	api.HandleFunc("GET /battles/{id}/turns", battles.Turns)
	api.Handle("POST /battles/{id}/actions", seat(battles.SubmitAction))
	api.Handle("POST /battles/{id}/resign", seat(battles.Resign))

	// a seat token on the WebSocket is optional
	api.Handle("GET /ws", auth.Optional(jwtMgr)(http.HandlerFunc(ws.ServeWS)))
	return api
}
