package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/kriegsim/internal/auth"
	"github.com/freeeve/kriegsim/internal/model"
	"github.com/freeeve/kriegsim/internal/scenario"
	"github.com/freeeve/kriegsim/internal/service"
	"github.com/freeeve/kriegsim/pkg/battle"
)

const defaultListLimit = 50

// BattleHandler handles battle endpoints.
type BattleHandler struct {
	svc    *service.BattleService
	jwtMgr *auth.JWTManager
}

// NewBattleHandler creates a BattleHandler.
func NewBattleHandler(svc *service.BattleService, jwtMgr *auth.JWTManager) *BattleHandler {
	return &BattleHandler{svc: svc, jwtMgr: jwtMgr}
}

// CreateBattleResponse is the body of a successful create. Tokens holds a
// seat token per human seat, keyed by player.
type CreateBattleResponse struct {
	Battle *service.BattleView `json:"battle"`
	Tokens map[int]string      `json:"tokens,omitempty"`
}

// CreateBattle handles POST /api/v1/battles
func (h *BattleHandler) CreateBattle(w http.ResponseWriter, r *http.Request) {
	var req service.CreateBattleInput
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := h.svc.CreateBattle(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := CreateBattleResponse{Battle: view, Tokens: make(map[int]string)}
	for _, seat := range view.Seats {
		if seat.Kind != model.SeatHuman {
			continue
		}
		token, err := h.jwtMgr.GenerateSeatToken(view.ID, seat.Player)
		if err != nil {
			log.Error().Err(err).Str("battleId", view.ID).Int("player", seat.Player).Msg("Failed to issue seat token")
			writeError(w, http.StatusInternalServerError, "failed to issue seat token")
			return
		}
		resp.Tokens[seat.Player] = token
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListBattles handles GET /api/v1/battles
func (h *BattleHandler) ListBattles(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", model.StatusActive, model.StatusFinished, model.StatusAborted:
	default:
		writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}
	limit, err := queryInt(r, "limit", defaultListLimit, 1, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	battles, err := h.svc.ListBattles(r.Context(), status, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if battles == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, battles)
}

// GetBattle handles GET /api/v1/battles/{id}
func (h *BattleHandler) GetBattle(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetBattle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Snapshot handles GET /api/v1/battles/{id}/snapshot?player=N
func (h *BattleHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	player, err := queryInt(r, "player", 0, 0, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.svc.Snapshot(r.Context(), r.PathValue("id"), player)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Turns handles GET /api/v1/battles/{id}/turns?since=N
func (h *BattleHandler) Turns(w http.ResponseWriter, r *http.Request) {
	since, err := queryInt(r, "since", 0, 0, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	turns, err := h.svc.Turns(r.Context(), r.PathValue("id"), since)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if turns == nil {
		turns = []model.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

// SubmitAction handles POST /api/v1/battles/{id}/actions
func (h *BattleHandler) SubmitAction(w http.ResponseWriter, r *http.Request) {
	seat, ok := h.seatFor(w, r)
	if !ok {
		return
	}
	var req struct {
		Action *int `json:"action"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Action == nil {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	res, err := h.svc.SubmitAction(r.Context(), seat.BattleID, seat.Player, *req.Action)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Resign handles POST /api/v1/battles/{id}/resign
func (h *BattleHandler) Resign(w http.ResponseWriter, r *http.Request) {
	seat, ok := h.seatFor(w, r)
	if !ok {
		return
	}
	if err := h.svc.Resign(r.Context(), seat.BattleID, seat.Player); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resigned"})
}

// Scenarios handles GET /api/v1/scenarios
func (h *BattleHandler) Scenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Scenarios())
}

// seatFor returns the authenticated seat if its token was issued for the
// battle in the path.
func (h *BattleHandler) seatFor(w http.ResponseWriter, r *http.Request) (auth.Seat, bool) {
	seat, ok := auth.SeatFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "seat token required")
		return seat, false
	}
	if seat.BattleID != r.PathValue("id") {
		writeError(w, http.StatusForbidden, "token is for another battle")
		return seat, false
	}
	return seat, true
}

// writeServiceError maps service and engine errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	if kind := battle.RejectionKind(err); kind != nil {
		writeRejection(w, err, kind)
		return
	}
	switch {
	case errors.Is(err, service.ErrBattleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrBattleBusy):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, service.ErrNotYourTurn),
		errors.Is(err, service.ErrAgentSeat),
		errors.Is(err, service.ErrBattleFinished):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidSeats),
		errors.Is(err, service.ErrInvalidRules),
		errors.Is(err, service.ErrInvalidPlayer),
		errors.Is(err, scenario.ErrNotFound):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("Unhandled battle error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
