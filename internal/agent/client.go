package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/kriegsim/internal/auth"
	"github.com/freeeve/kriegsim/internal/model"
	"github.com/freeeve/kriegsim/pkg/battle"
)

// WSEvent mirrors handler.WSEvent for client-side decoding.
type WSEvent struct {
	Type     string          `json:"type"`
	BattleID string          `json:"battle_id"`
	Data     json.RawMessage `json:"data"`
}

// SeatRequest mirrors service.SeatInput.
type SeatRequest struct {
	Player int    `json:"player"`
	Kind   string `json:"kind"`
	Agent  string `json:"agent,omitempty"`
}

// CreateRequest mirrors service.CreateBattleInput.
type CreateRequest struct {
	Name       string        `json:"name,omitempty"`
	Scenario   string        `json:"scenario,omitempty"`
	Seats      []SeatRequest `json:"seats,omitempty"`
	MaxTurns   int           `json:"max_turns,omitempty"`
	MoveMetric string        `json:"move_metric,omitempty"`
	Ceiling    string        `json:"ceiling,omitempty"`
	Mutual     string        `json:"mutual,omitempty"`
}

// BattleInfo mirrors service.BattleView.
type BattleInfo struct {
	model.Battle
	Position string     `json:"position"`
	Active   int        `json:"active"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

// ActionReply mirrors service.ActionResult.
type ActionReply struct {
	Result   battle.StepResult   `json:"result"`
	Reward   float64             `json:"reward"`
	Auto     []battle.StepResult `json:"auto,omitempty"`
	Outcome  battle.Outcome      `json:"outcome"`
	Active   int                 `json:"active"`
	Position string              `json:"position"`
}

// APIError is a non-2xx answer from the server. Kind is set for rejected
// actions.
type APIError struct {
	Status  int
	Message string `json:"error"`
	Kind    string `json:"kind"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("status %d: %s (%s)", e.Status, e.Message, e.Kind)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// Rejected reports whether err is the server refusing an action.
func Rejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnprocessableEntity
}

// Conflict reports whether err means the action came at the wrong time:
// not this seat's turn, battle busy or already over.
func Conflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.Status == http.StatusConflict || apiErr.Status == http.StatusTooManyRequests)
}

// SeatFromToken reads the battle and player a seat token was issued for.
// The signature is not checked; the server does that.
func SeatFromToken(token string) (string, int, error) {
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", 0, fmt.Errorf("parse seat token: %w", err)
	}
	if claims.BattleID == "" || (claims.Player != 0 && claims.Player != 1) {
		return "", 0, auth.ErrInvalidToken
	}
	return claims.BattleID, claims.Player, nil
}

// Client is an HTTP+WebSocket client for the battle server. It holds the
// seat tokens of the seats it plays.
type Client struct {
	baseURL string
	httpC   *http.Client

	mu       sync.Mutex
	tokens   map[int]string
	wsConn   *websocket.Conn
	events   chan WSEvent
	closedWS bool
}

// NewClient creates a client targeting the given server URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpC:   &http.Client{Timeout: 30 * time.Second},
		tokens:  make(map[int]string),
	}
}

// SetToken stores the seat token for player.
func (c *Client) SetToken(player int, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[player] = token
}

// Token returns the seat token for player, if held.
func (c *Client) Token(player int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[player]
}

// CreateBattle starts a battle and keeps the tokens of its human seats.
func (c *Client) CreateBattle(ctx context.Context, req CreateRequest) (*BattleInfo, error) {
	var out struct {
		Battle *BattleInfo    `json:"battle"`
		Tokens map[int]string `json:"tokens"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/battles", "", req, &out); err != nil {
		return nil, err
	}
	if out.Battle == nil {
		return nil, fmt.Errorf("create battle: empty response")
	}
	for player, token := range out.Tokens {
		c.SetToken(player, token)
	}
	return out.Battle, nil
}

// GetBattle fetches a battle with its live position.
func (c *Client) GetBattle(ctx context.Context, battleID string) (*BattleInfo, error) {
	var out BattleInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/battles/"+url.PathEscape(battleID), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Scenarios lists the scenario names the server can set up.
func (c *Client) Scenarios(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.do(ctx, http.MethodGet, "/api/v1/scenarios", "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Turns fetches the turn history of a battle from turn since onwards.
func (c *Client) Turns(ctx context.Context, battleID string, since int) ([]model.Turn, error) {
	var out []model.Turn
	path := fmt.Sprintf("/api/v1/battles/%s/turns?since=%d", url.PathEscape(battleID), since)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Snapshot fetches the observation of player.
func (c *Client) Snapshot(ctx context.Context, battleID string, player int) (*battle.Snapshot, error) {
	var out battle.Snapshot
	path := fmt.Sprintf("/api/v1/battles/%s/snapshot?player=%d", url.PathEscape(battleID), player)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitAction plays action for player using its seat token.
func (c *Client) SubmitAction(ctx context.Context, battleID string, player, action int) (*ActionReply, error) {
	token := c.Token(player)
	if token == "" {
		return nil, fmt.Errorf("no seat token for player %d", player)
	}
	var out ActionReply
	path := "/api/v1/battles/" + url.PathEscape(battleID) + "/actions"
	if err := c.do(ctx, http.MethodPost, path, token, map[string]int{"action": action}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resign gives the battle up for player.
func (c *Client) Resign(ctx context.Context, battleID string, player int) error {
	token := c.Token(player)
	if token == "" {
		return fmt.Errorf("no seat token for player %d", player)
	}
	return c.do(ctx, http.MethodPost, "/api/v1/battles/"+url.PathEscape(battleID)+"/resign", token, nil, nil)
}

// ConnectWS opens a WebSocket subscribed to battleID and starts listening
// for events.
func (c *Client) ConnectWS(ctx context.Context, battleID string) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/api/v1/ws?battle_id=" + url.QueryEscape(battleID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	c.mu.Lock()
	c.wsConn = conn
	c.events = make(chan WSEvent, 64)
	c.closedWS = false
	c.mu.Unlock()

	go c.readWSLoop(conn, c.events)
	return nil
}

// Events returns the channel of incoming WebSocket events. It is nil
// before ConnectWS and closed when the connection drops.
func (c *Client) Events() <-chan WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// CloseWS closes the WebSocket connection.
func (c *Client) CloseWS() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsConn != nil && !c.closedWS {
		c.closedWS = true
		c.wsConn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wsConn.Close()
	}
}

// readWSLoop decodes frames into events. The server may batch several
// events into one frame, one per line.
func (c *Client) readWSLoop(conn *websocket.Conn, events chan<- WSEvent) {
	defer close(events)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closedWS
			c.mu.Unlock()
			if !closed {
				log.Debug().Err(err).Msg("WS read error")
			}
			return
		}
		for _, line := range bytes.Split(msg, []byte("\n")) {
			var event WSEvent
			if err := json.Unmarshal(line, &event); err != nil {
				continue
			}
			select {
			case events <- event:
			default:
				log.Debug().Str("type", event.Type).Msg("Event buffer full, dropping")
			}
		}
	}
}

// do sends a JSON request and decodes a JSON answer into out when non-nil.
func (c *Client) do(ctx context.Context, method, path, token string, payload, out any) error {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpC.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return fmt.Errorf("%s %s: %w", method, path, apiErr)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
