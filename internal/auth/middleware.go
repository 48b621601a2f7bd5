package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const seatKey contextKey = "seat"

// ErrMalformedHeader is returned for an Authorization header that is not
// a bearer token.
var ErrMalformedHeader = errors.New("invalid authorization format")

// Seat is the battle side an authenticated request acts for.
type Seat struct {
	BattleID string
	Player   int
}

// WithSeat returns a context carrying seat.
func WithSeat(ctx context.Context, seat Seat) context.Context {
	return context.WithValue(ctx, seatKey, seat)
}

// SeatFromContext extracts the authenticated seat from the request context.
func SeatFromContext(ctx context.Context) (Seat, bool) {
	s, ok := ctx.Value(seatKey).(Seat)
	return s, ok
}

// SeatToken reads the seat token from the Authorization bearer header or,
// for clients that cannot set headers such as browser WebSockets, the
// token query parameter.
func SeatToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			return "", ErrMalformedHeader
		}
		return token, nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + err.Error() + `"}`))
}

func (m *JWTManager) seatFrom(r *http.Request) (Seat, error) {
	token, err := SeatToken(r)
	if err != nil {
		return Seat{}, err
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		return Seat{}, err
	}
	return Seat{BattleID: claims.BattleID, Player: claims.Player}, nil
}

// Middleware rejects requests without a valid seat token and stores the
// seat in the request context.
func Middleware(jwtMgr *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seat, err := jwtMgr.seatFrom(r)
			if err != nil {
				unauthorized(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSeat(r.Context(), seat)))
		})
	}
}

// Optional lets anonymous requests through but still rejects a token
// that is present and invalid.
func Optional(jwtMgr *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seat, err := jwtMgr.seatFrom(r)
			switch {
			case errors.Is(err, ErrMissingToken):
				next.ServeHTTP(w, r)
			case err != nil:
				unauthorized(w, err)
			default:
				next.ServeHTTP(w, r.WithContext(WithSeat(r.Context(), seat)))
			}
		})
	}
}
