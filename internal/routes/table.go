// Package routes maps the local /proxy endpoints onto upstream calls.
package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/aman-churiwal/capital-proxy/internal/upstream"
	"github.com/gin-gonic/gin"
)

// What a route needs from the session manager
type Session interface {
	Execute(ctx context.Context, d upstream.Descriptor) (json.RawMessage, error)
	Login(ctx context.Context) error
	SwitchAccount(ctx context.Context, accountID string) (json.RawMessage, error)
	Logout(ctx context.Context) (json.RawMessage, error)
}

type HandlerFunc func(c *gin.Context, s Session) (json.RawMessage, error)

type Route struct {
	Name   string // stable identifier used in call logs, e.g. "positions.create"
	Method string
	Path   string // relative to the /proxy group
	Handle HandlerFunc
}

type queryParams interface {
	Query() upstream.Query
}

type validatable interface {
	Validate() error
}

// Returns every local route in registration order
func Table() []Route {
	return []Route{
		// Session
		{"session.login", http.MethodPost, "/login", login},
		{"session.ping", http.MethodGet, "/ping", forward(http.MethodGet, "/ping")},
		{"session.time", http.MethodGet, "/time", forward(http.MethodGet, "/time")},
		{"session.details", http.MethodGet, "/session", forward(http.MethodGet, "/session")},
		{"session.switch", http.MethodPut, "/session", switchAccount},
		{"session.logout", http.MethodDelete, "/session", logout},

		// Account
		{"accounts.list", http.MethodGet, "/account", forward(http.MethodGet, "/accounts")},
		{"accounts.preferences", http.MethodGet, "/account/preferences", forward(http.MethodGet, "/accounts/preferences")},
		{"accounts.preferences.update", http.MethodPut, "/account/preferences", forwardBody[PreferencesRequest](http.MethodPut, "/accounts/preferences")},
		{"accounts.topup", http.MethodPost, "/account/topup", forwardBody[TopUpRequest](http.MethodPost, "/accounts/topUp")},

		// History
		{"history.activity", http.MethodGet, "/history/activity", forwardQuery[ActivityQuery](http.MethodGet, "/history/activity")},
		{"history.transactions", http.MethodGet, "/history/transactions", forwardQuery[TransactionsQuery](http.MethodGet, "/history/transactions")},
		{"confirms.get", http.MethodGet, "/confirms/:dealReference", forward(http.MethodGet, "/confirms/:dealReference")},

		// Positions
		{"positions.list", http.MethodGet, "/positions", forward(http.MethodGet, "/positions")},
		{"positions.create", http.MethodPost, "/position", forwardBody[CreatePositionRequest](http.MethodPost, "/positions")},
		{"positions.get", http.MethodGet, "/position/:dealId", forward(http.MethodGet, "/positions/:dealId")},
		{"positions.update", http.MethodPut, "/position/:dealId", forwardBody[UpdatePositionRequest](http.MethodPut, "/positions/:dealId")},
		{"positions.close", http.MethodDelete, "/position/:dealId", forward(http.MethodDelete, "/positions/:dealId")},

		// Working orders
		{"orders.list", http.MethodGet, "/orders", forward(http.MethodGet, "/workingorders")},
		{"orders.create", http.MethodPost, "/order", forwardBody[CreateWorkingOrderRequest](http.MethodPost, "/workingorders")},
		{"orders.update", http.MethodPut, "/order/:dealId", forwardBody[UpdateWorkingOrderRequest](http.MethodPut, "/workingorders/:dealId")},
		{"orders.delete", http.MethodDelete, "/order/:dealId", forward(http.MethodDelete, "/workingorders/:dealId")},

		// Markets
		{"markets.navigation", http.MethodGet, "/marketnavigation", forward(http.MethodGet, "/marketnavigation")},
		{"markets.navigation.node", http.MethodGet, "/marketnavigation/:nodeId", forwardQuery[NavigationQuery](http.MethodGet, "/marketnavigation/:nodeId")},
		{"markets.list", http.MethodGet, "/markets", forwardQuery[MarketsQuery](http.MethodGet, "/markets")},
		{"markets.get", http.MethodGet, "/market/:epic", forward(http.MethodGet, "/markets/:epic")},
		{"prices.get", http.MethodGet, "/prices/:epic", forwardQuery[PricesQuery](http.MethodGet, "/prices/:epic")},
		{"sentiment.list", http.MethodGet, "/sentiment", forwardQuery[SentimentQuery](http.MethodGet, "/clientsentiment")},
		{"sentiment.get", http.MethodGet, "/sentiment/:marketId", forward(http.MethodGet, "/clientsentiment/:marketId")},

		// Watchlists
		{"watchlists.list", http.MethodGet, "/watchlists", forward(http.MethodGet, "/watchlists")},
		{"watchlists.create", http.MethodPost, "/watchlist", forwardBody[CreateWatchlistRequest](http.MethodPost, "/watchlists")},
		{"watchlists.get", http.MethodGet, "/watchlist/:watchlistId", forward(http.MethodGet, "/watchlists/:watchlistId")},
		{"watchlists.add", http.MethodPut, "/watchlist/:watchlistId", forwardBody[AddToWatchlistRequest](http.MethodPut, "/watchlists/:watchlistId")},
		{"watchlists.delete", http.MethodDelete, "/watchlist/:watchlistId", forward(http.MethodDelete, "/watchlists/:watchlistId")},
		{"watchlists.remove", http.MethodDelete, "/watchlist/:watchlistId/:epic", forward(http.MethodDelete, "/watchlists/:watchlistId/:epic")},
	}
}

func login(c *gin.Context, s Session) (json.RawMessage, error) {
	if err := s.Login(c.Request.Context()); err != nil {
		return nil, err
	}
	return json.RawMessage(`{"message":"session renewed"}`), nil
}

func switchAccount(c *gin.Context, s Session) (json.RawMessage, error) {
	var req SwitchAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, bindingError(err)
	}
	return s.SwitchAccount(c.Request.Context(), req.AccountID)
}

func logout(c *gin.Context, s Session) (json.RawMessage, error) {
	if _, err := s.Logout(c.Request.Context()); err != nil {
		return nil, err
	}
	return json.RawMessage(`{"message":"session closed"}`), nil
}

// Forwards the call with no body or query
func forward(method, target string) HandlerFunc {
	return func(c *gin.Context, s Session) (json.RawMessage, error) {
		return s.Execute(c.Request.Context(), upstream.Descriptor{
			Method: method,
			Path:   expand(target, c),
		})
	}
}

// Binds the query string into Q and forwards only the values that were set
func forwardQuery[Q queryParams](method, target string) HandlerFunc {
	return func(c *gin.Context, s Session) (json.RawMessage, error) {
		var q Q
		if err := c.ShouldBindQuery(&q); err != nil {
			return nil, bindingError(err)
		}

		return s.Execute(c.Request.Context(), upstream.Descriptor{
			Method: method,
			Path:   expand(target, c),
			Query:  q.Query(),
		})
	}
}

// Binds and validates a JSON body of type B and forwards it
func forwardBody[B any](method, target string) HandlerFunc {
	return func(c *gin.Context, s Session) (json.RawMessage, error) {
		var body B
		if err := c.ShouldBindJSON(&body); err != nil {
			return nil, bindingError(err)
		}
		if v, ok := any(&body).(validatable); ok {
			if err := v.Validate(); err != nil {
				return nil, err
			}
		}

		return s.Execute(c.Request.Context(), upstream.Descriptor{
			Method: method,
			Path:   expand(target, c),
			Body:   &body,
		})
	}
}

// Replaces ":name" segments of an upstream path template with the escaped
// gin path parameter of the same name
func expand(target string, c *gin.Context) string {
	if !strings.Contains(target, ":") {
		return target
	}

	segments := strings.Split(target, "/")
	for i, seg := range segments {
		if name, ok := strings.CutPrefix(seg, ":"); ok {
			segments[i] = url.PathEscape(c.Param(name))
		}
	}
	return strings.Join(segments, "/")
}
