// Package router wires handlers to routes.  Public browse endpoints
// carry the Redis response cache; seat locking and booking endpoints
// carry the token-bucket rate limiter so one client cannot hammer the
// contended paths.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/arashzm/movie-ticketing/internal/config"
	"github.com/arashzm/movie-ticketing/internal/handler"
	"github.com/arashzm/movie-ticketing/internal/middleware"
)

// RegisterRoutes registers routes that require no authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the auth endpoints and the /v1/me probe.
// Register, login and refresh operate without a session; /v1/me runs
// behind the JWT middleware.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/refresh-access", a.RefreshAccess)
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	auth.GET("/me", a.Me)
}

// RegisterShows registers the public browse endpoints.  Guests can
// inspect shows and seat maps before signing in; responses are cached
// in Redis when a client is available.
func RegisterShows(e *echo.Echo, s *handler.ShowHandler, rdb *redis.Client) {
	mws := []echo.MiddlewareFunc{}
	if rdb != nil {
		mws = append(mws, middleware.NewRedisCache(config.LoadCacheConfig(), rdb))
	}
	e.GET("/v1/shows/:id", s.GetShow, mws...)
	// The seat map is never cached: its handler sweeps expired locks
	// on every read, and a cached copy would keep a dead lock visible
	// past its timeout.
	e.GET("/v1/shows/:id/seats", s.GetShowSeats)
	e.GET("/v1/movies/:movieId/shows", s.ListShowsByMovie, mws...)
}

// RegisterBooking registers the authenticated booking lifecycle
// endpoints.  All require a valid JWT and a known role; the mutating
// seat endpoints additionally pass through the rate limiter.
func RegisterBooking(e *echo.Echo, s *handler.ShowHandler, b *handler.BookingHandler, jwtSecret string, rdb *redis.Client) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("CUSTOMER", "ADMIN"),
	)

	limited := []echo.MiddlewareFunc{}
	if rdb != nil {
		limited = append(limited, middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	}

	g.POST("/shows/:id/lock-seats", s.LockSeats, limited...)
	g.POST("/bookings/create", b.CreateBooking, limited...)
	g.POST("/bookings/verify", b.VerifyPayment, limited...)
	g.POST("/bookings/failed", b.PaymentFailed)
	g.POST("/bookings/:bookingId/cancel", b.CancelBooking)
	g.GET("/my-bookings", b.MyBookings)
	g.GET("/bookings/:bookingId/ticket", b.GetTicket)
}
