package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/arashzm/movie-ticketing/internal/cache"
	"github.com/arashzm/movie-ticketing/internal/config"
	"github.com/arashzm/movie-ticketing/internal/database"
	"github.com/arashzm/movie-ticketing/internal/handler"
	"github.com/arashzm/movie-ticketing/internal/payment"
	"github.com/arashzm/movie-ticketing/internal/queue"
	"github.com/arashzm/movie-ticketing/internal/repository"
	"github.com/arashzm/movie-ticketing/internal/router"
	"github.com/arashzm/movie-ticketing/internal/sweeper"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments use the environment
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient() // nil when Redis is unreachable; caching and rate limiting degrade
	if rdb == nil {
		log.Printf("redis unavailable, response cache and rate limiting disabled")
	}
	store := cache.NewRedis(rdb)

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	shows := repository.NewShowRepo(db)
	bookings := repository.NewBookingRepo(db)

	gateway := payment.NewClient(cfg.PaymentBaseURL, cfg.PaymentKeyID, cfg.PaymentKeySecret, cfg.PaymentCurrency)

	authH := handler.NewAuthHandler(cfg, users, tokens)
	showH := handler.NewShowHandler(shows, cfg.SeatLockTTL)
	bookingH := handler.NewBookingHandler(cfg, repository.NewStore(shows, bookings), gateway, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw := sweeper.New(bookings, shows, cfg.SeatLockTTL, cfg.BookingGrace, cfg.PendingTTL, cfg.SweepInterval)
	go sw.Run(ctx)

	go func() {
		if err := queue.StartBookingConsumer(); err != nil {
			log.Printf("booking consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e)
	router.RegisterAuth(e, authH, cfg.JWTSecret)
	router.RegisterShows(e, showH, rdb)
	router.RegisterBooking(e, showH, bookingH, cfg.JWTSecret, rdb)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
