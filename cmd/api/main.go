package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"cabbooking/internal/association"
	"cabbooking/internal/booking"
	"cabbooking/internal/events"
	"cabbooking/internal/fleet"
	"cabbooking/internal/httpapi"
	"cabbooking/internal/identity"
	"cabbooking/internal/jobs"
	"cabbooking/internal/realtime"
	"cabbooking/internal/store/memory"
	"cabbooking/pkg/config"
	"cabbooking/pkg/db"
	"cabbooking/pkg/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	bus := events.NewBus()
	g, ctx := errgroup.WithContext(ctx)

	deps := httpapi.Dependencies{Cfg: cfg, Logger: logger}
	bookingDeps := booking.Deps{
		Logger: logger,
		Options: booking.Options{
			PickupGrace:     cfg.Booking.PickupGrace,
			ReofferRejected: cfg.Booking.ReofferRejected,
		},
	}

	if cfg.Store == "memory" {
		logger.Warn("using in-memory store; data is lost on exit")
		st := memory.New(bus)
		bookingDeps.Store, bookingDeps.Numbers, bookingDeps.Fleet, bookingDeps.Vendors = st, st, st, st
		deps.Profiles, deps.Fleet, deps.Associations = st, st, st
	} else {
		if cfg.MigrationsPath != "" {
			if err := db.Migrate(cfg.MigrationsPath, cfg); err != nil {
				return err
			}
			logger.Info("migrations applied", "path", cfg.MigrationsPath)
		}

		pool, err := db.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		bookings := booking.NewRepository(pool)
		fleetRepo := fleet.NewRepository(pool)
		bookingDeps.Store, bookingDeps.Numbers, bookingDeps.Vendors = bookings, bookings, bookings
		bookingDeps.Fleet = fleetRepo
		deps.Profiles = identity.NewRepository(pool)
		deps.Fleet = fleetRepo
		deps.Associations = association.NewRepository(pool)
		deps.Ping = pool.Ping

		feed := events.Listener{
			Dial: func(ctx context.Context) (events.Conn, error) {
				conn, err := db.OpenDirect(ctx, cfg)
				if err != nil {
					return nil, err
				}
				return conn, nil
			},
			Bus:    bus,
			Logger: logger,
		}
		g.Go(func() error {
			return feed.Run(ctx)
		})
	}

	hub := realtime.NewHub(bus, cfg.AllowedOrigins, logger)
	defer hub.Close()

	manager := booking.NewManager(bookingDeps)
	deps.Bookings = manager
	deps.Realtime = hub

	g.Go(func() error {
		return jobs.VisibilityPromotion{
			Promoter: manager,
			After:    cfg.Booking.PromoteAfter,
			Interval: cfg.Booking.PromoteInterval,
			Logger:   logger,
		}.Run(ctx)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.HTTPAddr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
