package main

import (
	"context"
	"fmt"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"huddle/internal/chat"
	"huddle/internal/config"
	"huddle/internal/database"
	"huddle/internal/membership"
	"huddle/internal/registry"
	"huddle/internal/server"
	"huddle/internal/store"
	"huddle/internal/store/mysqlstore"
	"huddle/internal/store/redisstore"
	"huddle/internal/sweeper"
	"huddle/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config error")
	}
	log, err := cfg.NewLogger()
	if err != nil {
		logrus.WithError(err).Fatal("logger error")
	}
	log.WithFields(logrus.Fields{"env": cfg.Env, "port": cfg.Port, "backend": cfg.StoreBackend}).Info("config loaded")

	if cfg.TicketSecret == "" {
		// tickets then only survive until restart
		cfg.TicketSecret, err = utils.RandomTokenHex(32)
		if err != nil {
			log.WithError(err).Fatal("ticket secret")
		}
		log.Warn("TICKET_SECRET not set, using a per-process secret")
	}

	st, err := openStore(context.Background(), cfg, log)
	if err != nil {
		log.WithError(err).Fatal("store error")
	}

	rooms, err := registry.New(st, log)
	if err != nil {
		log.WithError(err).Fatal("registry error")
	}
	coord := membership.NewCoordinator(st, membership.Config{
		Capacity:   cfg.RoomCapacity,
		MaxRetries: cfg.JoinMaxRetries,
	}, log)
	channel := chat.NewChannel(st, coord, log)
	sweep := sweeper.New(st, rooms, sweeper.Config{
		Timeout:          cfg.InactivityTimeout,
		Interval:         cfg.SweepInterval,
		StuckMultiplier:  cfg.StuckMultiplier,
		DeleteEmptyRooms: cfg.DeleteEmptyRooms,
	}, log)

	srv := server.NewServer(server.Options{
		Addr:             cfg.Addr(),
		TicketSecret:     cfg.TicketSecret,
		TicketTTL:        cfg.TicketTTL,
		CORSOrigins:      cfg.CORSOrigins,
		DeleteEmptyRooms: cfg.DeleteEmptyRooms,
	}, server.Deps{
		Store:       st,
		Registry:    rooms,
		Coordinator: coord,
		Channel:     channel,
		Sweeper:     sweep,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := srv.Run(ctx); err != nil {
			log.WithError(err).Fatal("server error")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				log.Info("graceful shutdown initiated...")
				defer cancel()
				return srv.Shutdown(ctx)
			},
		},
	)

	exitCode := <-wait
	if err := st.Close(); err != nil {
		log.WithError(err).Warn("store close")
	}
	log.WithField("code", exitCode).Info("application exited")
	os.Exit(exitCode)
}

func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMySQL:
		db, err := database.Connect(ctx, cfg.DSN, log)
		if err != nil {
			return nil, fmt.Errorf("mysql connect: %w", err)
		}
		if err := database.RunMigrations(ctx, db, cfg.MigrationsDir, log); err != nil {
			db.Close()
			return nil, err
		}
		return mysqlstore.New(db, log), nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		log.WithField("addr", cfg.RedisAddr).Info("redis connected")
		return redisstore.New(client, cfg.RedisPrefix, log), nil
	default:
		return store.NewMemory(), nil
	}
}
