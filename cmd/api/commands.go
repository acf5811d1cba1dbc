package main

import (
	"autopublisher/cmd/app"
	"autopublisher/internal/config"
	"autopublisher/internal/database"
	handlers "autopublisher/internal/handler"
	"autopublisher/internal/middleware"
	"autopublisher/internal/service"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand() *cobra.Command {
	var seedEmail string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the job workers and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if cfg.JWTSecretKey == "" {
				return errors.New("JWT_SECRET_KEY is not set")
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if seedEmail != "" {
				if err := seedUser(ctx, a, seedEmail); err != nil {
					return err
				}
			}

			h := handlers.NewHandlers(a.Services, a.Health(), cfg, logger)
			server := &http.Server{
				Addr: fmt.Sprintf(":%d", cfg.ServerPort),
				Handler: middleware.Chain(
					h.Routes(),
					middleware.LoggingMiddleware(logger),
					middleware.CORSMiddleware,
					middleware.AuthMiddleware(a.Services.Auth),
				),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.Run(ctx) })
			g.Go(func() error {
				logger.Info("server started", zap.String("addr", server.Addr), zap.String("store", cfg.StoreBackend))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})

			err = g.Wait()
			logger.Info("server stopped")
			return err
		},
	}
	cmd.Flags().StringVar(&seedEmail, "seed-user", "", "create this user on start and log a bearer token for it")
	return cmd
}

func seedUser(ctx context.Context, a *app.App, email string) error {
	user, err := a.Services.User.CreateUser(ctx, service.CreateUserRequest{Email: email})
	if err != nil {
		return fmt.Errorf("seed user: %w", err)
	}
	token, err := a.Services.Auth.IssueToken(user, 24*time.Hour)
	if err != nil {
		return err
	}
	a.Log.Info("seed user created", zap.String("user_id", user.UserID), zap.String("email", user.Email), zap.String("token", token))
	return nil
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := database.ConnectDB(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.CloseDB()
			return db.RunMigrations(cmd.Context(), cfg.MigrationsPath)
		},
	}
}

func newUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var (
		req      service.CreateUserRequest
		tokenTTL time.Duration
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an account and print a bearer token for it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				user, err := a.Services.User.CreateUser(ctx, req)
				if err != nil {
					return err
				}
				token, err := a.Services.Auth.IssueToken(user, tokenTTL)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user_id: %s\ntoken: %s\n", user.UserID, token)
				return nil
			})
		},
	}
	create.Flags().StringVar(&req.Email, "email", "", "account email")
	create.Flags().StringVar(&req.Role, "role", "Author", "account role (Author or Admin)")
	create.Flags().IntVar(&req.DailyLimit, "daily-limit", 0, "posts per day, 0 for DEFAULT_DAILY_LIMIT")
	create.Flags().StringVar(&req.PreferredImageProvider, "image-provider", "", "preferred image provider")
	create.Flags().DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the printed token")
	create.MarkFlagRequired("email")

	cmd.AddCommand(create)
	return cmd
}

func newTokenCommand() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for an existing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				user, err := a.Services.User.GetUser(ctx, userID)
				if err != nil {
					return err
				}
				token, err := a.Services.Auth.IssueToken(user, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "account id")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.MarkFlagRequired("user-id")
	return cmd
}

// withApp builds the application without starting its workers.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg := config.LoadConfig()
	if cfg.JWTSecretKey == "" {
		return errors.New("JWT_SECRET_KEY is not set")
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}
