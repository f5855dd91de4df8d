package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jrsteele09/alumni-session/internal/devidp"
	"github.com/jrsteele09/alumni-session/sessions"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	accessTTL  time.Duration
	refreshTTL time.Duration
	seedPass   string
)

var serveIDPCmd = &cobra.Command{
	Use:   "serve-idp",
	Short: "Run the development identity backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		displayAppname(cfg.GetAppName())
		for {
			err := runIDP()
			if err == nil {
				log.Info().Msg("identity backend stopped")
				return nil
			}
			if !errors.Is(err, errPanicRecovered) {
				return err
			}
			log.Err(err).Msg("restarting identity backend")
			time.Sleep(1 * time.Second)
		}
	},
}

var errPanicRecovered = errors.New("panic recovered")

func init() {
	rootCmd.AddCommand(serveIDPCmd)
	serveIDPCmd.Flags().DurationVar(&accessTTL, "access-ttl", 15*time.Minute, "Access token lifetime")
	serveIDPCmd.Flags().DurationVar(&refreshTTL, "refresh-ttl", 7*24*time.Hour, "Refresh credential lifetime")
	serveIDPCmd.Flags().StringVar(&seedPass, "seed-password", "Reunion2024", "Password of the seeded demo accounts")
}

func runIDP() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("Recovered from panic: %v", r)
			debug.PrintStack()
			returnError = errPanicRecovered
		}
	}()

	accounts := devidp.NewAccountStore()
	if err := devidp.SeedAccounts(accounts, demoAccounts(seedPass)...); err != nil {
		return err
	}

	idp, err := devidp.New(accounts,
		devidp.WithEnv(cfg.GetEnv()),
		devidp.WithIssuer(cfg.GetIdentityBaseURL()),
		devidp.WithCookieName(cfg.GetRefreshCookieName()),
		devidp.WithAccessTokenTTL(accessTTL),
		devidp.WithRefreshTTL(refreshTTL),
	)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.GetDevIDPPort(),
		Handler:           idp,
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan error, 1)
	go func() {
		done <- listenAndServe(server)
	}()

	select {
	case err := <-done:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(server)
}

func demoAccounts(password string) []devidp.Seed {
	return []devidp.Seed{
		{Username: "alumnus", Email: "alumnus@alumni.test", Password: password, DisplayName: "Demo Alumnus"},
		{Email: "owner@alumni.test", Password: password, DisplayName: "Demo Owner", Role: sessions.RoleSuperAdmin},
		{Email: "admin@alumni.test", Password: password, DisplayName: "Demo Admin", Role: sessions.RoleAdmin},
		{Email: "moderator@alumni.test", Password: password, DisplayName: "Demo Moderator", Role: sessions.RoleModerator},
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Msgf("Identity backend listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
