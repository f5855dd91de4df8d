package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/alumni-session/gateway"
	"github.com/jrsteele09/alumni-session/internal/app"
	"github.com/jrsteele09/alumni-session/internal/metrics"
	"github.com/jrsteele09/alumni-session/storage/bbolt"
	"github.com/jrsteele09/alumni-session/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var metricsAddr string

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive client with one or more tabs sharing a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(cfg.GetDataFolder(), 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		kv, err := bbolt.NewFromFile(filepath.Join(cfg.GetDataFolder(), "sessions.db"), nil)
		if err != nil {
			return fmt.Errorf("failed to open session storage: %w", err)
		}
		defer kv.Close()

		reg := prometheus.NewRegistry()
		if metricsAddr != "" {
			go serveMetrics(metricsAddr, reg)
		}

		browser, err := app.NewBrowser(cfg, kv, app.WithMetrics(metrics.New(reg)))
		if err != nil {
			return err
		}
		defer browser.Close()

		displayAppname(cfg.GetAppName())
		sh := newShell(browser, cmd.OutOrStdout())
		return sh.run(cmd.Context(), cmd.InOrStdin())
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
	shellCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Err(err).Msg("metrics server stopped")
	}
}

const shellHelp = `commands:
  login <username> <password>     sign in as a member
  admin-login <email> <password>  sign in as an administrator
  logout | admin-logout           sign out
  get <primary|admin> <path>      authenticated GET against a backend
  whoami | status                 show the session of the current tab
  check                           run the expiry check now
  focus | hide | show             simulate tab focus and visibility
  tab new | tab <n> | tabs        open, switch and list tabs
  close                           close the current tab
  help | quit`

type shell struct {
	browser *app.Browser
	current *app.Tab
	out     io.Writer
}

func newShell(browser *app.Browser, out io.Writer) *shell {
	return &shell{browser: browser, out: out}
}

func (s *shell) run(ctx context.Context, in io.Reader) error {
	s.current = s.browser.OpenTab(ctx)
	s.printf("tab %s opened (%s)\n", shortID(s.current.ID), s.current.Controller.State())

	scanner := bufio.NewScanner(in)
	for {
		s.printf("%s> ", shortID(s.current.ID))
		if !scanner.Scan() {
			return scanner.Err()
		}
		quit, err := s.exec(ctx, scanner.Text())
		if err != nil {
			s.printf("error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (s *shell) exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	tab := s.current
	ctrl := tab.Controller

	switch cmd, args := fields[0], fields[1:]; cmd {
	case "login":
		if len(args) != 2 {
			return false, errors.New("usage: login <username> <password>")
		}
		u, err := ctrl.SignIn(ctx, gateway.Credentials{Username: args[0], Password: args[1]})
		if err != nil {
			return false, err
		}
		s.printf("signed in as %s (%s)\n", u.DisplayName, u.ID)
	case "admin-login":
		if len(args) != 2 {
			return false, errors.New("usage: admin-login <email> <password>")
		}
		a, err := ctrl.AdminSignIn(ctx, gateway.AdminCredentials{Email: args[0], Password: args[1]})
		if err != nil {
			return false, err
		}
		s.printf("signed in as %s (%s, %s)\n", a.DisplayName, a.ID, a.Role)
	case "logout":
		ctrl.SignOut(ctx)
		s.printf("signed out\n")
	case "admin-logout":
		ctrl.AdminSignOut(ctx)
		s.printf("signed out\n")
	case "get":
		if len(args) != 2 {
			return false, errors.New("usage: get <primary|admin> <path>")
		}
		return false, s.get(ctx, tab, args[0], args[1])
	case "whoami", "status":
		s.status(tab)
	case "check":
		return false, ctrl.CheckExpiry(ctx)
	case "focus":
		return false, ctrl.OnFocus(ctx)
	case "hide":
		return false, ctrl.OnVisibilityChange(ctx, false)
	case "show":
		return false, ctrl.OnVisibilityChange(ctx, true)
	case "tabs":
		for i, t := range s.browser.Tabs() {
			marker := " "
			if t == s.current {
				marker = "*"
			}
			s.printf("%s %d %s %s\n", marker, i, shortID(t.ID), t.Controller.State())
		}
	case "tab":
		return false, s.switchTab(ctx, args)
	case "close":
		s.browser.CloseTab(tab)
		tabs := s.browser.Tabs()
		if len(tabs) == 0 {
			return true, nil
		}
		s.current = tabs[0]
	case "help":
		s.printf("%s\n", shellHelp)
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q, try help", cmd)
	}
	return false, nil
}

func (s *shell) get(ctx context.Context, tab *app.Tab, domain, path string) error {
	if domain != transport.DomainPrimary && domain != transport.DomainAdmin {
		return fmt.Errorf("unknown domain %q", domain)
	}
	resp, err := tab.Get(ctx, domain, path)
	if resp != nil {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		s.printf("%d %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return err
}

func (s *shell) status(tab *app.Tab) {
	snap := tab.Controller.Snapshot()
	s.printf("tab:        %s\n", tab.ID)
	s.printf("state:      %s\n", snap.State)
	s.printf("refreshing: %t\n", snap.Refreshing)
	s.printf("token:      %t\n", tab.HasToken())
	switch {
	case snap.Session.User != nil:
		s.printf("user:       %s <%s>\n", snap.Session.User.DisplayName, snap.Session.User.Email)
	case snap.Session.Admin != nil:
		s.printf("admin:      %s <%s> %s\n", snap.Session.Admin.DisplayName, snap.Session.Admin.Email, snap.Session.Admin.Role)
	}
}

func (s *shell) switchTab(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: tab new | tab <n>")
	}
	if args[0] == "new" {
		s.current = s.browser.OpenTab(ctx)
		s.printf("tab %s opened (%s)\n", shortID(s.current.ID), s.current.Controller.State())
		return nil
	}

	n, err := strconv.Atoi(args[0])
	tabs := s.browser.Tabs()
	if err != nil || n < 0 || n >= len(tabs) {
		return fmt.Errorf("no tab %q", args[0])
	}
	s.current = tabs[n]
	return nil
}

func (s *shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
