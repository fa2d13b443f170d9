package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"concierge/auth"
	"concierge/chat"
	"concierge/config"
	"concierge/mcp"
	"concierge/prompt"
	"concierge/provider"
	"concierge/server"
	"concierge/store"
)

const Version = "v0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("concierge exited with error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "config.toml", "path to the config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("concierge", Version)
		return nil
	}

	if config.CheckDebug() {
		config.InitDebugLog()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	registry, err := config.NewRegistry(cfg.RolesFile)
	if err != nil {
		return fmt.Errorf("loading role capability table: %w", err)
	}

	watcher, err := config.NewRegistryWatcher(registry, 2*time.Second)
	if err != nil {
		return fmt.Errorf("watching role capability table: %w", err)
	}
	defer watcher.Close()

	prompts := prompt.NewAssembler(cfg.Prompts)
	if missing := prompts.Validate(); len(missing) > 0 {
		for _, role := range missing {
			color.Yellow("no prompt template for role %q, using built-in default", role)
		}
	}
	prompts.Preload()

	var st store.Store
	switch cfg.Store.Backend {
	case "sqlite":
		st, err = store.NewSQLiteStore(cfg.Store.Path, time.Duration(cfg.Store.TTLHours)*time.Hour)
		if err != nil {
			return fmt.Errorf("opening conversation store: %w", err)
		}
	default:
		st = store.NewMemoryStore(time.Duration(cfg.Store.TTLHours) * time.Hour)
	}
	defer st.Close()

	llm, err := provider.New(cfg.Provider)
	if err != nil {
		return fmt.Errorf("configuring LLM provider: %w", err)
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	if err := llm.Ping(pingCtx); err != nil {
		color.Red("LLM provider unreachable at startup: %v", err)
	}
	cancelPing()

	resolver := mcp.NewResolver(registry, mcp.NewPool())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resolver.Shutdown(shutdownCtx)
	}()

	orc := chat.NewOrchestrator(llm, resolver, prompts, st, cfg.Chat)

	sessions := sessionResolver()
	srv := server.New(orc, st, sessions)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// WriteTimeout stays zero: SSE turns have no fixed wall-clock cap.
	}

	errCh := make(chan error, 1)
	go func() {
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			errCh <- listenErr
			return
		}
		errCh <- nil
	}()

	color.Green("concierge %s listening on %s", Version, cfg.Server.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return <-errCh
}

// sessionResolver picks the identity boundary implementation. A proxy
// deployment forwards identity in headers; a bare dev run can pin a single
// identity through environment variables.
func sessionResolver() auth.SessionResolver {
	if user := os.Getenv("CONCIERGE_DEV_USER"); user != "" {
		role := config.Role(os.Getenv("CONCIERGE_DEV_ROLE"))
		if !config.IsValidRole(role) {
			role = config.RoleGuest
		}
		return auth.StaticResolver{Session: auth.Session{UserID: user, Role: role}}
	}
	return auth.HeaderResolver{}
}
