// Command authkit-demo exercises the full session lifecycle against a real
// authorization server from a terminal: login through the system browser with
// a loopback redirect, whoami from the cached profile, token retrieval with
// transparent refresh, and logout.
//
//	AUTHKIT_BASE_URL=https://auth.example.com AUTHKIT_CLIENT_ID=demo authkit-demo login
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/meridianapp/authkit/pkg/authkit"
	"github.com/meridianapp/authkit/pkg/localcache"
	"github.com/meridianapp/authkit/pkg/securestore"
	"github.com/meridianapp/authkit/pkg/slogx"
)

type demoConfig struct {
	BaseURL    string // Required: authorization server base URL
	ClientID   string // Required: registered public client ID
	ListenAddr string // Loopback address for the redirect listener (default: 127.0.0.1:8912)
	StoreFile  string // Encrypted token store path (default: ./authkit-secrets.json)
	Passphrase string // Passphrase for the token store (default: insecure dev value)
	CacheFile  string // Optional: SQLite cache path; empty keeps the cache in memory
	LogLevel   string // Log level (debug, info, warn, error) (default: info)
	LogFormat  string // Log format (json, text) (default: text)
}

func loadConfig() demoConfig {
	return demoConfig{
		BaseURL:    os.Getenv("AUTHKIT_BASE_URL"),
		ClientID:   os.Getenv("AUTHKIT_CLIENT_ID"),
		ListenAddr: getEnvOrDefault("AUTHKIT_LISTEN_ADDR", "127.0.0.1:8912"),
		StoreFile:  getEnvOrDefault("AUTHKIT_STORE_FILE", "authkit-secrets.json"),
		Passphrase: getEnvOrDefault("AUTHKIT_STORE_PASSPHRASE", "authkit-demo-dev"),
		CacheFile:  os.Getenv("AUTHKIT_CACHE_FILE"),
		LogLevel:   getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:  getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg := loadConfig()
	if cfg.BaseURL == "" || cfg.ClientID == "" {
		log.Fatal("AUTHKIT_BASE_URL and AUTHKIT_CLIENT_ID are required")
	}

	logger := slogx.New(slogx.Config{
		Service: "authkit-demo",
		Env:     "dev",
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	secrets, err := securestore.NewFileStore(cfg.StoreFile, cfg.Passphrase)
	if err != nil {
		log.Fatalf("failed to open token store: %v", err)
	}

	var cache localcache.Cache = localcache.NewMemoryCache()
	if cfg.CacheFile != "" {
		sqliteCache, err := localcache.NewSQLiteCache(cfg.CacheFile)
		if err != nil {
			log.Fatalf("failed to open cache: %v", err)
		}
		defer sqliteCache.Close()
		cache = sqliteCache
	}

	redirectURI := "http://" + cfg.ListenAddr + "/callback"
	engine, err := authkit.NewEngine(authkit.Config{
		BaseURL:     cfg.BaseURL,
		ClientID:    cfg.ClientID,
		RedirectURI: redirectURI,
	}, authkit.Options{
		Secrets:    secrets,
		Cache:      cache,
		Authorizer: &loopbackAuthorizer{listenAddr: cfg.ListenAddr},
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := "whoami"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if err := run(ctx, engine, command); err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}

func run(ctx context.Context, engine *authkit.Engine, command string) error {
	switch command {
	case "login":
		user, err := engine.Login(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("signed in as %s\n", authkit.DisplayName(user))
		if roles := user.RoleNames(); len(roles) > 0 {
			fmt.Printf("roles: %s\n", strings.Join(roles, ", "))
		}
		return nil

	case "whoami":
		user, err := engine.GetUser(ctx)
		if err != nil {
			return err
		}
		if user == nil {
			fmt.Println("not signed in, run: authkit-demo login")
			return nil
		}
		fmt.Printf("%s (%s)\n", authkit.DisplayName(user), user.Sub)
		if roles := user.RoleNames(); len(roles) > 0 {
			fmt.Printf("roles: %s\n", strings.Join(roles, ", "))
		}
		return nil

	case "token":
		accessToken, err := engine.GetAccessToken(ctx)
		if err != nil {
			return err
		}
		if accessToken == "" {
			fmt.Println("not signed in, run: authkit-demo login")
			return nil
		}
		fmt.Println(accessToken)
		return nil

	case "logout":
		if err := engine.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("signed out")
		return nil

	default:
		return fmt.Errorf("unknown command %q (expected login, whoami, token or logout)", command)
	}
}

// loopbackAuthorizer completes the browser redirect on a desktop: it serves
// the redirect URI on a loopback listener, opens the authorization URL in the
// system browser, and blocks until the server redirects back or ctx ends.
type loopbackAuthorizer struct {
	listenAddr string
}

func (a *loopbackAuthorizer) Authorize(ctx context.Context, authorizeURL, redirectURI string) (string, error) {
	listener, err := net.Listen("tcp", a.listenAddr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", a.listenAddr, err)
	}
	defer listener.Close()

	callbackCh := make(chan string, 1)
	srv := &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, "<html><body>Signed in. You can close this window.</body></html>")

			select {
			case callbackCh <- redirectURI + "?" + r.URL.RawQuery:
			default:
			}
		}),
	}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("callback listener error: %v", err)
		}
	}()
	defer srv.Close()

	fmt.Printf("opening browser for sign-in, or visit:\n  %s\n", authorizeURL)
	openBrowser(authorizeURL)

	select {
	case callbackURL := <-callbackCh:
		return callbackURL, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// openBrowser is best effort; the URL is printed either way.
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err == nil {
		go func() { _ = cmd.Wait() }()
	}
}
