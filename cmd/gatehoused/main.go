// Command gatehoused runs a minimal host application around the gatehouse
// auth core: a guarded API, the login and second-factor endpoints, and the
// Plex device-flow login, backed by a SQLite database.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"

	"github.com/glebarez/sqlite"
	"github.com/gorilla/mux"
	"gorm.io/gorm"

	gh "github.com/morrigan/gatehouse"
	gormstore "github.com/morrigan/gatehouse/stores/gorm"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	db, err := gorm.Open(sqlite.Open(cfg.Database), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to open database: ", err)
	}
	repo, err := gormstore.NewStore(db)
	if err != nil {
		log.Fatal("failed to migrate database: ", err)
	}

	sessions := gh.NewSessionRegistry()
	plex := &gh.PlexClient{Product: cfg.Product}
	sessions.AddSweepHook(plex.SweepPins)

	tokens := (&gh.TokenIssuer{SecretKey: cfg.JWTSecret, Issuer: cfg.Product}).EnsureDefaults()
	totp := &gh.TOTPManager{Repo: repo, Issuer: cfg.Product}

	engine := &gh.Engine{
		Repo:     repo,
		Sessions: sessions,
		Tokens:   tokens,
		BasePath: cfg.BasePath,
	}
	guard := &gh.Guard{Engine: engine}
	handlers := &gh.AuthHandlers{
		Repo:     repo,
		Sessions: sessions,
		TOTP:     totp,
		Plex:     plex,
		Tokens:   tokens,
		Engine:   engine,
		BasePath: cfg.BasePath,
	}

	root := mux.NewRouter()
	r := root
	if cfg.BasePath != "" && cfg.BasePath != "/" {
		r = root.PathPrefix(cfg.BasePath).Subrouter()
	}

	r.HandleFunc("/api/auth/login", handlers.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", handlers.HandleLogout).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/password", handlers.HandleChangePassword).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/2fa/setup", handlers.HandleTOTPSetup).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/2fa/activate", handlers.HandleTOTPActivate).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/2fa/disable", handlers.HandleTOTPDisable).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/plex/pin", handlers.HandlePlexPinCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/plex/check", handlers.HandlePlexPinCheck).Methods(http.MethodGet)

	r.HandleFunc("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/version", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"product": cfg.Product})
	}).Methods(http.MethodGet)

	// Everything else requires authorization; the outer guard attaches the
	// caller's username before these handlers run.
	r.PathPrefix("/api/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"user": gh.UsernameFromRequest(r)})
	})

	log.Println("gatehoused listening on ", cfg.Listen)
	log.Fatal(http.ListenAndServe(cfg.Listen, guard.Wrap(root)))
}
