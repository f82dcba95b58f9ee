package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"go.mau.fi/util/configupgrade"
	"go.mau.fi/util/dbutil"
	flag "maunium.net/go/mauflag"
	"maunium.net/go/mautrix/appservice"

	"github.com/lighthouse-bridge/matrix-opensim/internal/bridge"
	"github.com/lighthouse-bridge/matrix-opensim/internal/config"
	"github.com/lighthouse-bridge/matrix-opensim/internal/database"
	"github.com/lighthouse-bridge/matrix-opensim/internal/matrix"
	"github.com/lighthouse-bridge/matrix-opensim/internal/opensim"
)

// Information to find out exactly which commit the bridge was built from.
// These are filled at build time with the -X linker flag.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

//go:embed example-config.yaml
var exampleConfig string

var (
	configPath           = flag.MakeFull("c", "config", "The path to the config file.", "config.yaml").String()
	registrationPath     = flag.MakeFull("r", "registration", "The path to the appservice registration file.", "registration.yaml").String()
	generateRegistration = flag.MakeFull("g", "generate-registration", "Generate the appservice registration file and quit.", "false").Bool()
	dontSaveConfig       = flag.MakeFull("n", "no-update", "Don't save updated config to disk.", "false").Bool()
	version              = flag.MakeFull("v", "version", "Print the version and quit.", "false").Bool()
	wantHelp, _          = flag.MakeHelpFlag()
)

const shutdownTimeout = 5 * time.Second

func main() {
	flag.SetHelpTitles(
		"lighthouse-bridge - An OpenSimulator group chat to Matrix bridge.",
		"lighthouse-bridge [-c <path>] [-r <path>] [-g]",
	)
	if err := flag.Parse(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *version {
		fmt.Printf("lighthouse-bridge %s (%s, built %s)\n", Tag, Commit, BuildTime)
		os.Exit(0)
	}

	configData, _, err := configupgrade.Do(*configPath, !*dontSaveConfig, &configupgrade.StructUpgrader{
		SimpleUpgrader: configupgrade.SimpleUpgrader(config.DoUpgrade),
		Blocks:         config.SpacedBlocks,
		Base:           exampleConfig,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to read config:", err)
		os.Exit(10)
	}
	cfg, err := config.Load(configData)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Invalid config:", err)
		os.Exit(10)
	}

	log, err := cfg.Logging.Compile()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to configure logging:", err)
		os.Exit(11)
	}

	if *generateRegistration {
		if err = writeRegistration(cfg, *registrationPath); err != nil {
			log.Fatal().Err(err).Msg("Failed to generate registration")
		}
		log.Info().Str("path", *registrationPath).Msg("Wrote appservice registration")
		return
	}

	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("homeserver", cfg.Matrix.Homeserver).
		Str("bot", cfg.Matrix.BotMXID().String()).
		Msg("Lighthouse bridge starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rawDB, err := dbutil.NewFromConfig("matrix-opensim", dbutil.Config{
		PoolConfig: dbutil.PoolConfig{
			Type:         cfg.Database.Type,
			URI:          cfg.Database.URI(),
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		},
	}, dbutil.ZeroLogger(log.With().Str("component", "database").Logger()))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	db := database.New(rawDB)
	defer db.Close()
	if err = db.Upgrade(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to upgrade database schema")
	}

	mx, err := matrix.NewClient(
		cfg.Matrix.BaseURL, cfg.Matrix.Homeserver, cfg.Matrix.ASToken, cfg.Matrix.BotLocalpart,
		log.With().Str("component", "matrix").Logger(),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create homeserver client")
	}
	sim := opensim.NewClient(
		cfg.OpenSim.RegionURL, cfg.OpenSim.BridgeSecret,
		log.With().Str("component", "opensim").Logger(),
	)
	svc := bridge.NewService(cfg, db, mx, sim, log.With().Str("component", "bridge").Logger())

	asServer := &http.Server{
		Addr:    cfg.Server.AppserviceAddr(),
		Handler: bridge.NewASHandler(svc, cfg.Matrix.HSToken, log.With().Str("component", "appservice").Logger()).Router(),
	}
	publicServer := &http.Server{
		Addr:    cfg.Server.OpenSimAddr(),
		Handler: bridge.NewPublicHandler(svc, Tag, log.With().Str("component", "webhook").Logger()).Router(),
	}

	serverErr := make(chan error, 2)
	go func() {
		log.Info().Str("address", asServer.Addr).Msg("Appservice listener starting")
		serverErr <- asServer.ListenAndServe()
	}()
	go func() {
		log.Info().Str("address", publicServer.Addr).Msg("Webhook listener starting")
		serverErr <- publicServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err = <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = asServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Appservice listener shutdown failed")
	}
	if err = publicServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Webhook listener shutdown failed")
	}
	log.Info().Msg("Lighthouse bridge stopped")
}

// writeRegistration renders the appservice registration the homeserver needs
// to route the bridge's namespace and push transactions to it.
func writeRegistration(cfg *config.Config, path string) error {
	reg := appservice.CreateRegistration()
	reg.ID = bridge.ServiceName
	reg.URL = "http://" + cfg.Server.AppserviceAddr()
	reg.AppToken = cfg.Matrix.ASToken
	reg.ServerToken = cfg.Matrix.HSToken
	reg.SenderLocalpart = cfg.Matrix.BotLocalpart

	hs := regexp.QuoteMeta(cfg.Matrix.Homeserver)
	reg.Namespaces.UserIDs.Register(
		regexp.MustCompile(fmt.Sprintf("^@%s.*:%s$", bridge.PuppetLocalpartPrefix, hs)), true)
	reg.Namespaces.RoomAliases.Register(
		regexp.MustCompile(fmt.Sprintf("^#%s.*:%s$", bridge.PuppetLocalpartPrefix, hs)), true)
	return reg.Save(path)
}
