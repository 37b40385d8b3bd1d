// Package sustainer parses service configuration and wires the sustained
// spell runtime: entity store, event bus, lifecycle engine, cleanup
// coordinator, and the websocket relay gateway.
package sustainer

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/wawful/spell-sustainer/internal/authz"
	"github.com/wawful/spell-sustainer/internal/bus"
	"github.com/wawful/spell-sustainer/internal/chat"
	"github.com/wawful/spell-sustainer/internal/platform/config"
	"github.com/wawful/spell-sustainer/internal/platform/otel"
	"github.com/wawful/spell-sustainer/internal/relay"
	"github.com/wawful/spell-sustainer/internal/spell"
	"github.com/wawful/spell-sustainer/internal/store"
	"github.com/wawful/spell-sustainer/internal/store/memory"
	"github.com/wawful/spell-sustainer/internal/store/sqlite"
	"github.com/wawful/spell-sustainer/internal/sustain"
)

// Config holds sustainer service configuration.
type Config struct {
	Addr string `env:"SPELL_SUSTAINER_ADDR" envDefault:":8080"`
	// DatabasePath selects the sqlite entity store; empty keeps everything
	// in memory.
	DatabasePath string `env:"SPELL_SUSTAINER_DB"`
	SpellDir     string `env:"SPELL_SUSTAINER_SPELL_DIR" envDefault:"configs/spells"`
	// GMUserID is the privileged user this instance authorizes as.
	GMUserID         string        `env:"SPELL_SUSTAINER_GM_USER" envDefault:"gm"`
	SaveTimeout      time.Duration `env:"SPELL_SUSTAINER_SAVE_TIMEOUT" envDefault:"30s"`
	PlacementTimeout time.Duration `env:"SPELL_SUSTAINER_PLACEMENT_TIMEOUT" envDefault:"30s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "sqlite database path (empty for in-memory)")
	fs.StringVar(&cfg.SpellDir, "spells", cfg.SpellDir, "spell configuration directory")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// chatFanout delivers engine-emitted chat notices to local bus subscribers
// and to every connected session. Inbound client chat takes the gateway's
// own path, so nothing is sent twice.
type chatFanout struct {
	bus     *bus.Bus
	gateway *relay.Gateway
}

func (f chatFanout) PublishChat(m chat.Message) {
	f.bus.PublishChat(m)
	f.gateway.BroadcastChat(m)
}

// Run starts the sustainer service and blocks until ctx is canceled.
func Run(ctx context.Context, cfg Config) error {
	shutdownTracing, err := otel.Setup(ctx, "spell-sustainer")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("flush traces: %v", err)
		}
	}()

	spells, err := spell.LoadDir(cfg.SpellDir)
	if err != nil {
		return fmt.Errorf("load spell configs: %w", err)
	}
	log.Printf("loaded %d spell configuration(s) from %s", spells.Len(), cfg.SpellDir)

	b := bus.New()

	var entities store.Store
	if cfg.DatabasePath != "" {
		db, err := sqlite.Open(cfg.DatabasePath, b)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()
		entities = db
	} else {
		entities = memory.New(b)
	}

	gateway := relay.NewGateway(authz.NewApplier(entities), b, nil)

	mutator := authz.NewMutator(entities, nil, authz.Identity{UserID: cfg.GMUserID, IsGM: true})
	engine := sustain.New(sustain.Options{
		Store:            entities,
		Spells:           spells,
		Mutator:          mutator,
		Chats:            chatFanout{bus: b, gateway: gateway},
		Targets:          gateway,
		SaveTimeout:      cfg.SaveTimeout,
		PlacementTimeout: cfg.PlacementTimeout,
	})

	unsubChat := b.SubscribeChat(func(m chat.Message) {
		engine.HandleChatMessage(ctx, m)
	})
	defer unsubChat()

	coordinator := sustain.NewCoordinator(entities, engine, nil)
	unbind := coordinator.Bind(b)
	defer unbind()

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("sustainer listening on %s", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(stopCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
