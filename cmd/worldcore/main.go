package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l1jgo/worldcore/internal/config"
	"github.com/l1jgo/worldcore/internal/core/ecs"
	coresys "github.com/l1jgo/worldcore/internal/core/system"
	"github.com/l1jgo/worldcore/internal/data"
	"github.com/l1jgo/worldcore/internal/persist"
	"github.com/l1jgo/worldcore/internal/resource"
	"github.com/l1jgo/worldcore/internal/scripting"
	"github.com/l1jgo/worldcore/internal/system"
)

// noopScript is handed out while a script streams in or when it is missing.
const noopScript = "function update(dt) end"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := "config/worldcore.toml"
	if p := os.Getenv("WORLDCORE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.World.TickRate <= 0 {
		return fmt.Errorf("world.tick_rate must be positive, got %s", cfg.World.TickRate)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Engine.Name, cfg.World.Name)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 1. Optional blob database
	var blobs *persist.BlobLoader
	if cfg.Database.Enabled {
		printSection("database")
		dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		db, err := persist.NewDB(dbCtx, cfg.Database, log)
		if err != nil {
			cancel()
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")

		err = persist.RunMigrations(dbCtx, db.Pool)
		cancel()
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("migrations applied")
		blobs = persist.NewBlobLoader(persist.NewBlobRepo(db), log)
		fmt.Println()
	}

	// 2. Resource manager
	printSection("resources")
	rm := resource.NewManager(cfg.Resources, log)
	defer rm.Shutdown()

	files := resource.NewFileLoader(cfg.Resources.Root)
	loaderFor := func(typeName string) resource.TypeLoader {
		if blobs != nil && slices.Contains(cfg.Resources.BlobTypes, typeName) {
			return blobs
		}
		return files
	}
	if err := scripting.RegisterScriptType(rm, loaderFor(scripting.ScriptTypeName)); err != nil {
		return fmt.Errorf("register scripts: %w", err)
	}
	if err := resource.RegisterCollectionType(rm, loaderFor(resource.CollectionTypeName)); err != nil {
		return fmt.Errorf("register collections: %w", err)
	}
	if err := installScriptFallbacks(rm); err != nil {
		return err
	}
	rm.Start(ctx)
	printStat("resource types", len(rm.TypeNames()))
	printStat("streaming workers", max(cfg.Resources.Workers, 1))

	runner := coresys.NewRunner()
	if cfg.Resources.Collection != "" {
		col, err := openCollection(rm, cfg.Resources.Collection, cfg.Resources.Root)
		if err != nil {
			return fmt.Errorf("collection %s: %w", cfg.Resources.Collection, err)
		}
		preload := system.NewCollectionPreloadSystem(col, cfg.Resources.PreloadPerTick, log)
		defer preload.Close()
		runner.Register(preload)
		printOK("boot collection " + cfg.Resources.Collection)
	}
	fmt.Println()

	// 3. World
	printSection("world")
	w := ecs.NewWorld(ecs.WorldDesc{
		Name:          cfg.World.Name,
		BlockCapacity: cfg.World.BlockCapacity,
		Workers:       cfg.World.Workers,
		Simulate:      cfg.World.Simulate,
		Resources:     rm,
	}, log)
	defer w.Close()

	if cfg.Scripts.Enabled {
		engine := scripting.NewEngine(log)
		defer engine.Close()
		if err := engine.LoadLibrary(cfg.Scripts.LibDir); err != nil {
			return fmt.Errorf("script library: %w", err)
		}
		scripts := scripting.Register(w, engine)
		if cfg.Scripts.Entry != "" {
			if err := spawnScripted(w, scripts, rm, cfg.Scripts.Entry); err != nil {
				return fmt.Errorf("entry script: %w", err)
			}
			printOK("entry script " + cfg.Scripts.Entry)
		}
	}
	printStat("game objects", w.ObjectCount())
	fmt.Println()

	// 4. Systems
	runner.Register(system.NewWorldSystem(w, log))
	sweepTicks := int(cfg.Resources.AutoFreeInterval / cfg.World.TickRate)
	runner.Register(system.NewResourceSweepSystem(rm, cfg.Resources.AutoFreeGrace, sweepTicks, log))

	// 5. Tick loop
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ticker := time.NewTicker(cfg.World.TickRate)
	defer ticker.Stop()

	printSection("ready")
	printReady(fmt.Sprintf("tick loop running (tick: %s)", cfg.World.TickRate))
	printReady("SIGHUP reloads changed resources")
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.World.TickRate)
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				n := rm.ReloadAllResources(false)
				log.Info("resources reloaded", zap.Int("count", n))
				continue
			}
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			stop()
			log.Info("stopped",
				zap.Uint64("frames", w.Frame()),
				zap.Stringer("resources", rm.Stats()))
			return nil
		}
	}
}

// installScriptFallbacks registers a do-nothing script as both the loading
// and the missing fallback, so script components never block a frame.
func installScriptFallbacks(rm *resource.Manager) error {
	noop, err := resource.CreateResource[*scripting.ScriptResource](rm, "", noopScript)
	if err != nil {
		return fmt.Errorf("fallback script: %w", err)
	}
	defer noop.Release()
	if err := resource.SetLoadingFallback(rm, noop); err != nil {
		return err
	}
	return resource.SetMissingFallback(rm, noop)
}

// openCollection loads a binary collection by id, or builds one from a YAML
// manifest when the name ends in .yaml or .yml.
func openCollection(rm *resource.Manager, name, root string) (resource.Handle[*resource.Collection], error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		desc, err := data.LoadCollectionManifest(name, root)
		if err != nil {
			return resource.Handle[*resource.Collection]{}, err
		}
		return resource.CreateResource[*resource.Collection](rm, "", desc)
	}
	return resource.LoadResource[*resource.Collection](rm, name)
}

func spawnScripted(w *ecs.World, scripts *scripting.Components, rm *resource.Manager, id string) error {
	h, err := resource.LoadResource[*scripting.ScriptResource](rm, id)
	if err != nil {
		return err
	}
	rm.PreloadResource(h)
	return w.Write(func() error {
		obj, _, err := w.CreateObject(ecs.GameObjectDesc{Name: id, Tags: []string{"scripted"}})
		if err != nil {
			h.Release()
			return err
		}
		_, c, err := scripts.CreateComponent(obj)
		if err != nil {
			h.Release()
			return err
		}
		c.SetScript(h)
		return nil
	})
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
