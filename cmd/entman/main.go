package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/entman/server/internal/config"
	"github.com/entman/server/internal/manager"
	"github.com/entman/server/internal/persist"
	"github.com/entman/server/internal/registry"
	"github.com/entman/server/internal/scene"
	"github.com/entman/server/internal/scripting"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// componentManifest selects which declared component types to register and
// in what order.
type componentManifest struct {
	Components []string `yaml:"components"`
}

func loadManifest(path string) (*componentManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &componentManifest{}, nil
		}
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m componentManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

func run() error {
	// 1. Load config
	cfgPath := "config/entman.toml"
	if p := os.Getenv("ENTMAN_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	// 3. Optional Postgres snapshot store
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var snapshots *persist.SnapshotRepo
	if cfg.Database.Enabled {
		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()

		if err := persist.RunMigrations(ctx, db.Pool); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		snapshots = persist.NewSnapshotRepo(db)
		log.Info("snapshot store ready", zap.String("backend", "postgres"))
	} else {
		log.Info("snapshot store ready",
			zap.String("backend", "file"), zap.String("path", cfg.Snapshot.Path))
	}

	// 4. Scene graph and manager
	reg := registry.New()
	graph := scene.NewGraph()
	m := manager.New(reg, graph, manager.Options{
		ContainerName: cfg.Scene.ContainerName,
		Rehydrate:     rehydratePolicy(cfg.Scene.RehydratePolicy),
	}, log)

	// 5. Component types from scripts, registered per manifest order
	engine, err := scripting.NewEngine(cfg.Scripts.Dir, log)
	if err != nil {
		return fmt.Errorf("scripting: %w", err)
	}
	defer engine.Close()

	manifest, err := loadManifest(cfg.Scripts.Manifest)
	if err != nil {
		return err
	}
	names := manifest.Components
	if len(names) == 0 {
		for _, def := range engine.Definitions() {
			names = append(names, def.Name)
		}
	}
	for _, name := range names {
		def, ok := engine.FindDefinition(name)
		if !ok {
			log.Warn("manifest names unknown component type", zap.String("type", name))
			continue
		}
		m.AddComponentType(scripting.NewFactory(engine, reg, def))
	}
	log.Info("component types registered", zap.Int("count", len(names)))

	m.Attach()

	// 6. Restore latest snapshot
	if data, err := loadSnapshot(ctx, cfg, snapshots); err != nil {
		log.Warn("snapshot restore skipped", zap.Error(err))
	} else if data != nil {
		m.DecodeRegistry(data)
		m.Synchronize()
		log.Info("registry restored", zap.Int("entities", reg.Len()))
	}

	// 7. Tick loop until shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Scene.TickRate.Std())
	defer ticker.Stop()

	log.Info("entman running",
		zap.Duration("tick_rate", cfg.Scene.TickRate.Std()),
		zap.String("container", cfg.Scene.ContainerName))

	for {
		select {
		case <-ticker.C:
			m.Commit()
			m.Tick()
		case sig := <-stop:
			log.Info("shutting down", zap.String("signal", sig.String()))
			m.Commit()
			m.Tick()
			if err := saveSnapshot(cfg, snapshots, m.EncodeRegistry()); err != nil {
				log.Error("snapshot save failed", zap.Error(err))
			} else {
				log.Info("registry snapshot saved", zap.Int("entities", reg.Len()))
			}
			return nil
		}
	}
}

func loadSnapshot(ctx context.Context, cfg *config.Config, repo *persist.SnapshotRepo) ([]byte, error) {
	if repo != nil {
		data, err := repo.LoadLatest(ctx, cfg.Snapshot.SceneName)
		if errors.Is(err, persist.ErrNoSnapshot) {
			return nil, nil
		}
		return data, err
	}
	data, err := persist.ReadSnapshotFile(cfg.Snapshot.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func saveSnapshot(cfg *config.Config, repo *persist.SnapshotRepo, data []byte) error {
	if repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return repo.Save(ctx, cfg.Snapshot.SceneName, data)
	}
	return persist.WriteSnapshotFile(cfg.Snapshot.Path, data)
}

func rehydratePolicy(name string) manager.RehydratePolicy {
	if name == "connect-only" {
		return manager.RehydrateConnectOnly
	}
	return manager.RehydrateMaterialize
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
