package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/planlines/server/internal/command"
	"github.com/planlines/server/internal/config"
	"github.com/planlines/server/internal/core/event"
	coresys "github.com/planlines/server/internal/core/system"
	"github.com/planlines/server/internal/handler"
	gonet "github.com/planlines/server/internal/net"
	"github.com/planlines/server/internal/net/packet"
	"github.com/planlines/server/internal/persist"
	"github.com/planlines/server/internal/plan"
	"github.com/planlines/server/internal/saveload"
	"github.com/planlines/server/internal/scripting"
	"github.com/planlines/server/internal/system"
	"github.com/planlines/server/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              planlines  v0.1.0            \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m        共享規劃線 · 指令同步伺服器        \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m伺服器:\033[0m %s \033[90m(編號: %d)\033[0m\n\n", serverName, serverID)
}

// displayWidth counts CJK characters as two columns.
func displayWidth(s string) int {
	w := 0
	for _, r := range s {
		if r > 0x7F {
			w += 2
		} else {
			w++
		}
	}
	return w
}

func printSection(title string) {
	lineLen := max(46-displayWidth(title)-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := max(42-displayWidth(label)-len(numStr), 3)
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	configPath := pflag.StringP("config", "c", "", "path to the TOML config (default: $PLANLINES_CONFIG, then built-in defaults)")
	pflag.Parse()

	// 1. Load config
	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = os.Getenv("PLANLINES_CONFIG")
	}
	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	// 3. Open the save store
	printSection("存檔庫")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persist.Open(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if db != nil {
		defer db.Close()
		printOK(fmt.Sprintf("%s 連線成功，遷移完成", cfg.Database.Driver()))
	} else {
		printOK("未設定資料庫，僅使用存檔檔案")
	}
	fmt.Println()

	// 4. Build the world
	printSection("世界")

	bus := event.NewBus()
	notifier := event.NewNotifier(bus)
	worldState := world.NewState(world.Options{
		Layout:      cfg.Map,
		MaxPlans:    cfg.Plans.MaxPlans,
		TicksPerDay: cfg.Plans.TicksPerDay,
		Viewer:      plan.OwnerNone,
		Notify:      notifier,
	})

	var auth command.Authorizer
	if cfg.Scripting.Dir != "" {
		engine, err := scripting.NewEngine(cfg.Scripting.Dir, log)
		if err != nil {
			return fmt.Errorf("scripting: %w", err)
		}
		defer engine.Close()
		engine.BindWorld(worldState)
		auth = engine
		printOK(fmt.Sprintf("指令權限腳本已載入 (%s)", cfg.Scripting.Dir))
	}
	dispatcher := command.NewDispatcher(worldState, auth, log)
	queue := command.NewQueue(dispatcher, command.Actor{Owner: plan.OwnerDeity, Permission: command.PermDeity})

	if cfg.Save.LoadOnStart {
		info, err := system.RestoreState(ctx, worldState, queue, db, cfg.Save.Path, log)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		if info.Source != "" {
			printOK(fmt.Sprintf("已載入存檔 (%s, seq %d)", info.Source, info.SaveSeq))
		}
		printStat("重播指令", info.Replayed)
	}
	printStat("計畫", worldState.Plans.Len())
	printStat("模擬刻", int(worldState.Clock.Tick()))
	fmt.Println()

	compression, err := saveload.ParseCompression(cfg.Save.Compression)
	if err != nil {
		return err
	}

	// 5. Register packet handlers
	pktReg := packet.NewRegistry(log)
	sessions := gonet.NewSessionStore()
	limits := handler.NewLimits(cfg.RateLimit)
	deps := &handler.Deps{
		Config:   cfg,
		Log:      log,
		World:    worldState,
		Queue:    queue,
		Sessions: sessions,
		Limits:   limits,
	}
	handler.RegisterAll(pktReg, deps)

	// 6. Create network server
	pps := 0
	if cfg.RateLimit.Enabled {
		pps = cfg.RateLimit.PacketsPerSecond
	}
	netServer, err := gonet.NewServer(cfg.Network.BindAddress, gonet.Options{
		InQueueSize:      cfg.Network.InQueueSize,
		OutQueueSize:     cfg.Network.OutQueueSize,
		PacketsPerSecond: pps,
		ReadTimeout:      cfg.Network.ReadTimeout,
		WriteTimeout:     cfg.Network.WriteTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}
	go netServer.AcceptLoop()

	// 7. Create systems and register with runner
	runner := coresys.NewRunner()
	persistSys := system.NewPersistenceSystem(worldState, queue, bus, system.PersistenceOptions{
		Store:       db,
		Path:        cfg.Save.Path,
		Compression: compression,
		Server:      cfg.Server.Name,
		Interval:    cfg.Save.AutosaveTicks,
	}, log)
	inputSys := system.NewInputSystem(netServer, pktReg, sessions, limits, bus, cfg.Network.MaxPacketsPerTick, log)
	runner.Register(inputSys)
	runner.Register(system.NewCommandSystem(worldState, queue, sessions, bus, runner, log))
	runner.Register(system.NewClockSystem(worldState))
	runner.Register(system.NewDigestSystem(worldState, queue, sessions, cfg.Network.DigestEvery))
	runner.Register(system.NewOutputSystem(sessions, bus, notifier))
	runner.Register(persistSys)

	// 8. Start game loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Network.TickRate)
	defer ticker.Stop()

	printSection("伺服器就緒")
	printReady(fmt.Sprintf("監聽位址 %s", netServer.Addr().String()))
	printReady(fmt.Sprintf("遊戲迴圈啟動 (tick: %s)", cfg.Network.TickRate))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Network.TickRate)
		case sig := <-shutdownCh:
			log.Info("收到關閉信號", zap.String("signal", sig.String()))
			if err := persistSys.SaveNow(); err != nil {
				log.Error("關閉存檔失敗", zap.Error(err))
			}
			netServer.Shutdown()
			log.Info("伺服器已停止", zap.Int("sessions", inputSys.SessionCount()))
			return nil
		}
	}
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
