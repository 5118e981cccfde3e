package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/planlines/server/internal/command"
	"github.com/planlines/server/internal/data"
	"github.com/planlines/server/internal/saveload"
	"github.com/planlines/server/internal/scripting"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	scenarioPath := pflag.StringP("scenario", "s", "", "scenario YAML to replay (required)")
	scriptsDir := pflag.String("scripts", "scripts", "Lua policy directory; empty uses plain permission checks")
	loadPath := pflag.String("load", "", "save file both replicas start from")
	outPath := pflag.StringP("out", "o", "", "write the server replica to this save file afterwards")
	compression := pflag.String("compression", "zstd", "compression for --out: none, lz4 or zstd")
	verbose := pflag.BoolP("verbose", "v", false, "log every tick")
	pflag.Parse()

	if *scenarioPath == "" {
		pflag.Usage()
		return fmt.Errorf("--scenario is required")
	}

	level := zapcore.InfoLevel
	if *verbose {
		level = zapcore.DebugLevel
	}
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.DisableCaller = true
	zapCfg.DisableStacktrace = true
	log, err := zapCfg.Build()
	if err != nil {
		return err
	}
	defer log.Sync()

	sc, err := data.LoadScenario(*scenarioPath)
	if err != nil {
		return err
	}

	var auth command.Authorizer
	var engine *scripting.Engine
	if *scriptsDir != "" {
		if engine, err = scripting.NewEngine(*scriptsDir, log); err != nil {
			return fmt.Errorf("scripting: %w", err)
		}
		defer engine.Close()
		auth = engine
	}

	r := newReplayer(sc, auth, log)
	if engine != nil {
		engine.BindWorld(r.server)
	}
	if *loadPath != "" {
		raw, err := os.ReadFile(*loadPath)
		if err != nil {
			return err
		}
		if err := r.load(raw); err != nil {
			return err
		}
		log.Info("loaded save", zap.String("path", *loadPath), zap.Int("plans", r.server.Plans.Len()))
	}

	rep, err := r.run(sc)
	if err != nil {
		return err
	}

	fmt.Printf("scenario   %s\n", sc.Name)
	fmt.Printf("steps      %d (applied %d, rejected %d)\n", rep.Steps, rep.Applied, rep.Rejected)
	fmt.Printf("server     %s\n", rep.ServerDigest)
	fmt.Printf("client     %s\n", rep.ClientDigest)
	for _, f := range rep.Failures {
		fmt.Printf("  FAIL %v\n", f)
	}

	if *outPath != "" {
		c, err := saveload.ParseCompression(*compression)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := saveload.Save(&buf, r.server, saveload.Options{Compression: c, Seq: r.queue.Seq(), Server: sc.Name}); err != nil {
			return err
		}
		if err := os.WriteFile(*outPath, buf.Bytes(), 0o644); err != nil {
			return err
		}
		log.Info("saved", zap.String("path", *outPath), zap.Int("bytes", buf.Len()))
	}

	if !rep.Converged() {
		return fmt.Errorf("replay did not converge")
	}
	return nil
}
