package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"pontoon/acp"
	"pontoon/agent"
	"pontoon/backend"
	"pontoon/clientops"
	"pontoon/config"
	"pontoon/relay"
	"pontoon/session"
)

func main() {
	providerFlag := flag.String("provider", "", "Provider id for new sessions (overrides configuration)")
	modelFlag := flag.String("model", "", "Model name for new sessions (overrides configuration)")
	modeFlag := flag.String("mode", "", "Default session mode: 'read-only', 'auto' or 'full-access'")
	listenFlag := flag.String("listen", "", "Address for the filesystem relay to listen on")
	traceFlag := flag.Bool("trace", false, "Enable execution tracing to troubleshoot issues")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}
	if *providerFlag != "" {
		cfg.Provider = *providerFlag
	}
	if *modelFlag != "" {
		cfg.Model = *modelFlag
	}
	if *modeFlag != "" {
		cfg.DefaultMode = *modeFlag
	}
	if *listenFlag != "" {
		cfg.RelayListenAddr = *listenFlag
	}

	if _, ok := cfg.ProviderByID(cfg.Provider); !ok {
		fmt.Fprintf(os.Stderr, "Unknown provider '%s'. Configure it under providers in .pontoon/config.yaml.\n", cfg.Provider)
		os.Exit(1)
	}
	if _, ok := session.PresetByMode(session.Mode(cfg.DefaultMode)); !ok {
		fmt.Fprintf(os.Stderr, "Invalid mode '%s'. Must be 'read-only', 'auto' or 'full-access'.\n", cfg.DefaultMode)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := session.NewStore()
	queue := clientops.NewQueue(32)

	fileRelay := relay.New(store, queue, cfg.FilesystemAccess)
	if err := fileRelay.Start(cfg.RelayListenAddr); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting filesystem relay: %+v\n", err)
		os.Exit(1)
	}
	defer fileRelay.Close()

	engine := backend.NewChatEngine(cfg)
	coord := agent.New(cfg, store, engine, queue, fileRelay.URL())

	// Stdout carries protocol frames only; everything else goes to stderr.
	in := bufio.NewReader(os.Stdin)
	out := bufio.NewWriter(os.Stdout)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return acp.Run(ctx, cfg, coord, store, queue, in, out, *traceFlag)
	})
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Agent stopped with an error: %+v\n", err)
		os.Exit(1)
	}
}
