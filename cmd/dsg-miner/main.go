// Command dsg-miner is the miner node process: it wires the Chunk Store,
// Meta Store, Merkle Engine, Chain Client, Chunk Downloader, Contract
// Lifecycle Engine, Challenge Dispatcher and Reconciliation Loops
// together behind the customer/miner wire endpoint, per spec.md §2's
// component table.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"math/bits"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/inconshreveable/log15"

	"github.com/dmc-network/dsg-miner/chain"
	"github.com/dmc-network/dsg-miner/chunkdownloader"
	"github.com/dmc-network/dsg-miner/chunkstore"
	"github.com/dmc-network/dsg-miner/config"
	"github.com/dmc-network/dsg-miner/contract"
	"github.com/dmc-network/dsg-miner/dispatch"
	"github.com/dmc-network/dsg-miner/merkle"
	"github.com/dmc-network/dsg-miner/metastore"
	"github.com/dmc-network/dsg-miner/reconcile"
	"github.com/dmc-network/dsg-miner/signer"
	"github.com/dmc-network/dsg-miner/wire"
)

var logger = log.New("pkg", "main")

func main() {
	configPath := flag.String("config", "dsg-miner.yaml", "path to the miner's YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	s, err := signer.FromPath(cfg.SignerKeyPath)
	if err != nil {
		return err
	}

	chainID, err := hex.DecodeString(cfg.ChainID)
	if err != nil {
		return err
	}
	chainClient := chain.NewRPCClient(cfg.ChainURL, s.PrivateKey, cfg.MinerAccount, chainID)

	meta, err := metastore.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	chunks, err := chunkstore.NewFileStore(cfg.ChunkStoreDir)
	if err != nil {
		return err
	}

	minLayer := uint16(bits.Len64(cfg.ChunkSize/merkle.PieceSize) - 1)
	merkleEngine := merkle.NewEngine(minLayer)

	handler := wire.New(meta, chunks, nil, s)
	downloader := chunkdownloader.New(handler, chunks)

	engine := contract.New(meta, chunks, merkleEngine, chainClient, downloader, handler)
	dispatcher := dispatch.New(meta, engine)
	handler.Dispatcher = dispatcher

	supervisor := reconcile.NewSupervisor(meta, engine, handler)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go supervisor.Run(ctx)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		logger.Info("wire endpoint listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("wire endpoint stopped", "err", err)
		}
	}()

	if cfg.EnableCache {
		addr := cfg.CacheListenAddr
		if addr == "" {
			addr = wire.CacheListenAddr
		}
		cache := wire.NewCache(meta, chunks)
		cacheSrv := &http.Server{Addr: addr, Handler: cache}
		go func() {
			logger.Info("public cache listening", "addr", addr)
			if err := cacheSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("public cache stopped", "err", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return srv.Shutdown(context.Background())
}
