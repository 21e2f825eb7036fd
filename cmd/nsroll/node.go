package main

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/nsroll/aggregator"
	"github.com/colorfulnotion/nsroll/config"
	"github.com/colorfulnotion/nsroll/ed25519"
	"github.com/colorfulnotion/nsroll/log"
	"github.com/colorfulnotion/nsroll/prover"
	"github.com/colorfulnotion/nsroll/storage"
	"github.com/colorfulnotion/nsroll/telemetry"
	"github.com/colorfulnotion/nsroll/transition"
	"github.com/colorfulnotion/nsroll/trie"
	"github.com/colorfulnotion/nsroll/voting"
)

const (
	serviceName   = "nsroll"
	namesSpace    = "names"
	validatorSeed = "nsroll/validator"
)

type globalOptions struct {
	configPath   string
	logLevel     string
	debugModules string
	dbPath       string
}

// node bundles what every command needs: config, logger, tracing, storage
// and the proof registry.
type node struct {
	cfg      *config.Config
	db       *storage.PersistenceStore
	reg      *prover.Registry
	shutdown telemetry.ShutdownFunc
}

func openNode(ctx context.Context, opts *globalOptions) (*node, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.debugModules != "" {
		cfg.DebugModules = opts.debugModules
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.InitLogger(cfg.LogLevel)
	log.EnableModules(cfg.DebugModules)

	shutdown, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		return nil, err
	}
	n := &node{cfg: cfg, shutdown: shutdown}
	if cfg.DBPath != "" {
		if n.db, err = storage.NewPersistenceStore(cfg.DBPath); err != nil {
			n.close(ctx)
			return nil, fmt.Errorf("open db %s: %w", cfg.DBPath, err)
		}
	}
	n.reg, err = transition.NewRegistry(prover.NewDevAttestor(cfg.ProverSeed), cfg.VerifyCache, voting.Circuits()...)
	if err != nil {
		n.close(ctx)
		return nil, err
	}
	return n, nil
}

func (n *node) close(ctx context.Context) {
	if n.db != nil {
		if err := n.db.Close(); err != nil {
			log.Warn(log.StorageModule, "db close", "err", err)
		}
	}
	if err := n.shutdown(ctx); err != nil {
		log.Warn(log.TelemetryModule, "tracing shutdown", "err", err)
	}
}

// state opens the name map, persistent when a db is configured.
func (n *node) state() (*aggregator.State, error) {
	var store trie.NodeStore = trie.NewMemoryNodeStore()
	if n.db != nil {
		store = trie.NewPersistentNodeStore(n.db, namesSpace)
	}
	m, err := trie.NewCommitmentMap(n.cfg.Depth, store)
	if err != nil {
		return nil, err
	}
	return aggregator.NewState(m), nil
}

func (n *node) pipeline() *aggregator.Pipeline {
	return aggregator.NewPipeline(transition.NewProver(n.reg), n.cfg.Workers)
}

// devValidators derives count deterministic validator keys from label.
func devValidators(label string, count int) []ed25519.PrivateKey {
	keys := make([]ed25519.PrivateKey, count)
	for i := range keys {
		keys[i] = ed25519.DeriveKey(fmt.Sprintf("%s/%s/%d", validatorSeed, label, i))
	}
	return keys
}

func devCommittee(label string, count int) ([]ed25519.PrivateKey, *voting.Committee, error) {
	keys := devValidators(label, count)
	pubs := make([]ed25519.PublicKey, count)
	for i, k := range keys {
		pubs[i] = ed25519.Public(k)
	}
	c, err := voting.NewCommittee(pubs)
	if err != nil {
		return nil, nil, err
	}
	return keys, c, nil
}
