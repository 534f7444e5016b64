// Command godcoind is GodCoin's composition root: it opens (or bootstraps)
// a chain at the configured home directory and wires it to a mempool and
// an rpc.Handler, then idles until interrupted. The gossip layer, the
// minter's block-production scheduler, and any transport binding the rpc
// handler to a socket are all out of scope for the core and are left as
// thin stand-ins a future collaborator would replace.
package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/godcoin-go/godcoin/account"
	"github.com/godcoin-go/godcoin/asset"
	"github.com/godcoin-go/godcoin/blockchain"
	"github.com/godcoin-go/godcoin/crypto"
	"github.com/godcoin-go/godcoin/logs"
	"github.com/godcoin-go/godcoin/mempool"
	"github.com/godcoin-go/godcoin/rpc"
)

var log = logs.Logger(logs.Main)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logs.InitLogRotator(cfg.logPath()); err != nil {
		return err
	}
	logs.SetLogLevels(cfg.LogLevel)

	minter, err := loadOrCreateMinterKey(cfg)
	if err != nil {
		return errors.Wrap(err, "minter key")
	}

	chain, err := blockchain.Open(cfg.blocksPath(), cfg.indexPath())
	if err != nil {
		return errors.Wrap(err, "open chain")
	}

	actor := blockchain.NewActor(chain)
	defer actor.Close()

	if _, err := actor.Chain().GetProperties(); err != nil {
		if !cfg.Genesis {
			return errors.New("godcoind: chain is empty; pass --genesis to bootstrap one")
		}
		supply, err := asset.Parse(cfg.Supply)
		if err != nil {
			return errors.Wrap(err, "parse initial supply")
		}
		if err := actor.CreateGenesisBlock(minter, ownerWalletID, supply); err != nil {
			return errors.Wrap(err, "create genesis block")
		}
		log.Infof("bootstrapped fresh chain at %s", cfg.HomeDir)
	}

	pool := mempool.New(actor.Chain())
	_ = rpc.NewHandler(actor, pool)

	log.Infof("godcoind ready, minter=%s home=%s", minter.Public, cfg.HomeDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Infof("shutting down")
	return nil
}

// ownerWalletID is the network owner's account id assigned at genesis.
// Later accounts take whatever id their AccountTx names.
const ownerWalletID account.ID = 0

// loadOrCreateMinterKey reads a 32-byte Ed25519 seed from cfg.MinterKey,
// generating and persisting a fresh one if --genesis was given and the
// file doesn't exist yet.
func loadOrCreateMinterKey(cfg *config) (crypto.KeyPair, error) {
	if cfg.MinterKey == "" {
		return crypto.KeyPair{}, errors.New("--minter-key is required")
	}

	seed, err := os.ReadFile(cfg.MinterKey)
	if err != nil {
		if !os.IsNotExist(err) || !cfg.Genesis {
			return crypto.KeyPair{}, errors.Wrap(err, "read minter key")
		}
		seed = make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return crypto.KeyPair{}, errors.Wrap(err, "generate minter seed")
		}
		if err := os.WriteFile(cfg.MinterKey, seed, 0600); err != nil {
			return crypto.KeyPair{}, errors.Wrap(err, "write minter key")
		}
		log.Infof("generated new minter key at %s", cfg.MinterKey)
	}

	return crypto.KeyPairFromSeed(seed)
}
