package main

import (
	"errors"
	"fmt"
	"log/slog"

	deployment "tokenswap/config"
	"tokenswap/core/state"
	"tokenswap/crypto"
	"tokenswap/internal/passphrase"
	"tokenswap/native/tokenswap"
	"tokenswap/observability/logging"
	"tokenswap/storage"
)

// openSubstrate registers the deployment's assets and, on a fresh database,
// applies the genesis allocations.
func openSubstrate(dep *deployment.Config, db storage.Database, logger *slog.Logger) (*state.Manager, error) {
	manager := state.NewManager(db)
	existing, err := manager.TokenList()
	if err != nil {
		return nil, fmt.Errorf("load token list: %w", err)
	}
	fresh := len(existing) == 0
	for _, asset := range []deployment.Asset{dep.Assets.Native, dep.Assets.Output, dep.Assets.AssetA, dep.Assets.AssetB} {
		if _, err := manager.Token(asset.Symbol); err == nil {
			continue
		} else if !errors.Is(err, state.ErrUnknownToken) {
			return nil, err
		}
		if err := manager.RegisterToken(asset.Symbol, asset.Name, asset.Decimals); err != nil {
			return nil, fmt.Errorf("register %s: %w", asset.Symbol, err)
		}
		logger.Info("registered asset", slog.String("asset", asset.Symbol), slog.Int("decimals", int(asset.Decimals)))
	}
	if fresh {
		allocations, err := dep.Allocations()
		if err != nil {
			return nil, err
		}
		for _, alloc := range allocations {
			if err := manager.Credit(alloc.Address, alloc.Asset, alloc.Amount); err != nil {
				return nil, fmt.Errorf("genesis credit: %w", err)
			}
		}
		if len(allocations) > 0 {
			logger.Info("applied genesis allocations", slog.Int("count", len(allocations)))
		}
	}
	if err := manager.Commit(); err != nil {
		return nil, fmt.Errorf("commit substrate bootstrap: %w", err)
	}
	return manager, nil
}

// buildSigner resolves the treasury authority for the deployment.
func buildSigner(dep *deployment.Config, program [20]byte, logger *slog.Logger) (tokenswap.TreasurySigner, error) {
	switch dep.Signer.Mode {
	case deployment.SignerModeDerived:
		return tokenswap.NewDerivedSigner(program), nil
	case deployment.SignerModeKey:
		secret, err := passphrase.NewSource(dep.Signer.PassphraseEnv, "treasury keystore").Get()
		if err != nil {
			return nil, err
		}
		key, err := crypto.LoadFromKeystore(dep.Signer.KeystorePath, secret)
		if err != nil {
			return nil, fmt.Errorf("load treasury keystore: %w", err)
		}
		logger.Info("loaded treasury key", logging.MaskField("keystore", dep.Signer.KeystorePath))
		return tokenswap.NewKeySigner(key)
	}
	return nil, fmt.Errorf("unknown signer mode %q", dep.Signer.Mode)
}

// buildEngine assembles the exchange engine over the price cache.
func buildEngine(dep *deployment.Config, program [20]byte, signer tokenswap.TreasurySigner, prices tokenswap.Oracle) (*tokenswap.Engine, error) {
	custody, err := dep.EngineCustody(program)
	if err != nil {
		return nil, err
	}
	feeds, err := dep.EngineFeeds()
	if err != nil {
		return nil, err
	}
	return tokenswap.NewEngine(tokenswap.Config{
		NativeAsset: dep.Assets.Native.Symbol,
		Signer:      signer,
		Custody:     custody,
		Oracle:      prices,
		Feeds:       feeds,
		Policy:      dep.EnginePolicy(),
	})
}
