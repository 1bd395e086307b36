package config

import (
	"fmt"
	"strings"
)

// Validate checks the deployment for internal consistency.
func (c *Config) Validate() error {
	if _, err := c.Program(); err != nil {
		return fmt.Errorf("program_id: %w", err)
	}
	switch c.Signer.Mode {
	case SignerModeDerived:
	case SignerModeKey:
		if strings.TrimSpace(c.Signer.KeystorePath) == "" {
			return fmt.Errorf("signer: keystore path required for key mode")
		}
	default:
		return fmt.Errorf("signer: unknown mode %q", c.Signer.Mode)
	}
	switch c.Custody.Mode {
	case CustodyModeDerived:
	case CustodyModeExternal:
		program, _ := c.Program()
		if _, err := c.EngineCustody(program); err != nil {
			return err
		}
	default:
		return fmt.Errorf("custody: unknown mode %q", c.Custody.Mode)
	}

	seen := make(map[string]string, 4)
	for role, asset := range map[string]Asset{
		"native":  c.Assets.Native,
		"output":  c.Assets.Output,
		"asset_a": c.Assets.AssetA,
		"asset_b": c.Assets.AssetB,
	} {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if symbol == "" {
			return fmt.Errorf("assets: %s symbol required", role)
		}
		if other, dup := seen[symbol]; dup {
			return fmt.Errorf("assets: %s and %s share symbol %s", role, other, symbol)
		}
		seen[symbol] = role
		if asset.Decimals > 18 {
			return fmt.Errorf("assets: %s decimals %d exceed 18", role, asset.Decimals)
		}
	}
	if c.Assets.Native.Decimals != 9 {
		return fmt.Errorf("assets: native decimals must be 9")
	}
	if c.Assets.AssetA.Decimals != 6 || c.Assets.AssetB.Decimals != 6 {
		return fmt.Errorf("assets: stable assets must use 6 decimals")
	}

	if _, err := c.EngineFeeds(); err != nil {
		return err
	}
	if err := c.EnginePolicy().Validate(); err != nil {
		return err
	}
	allocations, err := c.Allocations()
	if err != nil {
		return err
	}
	for i, alloc := range allocations {
		if _, ok := seen[alloc.Asset]; !ok {
			return fmt.Errorf("genesis[%d]: unknown asset %s", i, alloc.Asset)
		}
	}
	return nil
}
