package main

import (
	"flag"
	"fmt"
	"io"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"tokenswap/crypto"
	"tokenswap/internal/passphrase"
	"tokenswap/native/tokenswap"
)

func loadKey(path string) (*crypto.PrivateKey, error) {
	secret, err := passphrase.NewSource(defaultPassEnv, "keystore").Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, secret)
	if err != nil {
		return nil, fmt.Errorf("load keystore %s: %w", path, err)
	}
	return key, nil
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	path := fs.String("out", "tokenswap.keystore", "keystore output path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	secret, err := passphrase.NewSource(defaultPassEnv, "new keystore").Get()
	if err != nil {
		return err
	}
	key, err := crypto.CreateKeystore(*path, secret)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "keystore: %s\naddress:  %s\n", *path, key.PubKey().Address().String())
	return nil
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	path := fs.String("keystore", "tokenswap.keystore", "keystore path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := loadKey(*path)
	if err != nil {
		return err
	}
	addr := key.PubKey().Address()
	fmt.Fprintf(out, "%s\n%s\n", addr.String(), ethcommon.BytesToAddress(addr.Bytes()).Hex())
	return nil
}

// runDerive prints the addresses a derived deployment of program uses.
func runDerive(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("derive", flag.ContinueOnError)
	programFlag := fs.String("program", "", "program id (tswp1...)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	program, err := crypto.ParseAddress(*programFlag)
	if err != nil {
		return fmt.Errorf("program: %w", err)
	}
	custody := tokenswap.DerivedCustody(program)
	fmt.Fprintf(out, "state:   %s\n", crypto.NewAddress(crypto.ProgramPrefix, sliceOf(tokenswap.StateAddress(program))).String())
	for _, role := range []tokenswap.AssetRole{tokenswap.RoleNative, tokenswap.RoleOutput, tokenswap.RoleAssetA, tokenswap.RoleAssetB} {
		addr := custody.Address(role)
		fmt.Fprintf(out, "%-8s %s\n", role.String()+":", crypto.NewAddress(crypto.ProgramPrefix, sliceOf(addr)).String())
	}
	return nil
}

func sliceOf(addr [20]byte) []byte { return addr[:] }
