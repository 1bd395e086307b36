package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	defaultEndpoint = "http://localhost:7080"
	defaultPassEnv  = "TOKENSWAP_KEY_PASSPHRASE"
)

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			usage(os.Stderr)
		} else {
			fmt.Fprintf(os.Stderr, "tokenswap-cli: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) < 1 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "keygen":
		return runKeygen(rest, out)
	case "address":
		return runAddress(rest, out)
	case "derive":
		return runDerive(rest, out)
	case "quote":
		return runQuote(rest, out)
	case "state":
		return runState(rest, out)
	case "account":
		return runAccount(rest, out)
	case "receipt":
		return runReceipt(rest, out)
	case "call":
		return runCall(rest, out)
	case "help", "-h", "--help":
		usage(out)
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func endpointFlag(fs *flag.FlagSet) *string {
	def := defaultEndpoint
	if v := strings.TrimSpace(os.Getenv("TOKENSWAP_URL")); v != "" {
		def = v
	}
	return fs.String("endpoint", def, "tokenswapd base URL")
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: tokenswap-cli <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  keygen   -out <path>                    create an encrypted keystore")
	fmt.Fprintln(w, "  address  -keystore <path>               print the keystore's account address")
	fmt.Fprintln(w, "  derive   -program <tswp1...>            print the treasury state and custody addresses")
	fmt.Fprintln(w, "  quote    -asset <sym> -amount <units>  price a purchase without executing it")
	fmt.Fprintln(w, "  state                                   show the treasury record")
	fmt.Fprintln(w, "  account  <address> [-receipts]          show nonce and balances")
	fmt.Fprintln(w, "  receipt  <id|0xcallid>                  show a stored purchase receipt")
	fmt.Fprintln(w, "  call     -keystore <path> -program <tswp1...> -method <name> [args]")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Keystore passphrases are read from %s or prompted.\n", defaultPassEnv)
}
