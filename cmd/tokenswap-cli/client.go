package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/url"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"

	"tokenswap/core/types"
	"tokenswap/crypto"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newClient(endpoint string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(endpoint, "/")).
		SetTimeout(15*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "tokenswap-cli")
}

// fetch issues req and pretty prints the JSON body to out.
func fetch(out io.Writer, req *resty.Request, method, path string) ([]byte, error) {
	var apiErr apiError
	resp, err := req.SetError(&apiErr).Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		if apiErr.Code != "" {
			return nil, fmt.Errorf("%s %s: %s: %s", method, path, apiErr.Code, apiErr.Message)
		}
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode())
	}
	body := resp.Body()
	if out != nil {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, body, "", "  "); err != nil {
			out.Write(body)
		} else {
			pretty.WriteTo(out)
		}
		fmt.Fprintln(out)
	}
	return body, nil
}

func runQuote(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("quote", flag.ContinueOnError)
	endpoint := endpointFlag(fs)
	asset := fs.String("asset", "", "payment asset symbol (defaults to the native asset)")
	amount := fs.String("amount", "", "payment amount in base units")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, ok := new(big.Int).SetString(*amount, 10); !ok {
		return fmt.Errorf("%w: -amount must be an integer", errUsage)
	}
	req := newClient(*endpoint).R().SetQueryParam("amount", *amount)
	if *asset != "" {
		req.SetQueryParam("asset", *asset)
	}
	_, err := fetch(out, req, resty.MethodGet, "/v1/quote")
	return err
}

func runState(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("state", flag.ContinueOnError)
	endpoint := endpointFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, err := fetch(out, newClient(*endpoint).R(), resty.MethodGet, "/v1/state")
	return err
}

func runAccount(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("account", flag.ContinueOnError)
	endpoint := endpointFlag(fs)
	receipts := fs.Bool("receipts", false, "include stored purchase receipts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: account requires an address", errUsage)
	}
	req := newClient(*endpoint).R()
	if *receipts {
		req.SetQueryParam("receipts", "true")
	}
	_, err := fetch(out, req, resty.MethodGet, "/v1/accounts/"+url.PathEscape(fs.Arg(0)))
	return err
}

func runReceipt(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("receipt", flag.ContinueOnError)
	endpoint := endpointFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: receipt requires an id", errUsage)
	}
	_, err := fetch(out, newClient(*endpoint).R(), resty.MethodGet, "/v1/receipts/"+url.PathEscape(fs.Arg(0)))
	return err
}

type callFlags struct {
	keystore string
	program  string
	method   string
	asset    string
	amount   string
	target   string
	assetA   string
	assetB   string
	output   string
	nonce    int64
}

// buildCall assembles an unsigned call from the parsed flags.
func buildCall(f callFlags) (*types.Call, error) {
	program, err := crypto.ParseAddress(f.program)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	method := types.CallMethod(strings.TrimSpace(f.method))
	if !method.Valid() {
		return nil, fmt.Errorf("unknown method %q", f.method)
	}
	call := &types.Call{
		Program: ethcommon.BytesToAddress(program[:]),
		Method:  method,
		Asset:   strings.TrimSpace(f.asset),
		AssetA:  strings.TrimSpace(f.assetA),
		AssetB:  strings.TrimSpace(f.assetB),
		Output:  strings.TrimSpace(f.output),
	}
	if f.amount != "" {
		amount, ok := new(big.Int).SetString(f.amount, 10)
		if !ok {
			return nil, fmt.Errorf("amount must be an integer")
		}
		call.Amount = amount
	}
	if f.target != "" {
		target, err := crypto.ParseAddress(f.target)
		if err != nil {
			return nil, fmt.Errorf("target: %w", err)
		}
		call.Target = ethcommon.BytesToAddress(target[:])
	}
	return call, nil
}

func currentNonce(client *resty.Client, addr string) (uint64, error) {
	var acct struct {
		Nonce uint64 `json:"nonce"`
	}
	body, err := fetch(nil, client.R(), resty.MethodGet, "/v1/accounts/"+url.PathEscape(addr))
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(body, &acct); err != nil {
		return 0, fmt.Errorf("decode account: %w", err)
	}
	return acct.Nonce, nil
}

func runCall(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	endpoint := endpointFlag(fs)
	var f callFlags
	fs.StringVar(&f.keystore, "keystore", "tokenswap.keystore", "signing keystore path")
	fs.StringVar(&f.program, "program", "", "program id (tswp1...)")
	fs.StringVar(&f.method, "method", "", "operation name, e.g. buy_with_native")
	fs.StringVar(&f.asset, "asset", "", "payment asset for buy_with_asset")
	fs.StringVar(&f.amount, "amount", "", "amount in base units")
	fs.StringVar(&f.target, "target", "", "new admin for update_admin")
	fs.StringVar(&f.assetA, "asset-a", "", "first stable asset for initialize_state")
	fs.StringVar(&f.assetB, "asset-b", "", "second stable asset for initialize_state")
	fs.StringVar(&f.output, "output", "", "output asset for initialize_state")
	fs.Int64Var(&f.nonce, "nonce", -1, "account nonce; fetched from the daemon when negative")
	if err := fs.Parse(args); err != nil {
		return err
	}
	call, err := buildCall(f)
	if err != nil {
		return err
	}
	key, err := loadKey(f.keystore)
	if err != nil {
		return err
	}
	client := newClient(*endpoint)
	if f.nonce < 0 {
		nonce, err := currentNonce(client, key.PubKey().Address().String())
		if err != nil {
			return fmt.Errorf("fetch nonce: %w", err)
		}
		call.Nonce = nonce
	} else {
		call.Nonce = uint64(f.nonce)
	}
	if err := call.Sign(key.PrivateKey); err != nil {
		return fmt.Errorf("sign call: %w", err)
	}
	req := client.R().SetHeader("Content-Type", "application/json").SetBody(call)
	_, err = fetch(out, req, resty.MethodPost, "/v1/calls")
	return err
}
