// Command ledgerctl is the operator and participant client for a betledger
// server. Mutating commands are signed with the key given by -key or
// -key-file.
//
//	ledgerctl [global flags] <command> [args]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"github.com/alanyoungcy/betledger/internal/client"
	"github.com/alanyoungcy/betledger/internal/crypto"
)

const usage = `usage: ledgerctl [flags] <command> [args]

commands:
  encrypt-key -out <path>                write the signing key to an encrypted key file
  address                                print the signing key's address
  status                                 show server mode, authority and market count
  create -question <q> -end <time|dur>   open a market (authority only)
  stake <market> <a|b> <amount>          stake on a side
  resolve <market> <a|b>                 declare the winning side (authority only)
  claim <market>                         collect a reward
  market <market>                        show one market
  markets [-limit n] [-offset n]         list markets
  stakes <market> [address]              show stakes (default: own address)
  claimable <market> [address]           show the claimable reward (default: own address)
  audit [-limit n] [-offset n] [-since t] [-until t]
                                         list audit entries, newest first

flags:
`

// globals are the flags shared by every command.
type globals struct {
	server      string
	apiKey      string
	key         string
	keyFile     string
	keyPassword string
	timeout     time.Duration
}

func main() {
	logger := slog.New(pterm.NewSlogHandler(&pterm.DefaultLogger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

// run parses the global flags and dispatches to the named command.
func run(ctx context.Context, args []string) error {
	g := globals{}
	fs := flag.NewFlagSet("ledgerctl", flag.ContinueOnError)
	fs.StringVar(&g.server, "server", envOr("BETLEDGER_URL", "http://localhost:8080"), "server base URL")
	fs.StringVar(&g.apiKey, "api-key", os.Getenv("BETLEDGER_SERVER_API_KEY"), "API key, when the server requires one")
	fs.StringVar(&g.key, "key", os.Getenv("BETLEDGER_PRIVATE_KEY"), "hex private key")
	fs.StringVar(&g.keyFile, "key-file", os.Getenv("BETLEDGER_KEY_FILE"), "encrypted key file")
	fs.StringVar(&g.keyPassword, "key-password", os.Getenv("BETLEDGER_KEY_PASSWORD"), "password for -key-file")
	fs.DurationVar(&g.timeout, "timeout", 30*time.Second, "request timeout")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	handler, ok := commands[cmd]
	if !ok {
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return handler(ctx, &g, rest)
}

// signer loads the signing key from -key or -key-file, prompting for the key
// file password when none was given.
func (g *globals) signer() (*crypto.Signer, error) {
	if g.key == "" && g.keyFile == "" {
		return nil, errors.New("no signing key: set -key or -key-file")
	}
	if g.key == "" && g.keyPassword == "" {
		pw, err := promptSecret("Key file password")
		if err != nil {
			return nil, err
		}
		g.keyPassword = pw
	}
	return crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    g.key,
		EncryptedKeyPath: g.keyFile,
		KeyPassword:      g.keyPassword,
	})
}

// client returns an API client; signed reports whether it needs a key.
func (g *globals) client(signed bool) (*client.Client, *crypto.Signer, error) {
	opts := []client.Option{client.WithAPIKey(g.apiKey)}
	var s *crypto.Signer
	if signed {
		var err error
		if s, err = g.signer(); err != nil {
			return nil, nil, err
		}
		opts = append(opts, client.WithSigner(s))
	}
	return client.New(g.server, opts...), s, nil
}

func promptSecret(label string) (string, error) {
	v, err := pterm.DefaultInteractiveTextInput.WithDefaultText(label).WithMask("*").Show()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	pterm.Println()
	return v, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
