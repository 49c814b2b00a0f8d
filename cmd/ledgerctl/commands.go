package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pterm/pterm"

	"github.com/alanyoungcy/betledger/internal/crypto"
	"github.com/alanyoungcy/betledger/internal/domain"
)

type command func(ctx context.Context, g *globals, args []string) error

var commands = map[string]command{
	"encrypt-key": cmdEncryptKey,
	"address":     cmdAddress,
	"status":      cmdStatus,
	"create":      cmdCreate,
	"stake":       cmdStake,
	"resolve":     cmdResolve,
	"claim":       cmdClaim,
	"market":      cmdMarket,
	"markets":     cmdMarkets,
	"stakes":      cmdStakes,
	"claimable":   cmdClaimable,
	"audit":       cmdAudit,
}

func cmdEncryptKey(_ context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ContinueOnError)
	out := fs.String("out", "", "key file to create")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("encrypt-key: -out is required")
	}

	key := g.key
	if key == "" {
		var err error
		if key, err = promptSecret("Private key (hex)"); err != nil {
			return err
		}
	}
	password := g.keyPassword
	if password == "" {
		var err error
		if password, err = promptSecret("New key file password"); err != nil {
			return err
		}
	}
	if password == "" {
		return errors.New("encrypt-key: empty password")
	}

	s, err := crypto.NewSigner(key)
	if err != nil {
		return fmt.Errorf("encrypt-key: %w", err)
	}
	if err := crypto.WriteEncryptedKey(*out, key, password); err != nil {
		return fmt.Errorf("encrypt-key: %w", err)
	}
	pterm.Success.Printfln("wrote %s for %s", *out, s.Address().Hex())
	return nil
}

func cmdAddress(_ context.Context, g *globals, _ []string) error {
	s, err := g.signer()
	if err != nil {
		return err
	}
	pterm.Println(s.Address().Hex())
	return nil
}

func cmdStatus(ctx context.Context, g *globals, _ []string) error {
	c, _, err := g.client(false)
	if err != nil {
		return err
	}
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	return renderKV([][2]string{
		{"mode", st.Mode},
		{"authority", st.Authority},
		{"claim policy", st.ClaimPolicy},
		{"markets", strconv.Itoa(st.Markets)},
		{"uptime", (time.Duration(st.UptimeSeconds) * time.Second).String()},
	})
}

func cmdCreate(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	question := fs.String("question", "", "market question")
	end := fs.String("end", "", "end time: RFC3339 timestamp or a duration from now such as 72h")
	if err := fs.Parse(args); err != nil {
		return err
	}
	endTime, err := parseEndTime(*end, time.Now())
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	c, _, err := g.client(true)
	if err != nil {
		return err
	}
	id, err := c.CreateMarket(ctx, *question, endTime)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("created market %d, staking closes %s", id, endTime.UTC().Format(time.RFC3339))
	return nil
}

func cmdStake(ctx context.Context, g *globals, args []string) error {
	if len(args) != 3 {
		return errors.New("usage: stake <market> <a|b> <amount>")
	}
	id, err := parseMarketID(args[0])
	if err != nil {
		return err
	}
	side, err := domain.ParseSide(args[1])
	if err != nil {
		return err
	}
	amount, err := parseAmount(args[2])
	if err != nil {
		return err
	}

	c, _, err := g.client(true)
	if err != nil {
		return err
	}
	if err := c.Stake(ctx, id, side, amount); err != nil {
		return err
	}
	pterm.Success.Printfln("staked %s on side %s of market %d", amount.Dec(), side, id)
	return nil
}

func cmdResolve(ctx context.Context, g *globals, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: resolve <market> <a|b>")
	}
	id, err := parseMarketID(args[0])
	if err != nil {
		return err
	}
	winner, err := domain.ParseSide(args[1])
	if err != nil {
		return err
	}

	c, _, err := g.client(true)
	if err != nil {
		return err
	}
	if err := c.Resolve(ctx, id, winner == domain.SideA); err != nil {
		return err
	}
	pterm.Success.Printfln("market %d resolved, side %s wins", id, winner)
	return nil
}

func cmdClaim(ctx context.Context, g *globals, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: claim <market>")
	}
	id, err := parseMarketID(args[0])
	if err != nil {
		return err
	}

	c, _, err := g.client(true)
	if err != nil {
		return err
	}
	reward, err := c.Claim(ctx, id)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("claimed %s from market %d", reward.Dec(), id)
	return nil
}

func cmdMarket(ctx context.Context, g *globals, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: market <market>")
	}
	id, err := parseMarketID(args[0])
	if err != nil {
		return err
	}

	c, _, err := g.client(false)
	if err != nil {
		return err
	}
	m, err := c.Market(ctx, id)
	if err != nil {
		return err
	}
	return renderMarkets([]domain.Market{m}, time.Now())
}

func cmdMarkets(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("markets", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "page size")
	offset := fs.Int("offset", 0, "markets to skip")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, _, err := g.client(false)
	if err != nil {
		return err
	}
	markets, total, err := c.Markets(ctx, *limit, *offset)
	if err != nil {
		return err
	}
	if err := renderMarkets(markets, time.Now()); err != nil {
		return err
	}
	pterm.Info.Printfln("%d of %d markets", len(markets), total)
	return nil
}

func cmdAudit(ctx context.Context, g *globals, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "page size")
	offset := fs.Int("offset", 0, "entries to skip")
	sinceFlag := fs.String("since", "", "oldest entry: RFC3339 or a duration ago")
	untilFlag := fs.String("until", "", "newest entry: RFC3339 or a duration ago")
	if err := fs.Parse(args); err != nil {
		return err
	}

	now := time.Now()
	since, err := parseBound(*sinceFlag, now)
	if err != nil {
		return fmt.Errorf("-since: %w", err)
	}
	until, err := parseBound(*untilFlag, now)
	if err != nil {
		return fmt.Errorf("-until: %w", err)
	}

	c, _, err := g.client(false)
	if err != nil {
		return err
	}
	entries, err := c.Audit(ctx, *limit, *offset, since, until)
	if err != nil {
		return err
	}
	if err := renderAudit(entries); err != nil {
		return err
	}
	pterm.Info.Printfln("%d entries", len(entries))
	return nil
}

func cmdStakes(ctx context.Context, g *globals, args []string) error {
	id, addr, err := marketAndAddress(g, "stakes", args)
	if err != nil {
		return err
	}
	c, _, err := g.client(false)
	if err != nil {
		return err
	}
	p, err := c.Stakes(ctx, id, addr)
	if err != nil {
		return err
	}
	return renderKV([][2]string{
		{"market", strconv.FormatUint(p.MarketID, 10)},
		{"participant", p.Participant.Hex()},
		{"side a", p.SideA.Dec()},
		{"side b", p.SideB.Dec()},
		{"claimed", strconv.FormatBool(p.Claimed)},
	})
}

func cmdClaimable(ctx context.Context, g *globals, args []string) error {
	id, addr, err := marketAndAddress(g, "claimable", args)
	if err != nil {
		return err
	}
	c, _, err := g.client(false)
	if err != nil {
		return err
	}
	amount, err := c.Claimable(ctx, id, addr)
	if err != nil {
		return err
	}
	pterm.Println(amount.Dec())
	return nil
}

// marketAndAddress parses "<market> [address]", defaulting the address to
// the signing key's.
func marketAndAddress(g *globals, name string, args []string) (uint64, common.Address, error) {
	if len(args) < 1 || len(args) > 2 {
		return 0, common.Address{}, fmt.Errorf("usage: %s <market> [address]", name)
	}
	id, err := parseMarketID(args[0])
	if err != nil {
		return 0, common.Address{}, err
	}
	if len(args) == 2 {
		addr, err := parseAddress(args[1])
		return id, addr, err
	}
	s, err := g.signer()
	if err != nil {
		return 0, common.Address{}, err
	}
	return id, s.Address(), nil
}

func parseMarketID(v string) (uint64, error) {
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid market id %q", v)
	}
	return id, nil
}

func parseAddress(v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid address %q", v)
	}
	return common.HexToAddress(v), nil
}

// parseAmount accepts a positive decimal integer below 2^256.
func parseAmount(v string) (uint256.Int, error) {
	n, err := uint256.FromDecimal(strings.TrimSpace(v))
	if err != nil {
		return uint256.Int{}, fmt.Errorf("invalid amount %q: %w", v, err)
	}
	if n.IsZero() {
		return uint256.Int{}, domain.ErrZeroAmount
	}
	return *n, nil
}

// parseEndTime accepts an RFC3339 timestamp or a positive duration added to
// now.
func parseEndTime(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("-end is required")
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid end time %q: want RFC3339 or a duration", v)
	}
	if d <= 0 {
		return time.Time{}, fmt.Errorf("end time %q is not in the future", v)
	}
	return now.Add(d), nil
}

// parseBound accepts an RFC3339 timestamp or a duration subtracted from now.
// Empty leaves the bound open.
func parseBound(v string, now time.Time) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return nil, fmt.Errorf("invalid time %q: want RFC3339 or a duration", v)
	}
	t := now.Add(-d)
	return &t, nil
}
