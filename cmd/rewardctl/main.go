package main

import (
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"capsupply/cmd/internal/passphrase"
	"capsupply/config"
	"capsupply/core/rewards"
	"capsupply/services/rewardd"
)

const (
	liabilityCommand  = "liability"
	tokenCommand      = "token"
	paramsInitCommand = "params-init"
	defaultParams     = "services/rewardd/params.toml"
	defaultSecretEnv  = "REWARDD_HMAC_SECRET"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) < 1 {
		usage(out)
		return fmt.Errorf("command required")
	}
	switch args[0] {
	case liabilityCommand:
		return runLiability(args[1:], out)
	case tokenCommand:
		return runToken(args[1:], out)
	case paramsInitCommand:
		return runParamsInit(args[1:], out)
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runLiability(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(liabilityCommand, flag.ContinueOnError)
	paramsPath := fs.String("params", defaultParams, "Path to the engine parameter file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*paramsPath)
	if err != nil {
		return err
	}
	params, err := cfg.Params()
	if err != nil {
		return err
	}
	schedule := params.Schedule
	fmt.Fprintf(out, "genesis %s, %d phases of %s, ends %s\n",
		schedule.Start.UTC().Format(time.RFC3339), schedule.Phases(), schedule.PhaseDuration, schedule.End().UTC().Format(time.RFC3339))
	if !schedule.IsDecaying() {
		fmt.Fprintln(out, "warning: rate table increases between phases")
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STREAM\tSIZE UNIT\tMAX MULTIPLIER BPS\tLIABILITY PER SIZE UNIT")
	for _, sp := range params.Streams {
		maxBps := uint32(0)
		for _, tier := range sp.Tiers {
			if tier.MultiplierBps > maxBps {
				maxBps = tier.MultiplierBps
			}
		}
		liability := rewards.ApplyBps(schedule.TotalLiability(), maxBps)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", sp.Name, sp.SizeUnit, maxBps, liability)
	}
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", "distributor", params.ScoreUnit, "-", schedule.TotalLiability())
	if err := tw.Flush(); err != nil {
		return err
	}
	headroom := new(big.Int).Set(params.Cap)
	for _, alloc := range params.Allocations {
		headroom.Sub(headroom, alloc.Amount)
	}
	fmt.Fprintf(out, "cap %s, headroom after genesis %s\n", params.Cap, headroom)
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	principal := fs.String("principal", "", "Principal address placed in the token subject")
	secret := fs.String("secret", "", "HMAC signing secret (prompted or read from -secret-env when empty)")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable holding the signing secret")
	issuer := fs.String("issuer", "", "Token issuer")
	audience := fs.String("audience", "", "Token audience")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !common.IsHexAddress(strings.TrimSpace(*principal)) {
		return fmt.Errorf("-principal must be a hex address")
	}
	key := strings.TrimSpace(*secret)
	if key == "" {
		resolved, err := passphrase.NewSource(*secretEnv, "token signing secret").Get()
		if err != nil {
			return err
		}
		key = resolved
	}
	token, err := rewardd.IssueToken(key, common.HexToAddress(*principal), *issuer, *audience, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runParamsInit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(paramsInitCommand, flag.ContinueOnError)
	path := fs.String("out", defaultParams, "Where to write the parameter file")
	force := fs.Bool("force", false, "Overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("%s already exists; pass -force to overwrite", *path)
	}
	if _, err := config.WriteDefault(*path); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote default parameters to %s; add at least one admin under [Roles] before starting rewardd\n", *path)
	return nil
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "Usage: rewardctl <command> [flags]")
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintf(out, "  %s    print the schedule liability per stream\n", liabilityCommand)
	fmt.Fprintf(out, "  %s        mint an HS256 operator token\n", tokenCommand)
	fmt.Fprintf(out, "  %s  write the default parameter file\n", paramsInitCommand)
}
