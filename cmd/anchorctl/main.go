package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

const defaultConfig = "./anchord.toml"

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	out := newPrinter(os.Stdout)
	var err error
	switch os.Args[1] {
	case "state":
		err = runState(os.Args[2:], out)
	case "anchors":
		err = runAnchors(os.Args[2:], out)
	case "pledges":
		err = runPledges(os.Args[2:], out)
	case "seal-hash":
		err = runSealHash(os.Args[2:], out)
	case "address":
		err = runAddress(os.Args[2:], out)
	case "token":
		err = runToken(os.Args[2:], out)
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: anchorctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands operate on the data directory of a stopped anchord node:")
	fmt.Fprintln(w, "  state                      aggregate counters and genesis markers")
	fmt.Fprintln(w, "  anchors [-from N -count N] registered anchors by id")
	fmt.Fprintln(w, "  pledges <depositor>        a depositor's pledge slots")
	fmt.Fprintln(w, "  seal-hash                  attestation over the current counters")
	fmt.Fprintln(w, "  address <hex|bech32>       render an address in both forms")
	fmt.Fprintln(w, "  token                      sign a gateway token with the admin keystore")
}

func runState(args []string, out *printer) error {
	fs := flag.NewFlagSet("state", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the node config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	l, err := openLedger(*configPath)
	if err != nil {
		return err
	}
	defer l.Close()
	return l.printState(out)
}

func runAnchors(args []string, out *printer) error {
	fs := flag.NewFlagSet("anchors", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the node config file")
	from := fs.Uint64("from", 1, "First anchor id")
	count := fs.Uint64("count", 50, "Maximum anchors to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	l, err := openLedger(*configPath)
	if err != nil {
		return err
	}
	defer l.Close()
	return l.printAnchors(out, *from, *count)
}

func runPledges(args []string, out *printer) error {
	fs := flag.NewFlagSet("pledges", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the node config file")
	from := fs.Uint64("from", 0, "First slot index")
	count := fs.Uint64("count", 50, "Maximum slots to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("pledges requires exactly one depositor address")
	}
	l, err := openLedger(*configPath)
	if err != nil {
		return err
	}
	defer l.Close()
	return l.printPledges(out, fs.Arg(0), *from, *count)
}

func runSealHash(args []string, out *printer) error {
	fs := flag.NewFlagSet("seal-hash", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the node config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	l, err := openLedger(*configPath)
	if err != nil {
		return err
	}
	defer l.Close()
	return l.printSealHash(out)
}

func runAddress(args []string, out *printer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("address requires exactly one argument")
	}
	return printAddress(out, fs.Arg(0))
}

func runToken(args []string, out *printer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the node config file")
	keystorePath := fs.String("keystore", "", "Admin keystore (defaults to AdminKeystorePath from the config)")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return issueAdminToken(out, *configPath, *keystorePath, *ttl)
}
