package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

func listPositions(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ledger, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	positions, err := ledger.ListOpen(ctx)
	if cmd.Bool("all") {
		positions, err = ledger.ListAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to list positions: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tSYMBOL\tEVENT\tHELD\tOPENED\tENTRY TX\tEXIT TX")
	for _, p := range positions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\t%s\n",
			p.Token, p.Symbol, p.EventTag, p.Held, humanize.Time(p.CreatedAt), p.EntryTxRef, p.ExitTxRef)
	}
	return w.Flush()
}

func showBlacklist(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	persister, closePersister := newPersister(cfg)
	defer closePersister()

	snap, err := persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load blacklist: %w", err)
	}

	fmt.Printf("Tokens (%s):\n", humanize.Comma(int64(len(snap.Tokens))))
	for _, t := range snap.Tokens {
		fmt.Println("  " + t)
	}
	fmt.Printf("Issuers (%s):\n", humanize.Comma(int64(len(snap.Issuers))))
	for _, i := range snap.Issuers {
		fmt.Println("  " + i)
	}
	return nil
}

func addToBlacklist(ctx context.Context, cmd *cli.Command) error {
	tokens, issuers := cmd.StringSlice("token"), cmd.StringSlice("issuer")
	if len(tokens) == 0 && len(issuers) == 0 {
		return fmt.Errorf("nothing to add: pass --token or --issuer")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	bl, closeBlacklist, err := openBlacklist(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBlacklist()

	added := 0
	for _, t := range tokens {
		if bl.AddToken(ctx, t) {
			added++
		}
	}
	for _, i := range issuers {
		if bl.AddIssuer(ctx, i) {
			added++
		}
	}
	if err := bl.Flush(ctx); err != nil {
		return err
	}
	fmt.Printf("Added %d new entries (%d requested)\n", added, len(tokens)+len(issuers))
	return nil
}
