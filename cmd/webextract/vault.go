package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mtzanidakis/webextract/internal/config"
	"github.com/mtzanidakis/webextract/internal/store"
)

func runVault(args []string) error {
	if len(args) == 0 || args[0] != "verify" {
		fmt.Fprintf(os.Stderr, "Usage: webextract vault verify\n")
		return fmt.Errorf("unknown vault command")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Vault.Passphrase == "" {
		return fmt.Errorf("WEBEXTRACT_VAULT_PASSPHRASE is not set")
	}

	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	return vaultVerify(db)
}

// vaultVerify opens every persisted run, which unseals its pipeline.
func vaultVerify(db *store.Store) error {
	runs, err := db.ListRuns()
	if err != nil {
		return fmt.Errorf("verify sealed runs: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPIPELINE")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Status, formatSize(int64(len(r.Pipeline))))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d runs verified\n", len(runs))
	return nil
}
