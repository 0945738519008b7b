package main

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/hex"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/chainledger/internal/blockstore"
	"github.com/jmerrifield20/chainledger/internal/icrc3"
	"github.com/jmerrifield20/chainledger/internal/identity"
	"github.com/jmerrifield20/chainledger/pkg/client"
)

func init() {
	rootCmd.AddCommand(blocksCmd, archivesCmd, tipCmd, verifyCmd)
}

// ── blocks ───────────────────────────────────────────────────────────────────

var (
	blocksStart  uint64
	blocksLength uint64
)

var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "Print blocks, following archive descriptors",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		blocks, err := c.Blocks(context.Background(), blocksStart, blocksLength)
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(cmd.OutOrStdout(), blocks)
		}
		return printBlocks(cmd, blocks)
	},
}

func init() {
	blocksCmd.Flags().Uint64Var(&blocksStart, "start", 0, "first block id")
	blocksCmd.Flags().Uint64Var(&blocksLength, "length", 100, "number of blocks")
}

func printBlocks(cmd *cobra.Command, blocks []icrc3.Block) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tBTYPE\tHASH")
	for _, b := range blocks {
		btype := "-"
		if tx, ok := b.Block.Get("tx"); ok {
			if v, ok := tx.Get("btype"); ok && v.Kind == icrc3.KindText {
				btype = v.Text
			}
		}
		h, err := b.Hash()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", b.ID, btype, hex.EncodeToString(h[:]))
	}
	return w.Flush()
}

// ── archives ─────────────────────────────────────────────────────────────────

var archivesFrom string

var archivesCmd = &cobra.Command{
	Use:   "archives",
	Short: "List shards and the block spans they hold",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		spans, err := c.Archives(context.Background(), archivesFrom)
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(cmd.OutOrStdout(), spans)
		}
		if len(spans) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No archives.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SHARD\tSTART\tEND")
		for _, s := range spans {
			fmt.Fprintf(w, "%s\t%d\t%d\n", s.Shard, s.Start, s.End)
		}
		return w.Flush()
	},
}

func init() {
	archivesCmd.Flags().StringVar(&archivesFrom, "from", "", "list shards after this one")
}

// ── tip ──────────────────────────────────────────────────────────────────────

var publicKeyFile string

var tipCmd = &cobra.Command{
	Use:   "tip",
	Short: "Fetch and verify the certified tip",
	Long: `Tip fetches the tip certificate and checks its signature. The signing key
comes from --public-key, or from the ledger's /public_key endpoint when the
flag is omitted (trust on first use).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()
		pub, err := loadPublicKey(ctx, c)
		if err != nil {
			return err
		}
		tip, err := c.VerifiedTip(ctx, pub, ledgerID)
		if err != nil {
			return err
		}
		if tip == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Ledger is empty, no certificate.")
			return nil
		}
		if format == "json" {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"index": tip.Index,
				"hash":  hex.EncodeToString(tip.Hash),
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Last block: %d\nTip hash:   %s\n", tip.Index, hex.EncodeToString(tip.Hash))
		return nil
	},
}

func loadPublicKey(ctx context.Context, c *client.Client) (*rsa.PublicKey, error) {
	if publicKeyFile == "" {
		return c.PublicKey(ctx)
	}
	data, err := os.ReadFile(publicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return identity.ParsePublicKeyPEM(string(data))
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Download the whole chain and check it against the certified tip",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()
		pub, err := loadPublicKey(ctx, c)
		if err != nil {
			return err
		}
		tip, err := c.VerifiedTip(ctx, pub, ledgerID)
		if err != nil {
			return err
		}
		if tip == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Ledger is empty, nothing to verify.")
			return nil
		}

		blocks, err := c.Blocks(ctx, 0, tip.Index+1)
		if err != nil {
			return err
		}
		if err := checkChain(blocks, tip.Index, tip.Hash); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d blocks, tip %s\n", len(blocks), hex.EncodeToString(tip.Hash))
		return nil
	},
}

// checkChain verifies the links of a chain starting at block 0 and that its
// last block is the certified one.
func checkChain(blocks []icrc3.Block, lastIndex uint64, tipHash []byte) error {
	if uint64(len(blocks)) != lastIndex+1 {
		return fmt.Errorf("fetched %d blocks, certificate covers %d", len(blocks), lastIndex+1)
	}
	if blocks[0].ID != 0 {
		return fmt.Errorf("chain starts at %d, want 0", blocks[0].ID)
	}
	got, err := blockstore.Verify(blocks, nil)
	if err != nil {
		return err
	}
	if !bytes.Equal(got[:], tipHash) {
		return fmt.Errorf("tip hash %x does not match certified %x", got, tipHash)
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{tipCmd, verifyCmd} {
		c.Flags().StringVar(&publicKeyFile, "public-key", "", "PEM file with the ledger's signing key")
	}
}
