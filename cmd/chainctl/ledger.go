package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/jmerrifield20/chainledger/internal/icrc3"
	"github.com/jmerrifield20/chainledger/internal/identity"
	"github.com/jmerrifield20/chainledger/internal/ledger"
)

func init() {
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(mintCmd, burnCmd, transferCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.AddCommand(archiveRunCmd)
	rootCmd.AddCommand(statsCmd)
}

// ── dispatch ─────────────────────────────────────────────────────────────────

var dispatchFile string

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Submit a JSON array of actions",
	Long: `Dispatch reads a JSON array of actions from --file (or stdin) and prints
one result per action:

  echo '[{"ts":"1","caller":"ca","payload":{"mint":{"amt":"100","to":{"owner":"0a"}}}}]' \
    | chainctl dispatch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = cmd.InOrStdin()
		if dispatchFile != "" && dispatchFile != "-" {
			f, err := os.Open(dispatchFile)
			if err != nil {
				return err
			}
			defer f.Close() //nolint:errcheck
			in = f
		}
		var actions []ledger.Action
		if err := json.NewDecoder(in).Decode(&actions); err != nil {
			return fmt.Errorf("decode actions: %w", err)
		}
		return dispatch(cmd, actions)
	},
}

func init() {
	dispatchCmd.Flags().StringVarP(&dispatchFile, "file", "f", "", "JSON file with actions (default stdin)")
}

func dispatch(cmd *cobra.Command, actions []ledger.Action) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	results, err := c.Dispatch(context.Background(), actions)
	if err != nil {
		return err
	}
	if format == "json" {
		return printJSON(cmd.OutOrStdout(), results)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tKIND\tRESULT")
	failed := 0
	for i, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "%d\t%s\terror: %v\n", i, actions[i].Payload.Kind, r.Err)
			continue
		}
		fmt.Fprintf(w, "%d\t%s\tblock %d\n", i, actions[i].Payload.Kind, r.ID)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d actions failed", failed, len(actions))
	}
	return nil
}

// ── mint / burn / transfer ───────────────────────────────────────────────────

var (
	opFrom   string
	opTo     string
	opAmount uint64
	opCaller string
	opMemo   string
	opFee    uint64
)

var mintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint --amount to --to",
	RunE: func(cmd *cobra.Command, args []string) error {
		to, err := parseAccount(opTo)
		if err != nil {
			return fmt.Errorf("--to: %w", err)
		}
		return single(cmd, ledger.Mint(to, opAmount))
	},
}

var burnCmd = &cobra.Command{
	Use:   "burn",
	Short: "Burn --amount from --from",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseAccount(opFrom)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		return single(cmd, ledger.Burn(from, opAmount))
	},
}

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Transfer --amount from --from to --to",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseAccount(opFrom)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		to, err := parseAccount(opTo)
		if err != nil {
			return fmt.Errorf("--to: %w", err)
		}
		return single(cmd, ledger.Transfer(from, to, opAmount))
	},
}

func init() {
	for _, c := range []*cobra.Command{mintCmd, burnCmd, transferCmd} {
		c.Flags().Uint64Var(&opAmount, "amount", 0, "amount to move")
		c.Flags().StringVar(&opCaller, "caller", "", "caller principal (hex)")
		c.Flags().StringVar(&opMemo, "memo", "", "memo (hex, up to 32 bytes)")
		c.Flags().Uint64Var(&opFee, "fee", 0, "fee recorded with the block")
		_ = c.MarkFlagRequired("amount")
		_ = c.MarkFlagRequired("caller")
	}
	mintCmd.Flags().StringVar(&opTo, "to", "", "recipient account owner[.subaccount]")
	burnCmd.Flags().StringVar(&opFrom, "from", "", "source account owner[.subaccount]")
	transferCmd.Flags().StringVar(&opFrom, "from", "", "source account owner[.subaccount]")
	transferCmd.Flags().StringVar(&opTo, "to", "", "recipient account owner[.subaccount]")
}

// single dispatches one action built from the common flags.
func single(cmd *cobra.Command, p ledger.Payload) error {
	caller, err := identity.ParsePrincipal(opCaller)
	if err != nil {
		return fmt.Errorf("--caller: %w", err)
	}
	now := uint64(time.Now().UnixNano())
	a := ledger.Action{Ts: now, CreatedAtTime: &now, Caller: caller, Payload: p}
	if opMemo != "" {
		memo, err := hex.DecodeString(opMemo)
		if err != nil {
			return fmt.Errorf("--memo: %w", err)
		}
		a.Memo = memo
	}
	if opFee > 0 {
		a.Fee = uint256.NewInt(opFee)
	}
	return dispatch(cmd, []ledger.Action{a})
}

// ── balance ──────────────────────────────────────────────────────────────────

var balanceSubaccount string

var balanceCmd = &cobra.Command{
	Use:   "balance <owner>",
	Short: "Show the balance of an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		bal, err := c.BalanceOf(context.Background(), args[0], balanceSubaccount)
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(cmd.OutOrStdout(), map[string]string{"balance": bal.Dec()})
		}
		fmt.Fprintln(cmd.OutOrStdout(), bal.Dec())
		return nil
	},
}

func init() {
	balanceCmd.Flags().StringVar(&balanceSubaccount, "subaccount", "", "subaccount (hex, 32 bytes)")
}

// ── hash ─────────────────────────────────────────────────────────────────────

var hashRemote bool

var hashCmd = &cobra.Command{
	Use:   "hash <value-json>",
	Short: "Compute the representation-independent hash of a value",
	Long: `Hash prints the hash of a value given in its JSON form, for example:

  chainctl hash '{"Map":[["amt",{"Nat":"42"}]]}'

With --remote the ledger computes it instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var v icrc3.Value
		if err := json.Unmarshal([]byte(args[0]), &v); err != nil {
			return err
		}
		var sum string
		var err error
		if hashRemote {
			c, cerr := newClient()
			if cerr != nil {
				return cerr
			}
			sum, err = c.ComputeHash(context.Background(), v)
		} else {
			sum, err = icrc3.HashHex(v)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sum)
		return nil
	},
}

func init() {
	hashCmd.Flags().BoolVar(&hashRemote, "remote", false, "ask the ledger to compute the hash")
}

// ── archive / stats ──────────────────────────────────────────────────────────

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archival operations",
}

var archiveRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one archival pass now",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		s, err := c.RunArchive(context.Background())
		if err != nil {
			return err
		}
		return printStats(cmd, s)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		s, err := c.Stats(context.Background())
		if err != nil {
			return err
		}
		return printStats(cmd, s)
	},
}

func printStats(cmd *cobra.Command, s *ledger.Stats) error {
	if format == "json" {
		return printJSON(cmd.OutOrStdout(), s)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Log length:       %d\n", s.LogLength)
	fmt.Fprintf(out, "Live blocks:      %d (from %d)\n", s.LiveBlocks, s.LiveStart)
	fmt.Fprintf(out, "Archived windows: %d\n", s.ArchivedRecords)
	fmt.Fprintf(out, "Accounts:         %d\n", s.Accounts)
	if !s.LastModified.IsZero() {
		fmt.Fprintf(out, "Last modified:    %s\n", s.LastModified.Format(time.RFC3339Nano))
	}
	return nil
}
