// Copyright (c) 2020 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/forensicanalysis/casestore"
	"github.com/forensicanalysis/casestore/config"
)

// Custody is the casestore custody commandline subcommand
func Custody() *cobra.Command {
	custodyCommand := &cobra.Command{
		Use:   "custody",
		Short: "Record, export and verify the chain of custody",
	}
	custodyCommand.AddCommand(custodyAddCommand(), custodyHistoryCommand(), custodyExportCommand(),
		custodyVerifyCommand(), custodyCheckCommand())
	return custodyCommand
}

func custodyAddCommand() *cobra.Command {
	var handler, notes string
	addCommand := &cobra.Command{
		Use:   "add <case-id> <ref-id> <action>",
		Short: "Append a custody entry for a registered record",
		Args:  cobra.ExactArgs(3), //nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				entry, err := store.Ledger(args[0]).AddEntry(cmd.Context(), args[1], args[2], handler, notes)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entry)
			})
		},
	}
	addCommand.Flags().StringVar(&handler, "handler", "", "person handling the item (required)")
	addCommand.Flags().StringVar(&notes, "notes", "", "notes")
	_ = addCommand.MarkFlagRequired("handler")
	return addCommand
}

func custodyHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <case-id> [ref-id]",
		Short: "Show the custody entries of a case or of a single record",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				ledger := store.Ledger(args[0])
				var entries []*casestore.CustodyEntry
				var err error
				if len(args) == 2 {
					entries, err = ledger.EvidenceHistory(cmd.Context(), args[1])
				} else {
					entries, err = ledger.ChainHistory(cmd.Context())
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entries)
			})
		},
	}
}

func custodyExportCommand() *cobra.Command {
	var format, save string
	exportCommand := &cobra.Command{
		Use:   "export <case-id>",
		Short: "Export the chain of custody as " + strings.Join(casestore.Formats, ", "),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				ledger := store.Ledger(args[0])
				b, err := ledger.Export(cmd.Context(), format)
				if err != nil {
					return err
				}
				if save == "" {
					_, err = cmd.OutOrStdout().Write(b)
					return err
				}
				rel, err := ledger.SaveExport(cmd.Context(), save, b)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), rel)
				return nil
			})
		},
	}
	exportCommand.Flags().StringVarP(&format, "format", "f", casestore.FormatJSON, "one of "+strings.Join(casestore.Formats, ", "))
	exportCommand.Flags().StringVar(&save, "save", "", "store the export in the exports folder of the case under this name")
	return exportCommand
}

func custodyVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <case-id>",
		Short: "Check sequence numbers and hashes of the stored chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				problems, err := store.Ledger(args[0]).VerifyChain(cmd.Context())
				if err != nil {
					return err
				}
				return reportProblems(cmd, problems)
			})
		},
	}
}

func custodyCheckCommand() *cobra.Command {
	var format string
	checkCommand := &cobra.Command{
		Use:   "check <export>",
		Short: "Check an exported chain of custody",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" {
				format = strings.TrimPrefix(filepath.Ext(args[0]), ".")
				if format == "yml" {
					format = casestore.FormatYAML
				}
			}
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			entries, err := casestore.ParseChain(format, b)
			if err != nil {
				return err
			}
			return reportProblems(cmd, casestore.ValidateChain(entries))
		},
	}
	checkCommand.Flags().StringVarP(&format, "format", "f", "", "format of the export (default from the file extension)")
	return checkCommand
}

func reportProblems(cmd *cobra.Command, problems []string) error {
	for _, problem := range problems {
		fmt.Fprintln(cmd.OutOrStdout(), problem)
	}
	if len(problems) > 0 {
		return errors.Errorf("chain of custody is broken: %d problems", len(problems))
	}
	fmt.Fprintln(cmd.OutOrStdout(), "chain of custody is intact")
	return nil
}
