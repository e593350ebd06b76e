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
	"path"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/forensicanalysis/casestore"
	"github.com/forensicanalysis/casestore/config"
)

type registerFlags struct {
	id       string
	handler  string
	notes    string
	metadata map[string]string
}

func (f *registerFlags) add(command *cobra.Command) {
	command.Flags().StringVar(&f.id, "id", "", "record id (default next free id)")
	command.Flags().StringVar(&f.handler, "handler", "", "handler of the custody entry (default the examiner of the case)")
	command.Flags().StringVar(&f.notes, "notes", "", "notes of the custody entry")
	command.Flags().StringToStringVarP(&f.metadata, "metadata", "m", nil, "metadata as key=value")
}

func (f *registerFlags) options() []casestore.RegisterOption {
	return []casestore.RegisterOption{
		casestore.WithHandler(f.handler),
		casestore.WithNotes(f.notes),
		casestore.WithMetadata(metadata(f.metadata)),
	}
}

func listCommand(use, short string, kind casestore.Kind, list func(cmd *cobra.Command, ledger *casestore.Ledger) (interface{}, error)) *cobra.Command {
	var csv bool
	command := &cobra.Command{
		Use:   use + " <case-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				ledger := store.Ledger(args[0])
				if csv {
					return ledger.ExportManifestCSV(cmd.Context(), kind, cmd.OutOrStdout())
				}
				records, err := list(cmd, ledger)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), records)
			})
		},
	}
	command.Flags().BoolVar(&csv, "csv", false, "print as csv with flattened metadata")
	return command
}

// Evidence is the casestore evidence commandline subcommand
func Evidence() *cobra.Command {
	evidenceCommand := &cobra.Command{
		Use:   "evidence",
		Short: "Register and list evidence",
	}
	evidenceCommand.AddCommand(evidenceAddCommand(), listCommand("list", "List the evidence of a case", casestore.KindEvidence,
		func(cmd *cobra.Command, ledger *casestore.Ledger) (interface{}, error) {
			return ledger.Evidences(cmd.Context())
		}))
	return evidenceCommand
}

func evidenceAddCommand() *cobra.Command {
	var flags registerFlags
	var evidenceType, description string
	var copyFile bool
	addCommand := &cobra.Command{
		Use:   "add <case-id> [source]",
		Short: "Register evidence, the source is hashed if it is readable",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				var source string
				if len(args) == 2 {
					source = args[1]
				}
				if copyFile && source != "" {
					var err error
					source, err = copyEvidence(afero.NewOsFs(), store.CaseDir(args[0]), source)
					if err != nil {
						return err
					}
				} else if source != "" && !filepath.IsAbs(source) {
					// relative sources are given from the working directory
					if abs, err := filepath.Abs(source); err == nil {
						source = abs
					}
				}

				record, err := store.Ledger(args[0]).RegisterEvidence(cmd.Context(), flags.id, evidenceType, source,
					description, flags.options()...)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), record)
			})
		},
	}
	flags.add(addCommand)
	addCommand.Flags().StringVarP(&evidenceType, "type", "t", "", "evidence type (required)")
	addCommand.Flags().StringVarP(&description, "description", "d", "", "description")
	addCommand.Flags().BoolVar(&copyFile, "copy", false, "copy the source into the evidence folder of the case")
	_ = addCommand.MarkFlagRequired("type")
	return addCommand
}

// copyEvidence copies src into the evidence partition and returns the
// reference relative to the case folder.
func copyEvidence(fs afero.Fs, caseDir, src string) (string, error) {
	abs, err := filepath.Abs(src)
	if err != nil {
		return "", err
	}
	name := normalizeFilePath(abs)
	if err := fs.MkdirAll(filepath.Join(caseDir, "evidence"), 0750); err != nil {
		return "", err
	}
	if _, err := fs.Stat(filepath.Join(caseDir, "evidence", name)); err == nil {
		return "", errors.Errorf("%s already exists in the evidence folder", name)
	}
	if err := copyItem(fs, afero.NewBasePathFs(fs, filepath.Join(caseDir, "evidence")), abs, name); err != nil {
		return "", err
	}
	return path.Join("evidence", name), nil
}

// Analysis is the casestore analysis commandline subcommand
func Analysis() *cobra.Command {
	analysisCommand := &cobra.Command{
		Use:   "analysis",
		Short: "Register and list analyses",
	}
	analysisCommand.AddCommand(analysisAddCommand(), listCommand("list", "List the analyses of a case", casestore.KindAnalysis,
		func(cmd *cobra.Command, ledger *casestore.Ledger) (interface{}, error) {
			return ledger.Analyses(cmd.Context())
		}))
	return analysisCommand
}

func analysisAddCommand() *cobra.Command {
	var flags registerFlags
	var analysisType, toolName, toolVersion, outputRef, description string
	var evidenceIDs []string
	addCommand := &cobra.Command{
		Use:   "add <case-id>",
		Short: "Register an analysis over existing evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				record, err := store.Ledger(args[0]).RegisterAnalysis(cmd.Context(), flags.id, analysisType, evidenceIDs,
					toolName, toolVersion, outputRef, description, flags.options()...)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), record)
			})
		},
	}
	flags.add(addCommand)
	addCommand.Flags().StringVarP(&analysisType, "type", "t", "", "analysis type (required)")
	addCommand.Flags().StringSliceVarP(&evidenceIDs, "evidence", "e", nil, "analysed evidence ids (required)")
	addCommand.Flags().StringVar(&toolName, "tool", "", "tool name (required)")
	addCommand.Flags().StringVar(&toolVersion, "tool-version", "", "tool version")
	addCommand.Flags().StringVarP(&outputRef, "output", "o", "", "output reference")
	addCommand.Flags().StringVarP(&description, "description", "d", "", "description")
	_ = addCommand.MarkFlagRequired("type")
	_ = addCommand.MarkFlagRequired("evidence")
	_ = addCommand.MarkFlagRequired("tool")
	return addCommand
}

// Report is the casestore report commandline subcommand
func Report() *cobra.Command {
	reportCommand := &cobra.Command{
		Use:   "report",
		Short: "Register and list reports",
	}
	reportCommand.AddCommand(reportAddCommand(), listCommand("list", "List the reports of a case", casestore.KindReport,
		func(cmd *cobra.Command, ledger *casestore.Ledger) (interface{}, error) {
			return ledger.Reports(cmd.Context())
		}))
	return reportCommand
}

func reportAddCommand() *cobra.Command {
	var flags registerFlags
	var reportType, format, outputRef, examiner, description string
	addCommand := &cobra.Command{
		Use:   "add <case-id>",
		Short: "Register a generated report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				if examiner == "" {
					c, err := store.GetCase(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					examiner = c.Examiner
				}
				record, err := store.Ledger(args[0]).RegisterReport(cmd.Context(), flags.id, reportType, format,
					outputRef, examiner, description, flags.options()...)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), record)
			})
		},
	}
	flags.add(addCommand)
	addCommand.Flags().StringVarP(&reportType, "type", "t", "", "report type (required)")
	addCommand.Flags().StringVarP(&format, "format", "f", "", "report format, e.g. pdf (required)")
	addCommand.Flags().StringVarP(&outputRef, "output", "o", "", "report file, relative to the case folder")
	addCommand.Flags().StringVar(&examiner, "examiner", "", "examiner (default the examiner of the case)")
	addCommand.Flags().StringVarP(&description, "description", "d", "", "description")
	_ = addCommand.MarkFlagRequired("type")
	_ = addCommand.MarkFlagRequired("format")
	return addCommand
}

// Summary is the casestore summary commandline subcommand
func Summary() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <case-id>",
		Short: "Count the records of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				summary, err := store.Ledger(args[0]).Summary(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
}

// Verify is the casestore verify commandline subcommand
func Verify() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <case-id>",
		Short: "Recompute the checksums of all evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				report, err := store.VerifyCase(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if !report.OK() {
					return errors.Errorf("verification failed: %d mismatched, %d missing",
						report.Count(casestore.VerifyMismatch), report.Count(casestore.VerifyMissing))
				}
				return nil
			})
		},
	}
}

// STIX is the casestore stix commandline subcommand
func STIX() *cobra.Command {
	var save string
	stixCommand := &cobra.Command{
		Use:   "stix <case-id>",
		Short: "Export the evidence as STIX 2.1 bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				ledger := store.Ledger(args[0])
				b, err := ledger.ExportSTIX(cmd.Context())
				if err != nil {
					return err
				}
				if save == "" {
					_, err = cmd.OutOrStdout().Write(append(b, '\n'))
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
	stixCommand.Flags().StringVar(&save, "save", "", "store the bundle in the exports folder of the case under this name")
	return stixCommand
}
