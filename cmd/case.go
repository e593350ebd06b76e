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

	"filippo.io/age"
	"github.com/spf13/cobra"

	"github.com/forensicanalysis/casestore"
	"github.com/forensicanalysis/casestore/archive"
	"github.com/forensicanalysis/casestore/config"
)

// Case is the casestore case commandline subcommand
func Case() *cobra.Command {
	caseCommand := &cobra.Command{
		Use:   "case",
		Short: "Create, inspect, archive and delete cases",
	}
	caseCommand.AddCommand(caseCreateCommand(), caseGetCommand(), caseListCommand(), caseUpdateCommand(),
		caseDeleteCommand(), caseSetupCommand(), caseArchiveCommand(), caseRestoreCommand(),
		caseExportCommand(), caseImportCommand())
	return caseCommand
}

func caseCreateCommand() *cobra.Command {
	var examiner, organization, description, timezone string
	createCommand := &cobra.Command{
		Use:   "create [case-id]",
		Short: "Create a case, the id defaults to the next CASO-NNN",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				var id string
				if len(args) == 1 {
					id = args[0]
				} else {
					var err error
					if id, err = store.NextCaseID(cmd.Context()); err != nil {
						return err
					}
				}
				c, err := store.CreateCase(cmd.Context(), id, examiner, organization, description, timezone)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), c)
			})
		},
	}
	createCommand.Flags().StringVar(&examiner, "examiner", "", "responsible examiner (required)")
	createCommand.Flags().StringVar(&organization, "organization", "", "organization")
	createCommand.Flags().StringVar(&description, "description", "", "description")
	createCommand.Flags().StringVar(&timezone, "timezone", "UTC", "IANA timezone of the case")
	_ = createCommand.MarkFlagRequired("examiner")
	return createCommand
}

func caseGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <case-id>",
		Short: "Show a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				c, err := store.GetCase(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), c)
			})
		},
	}
}

func caseListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all cases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				cases, err := store.ListCases(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cases)
			})
		},
	}
}

func caseUpdateCommand() *cobra.Command {
	var update casestore.CaseUpdate
	var status string
	updateCommand := &cobra.Command{
		Use:   "update <case-id>",
		Short: "Change fields of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			update.Status = casestore.Status(status)
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				c, err := store.UpdateCase(cmd.Context(), args[0], update)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), c)
			})
		},
	}
	updateCommand.Flags().StringVar(&update.Examiner, "examiner", "", "responsible examiner")
	updateCommand.Flags().StringVar(&update.Organization, "organization", "", "organization")
	updateCommand.Flags().StringVar(&update.Description, "description", "", "description")
	updateCommand.Flags().StringVar(&update.Timezone, "timezone", "", "IANA timezone")
	updateCommand.Flags().StringVar(&status, "status", "", "active, closed or archived")
	return updateCommand
}

func caseDeleteCommand() *cobra.Command {
	var yes bool
	deleteCommand := &cobra.Command{
		Use:   "delete <case-id>",
		Short: "Delete a case with all records and files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			confirmed := yes
			if !confirmed {
				var err error
				confirmed, err = confirm(cmd, fmt.Sprintf("Delete case %s and all its files?", args[0]))
				if err != nil {
					return err
				}
			}
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				deleted, err := store.DeleteCase(cmd.Context(), args[0], confirmed)
				if err != nil {
					return err
				}
				if !deleted {
					fmt.Fprintln(cmd.ErrOrStderr(), "nothing deleted")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
	deleteCommand.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return deleteCommand
}

func caseSetupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "setup <case-id>",
		Short: "Create missing partitions of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				if err := store.SetupCaseStructure(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), store.CaseDir(args[0]))
				return nil
			})
		},
	}
}

func caseArchiveCommand() *cobra.Command {
	var recipients []string
	archiveCommand := &cobra.Command{
		Use:   "archive <case-id> <archive>",
		Short: "Pack a case into a single sqlite archive and mark it archived",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *casestore.Store, cfg *config.Config) error {
				if len(recipients) == 0 {
					recipients = cfg.Archive.Recipients
				}
				parsed, err := archive.ParseRecipients(recipients)
				if err != nil {
					return err
				}
				c, err := store.ArchiveCase(cmd.Context(), args[0], args[1], parsed...)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), c)
			})
		},
	}
	archiveCommand.Flags().StringArrayVarP(&recipients, "recipient", "r", nil,
		"age public key to encrypt for (defaults to the configured recipients)")
	return archiveCommand
}

func caseRestoreCommand() *cobra.Command {
	var identityFile string
	restoreCommand := &cobra.Command{
		Use:   "restore <archive>",
		Short: "Restore an archived case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *casestore.Store, cfg *config.Config) error {
				identities, err := loadIdentities(identityFile, cfg)
				if err != nil {
					return err
				}
				c, err := store.RestoreCase(cmd.Context(), args[0], identities...)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), c)
			})
		},
	}
	restoreCommand.Flags().StringVarP(&identityFile, "identity", "i", "",
		"age identity file (defaults to the configured identity file)")
	return restoreCommand
}

func loadIdentities(identityFile string, cfg *config.Config) ([]age.Identity, error) {
	if identityFile == "" {
		identityFile = cfg.Archive.IdentityFile
	}
	if identityFile == "" {
		return nil, nil
	}
	f, err := os.Open(identityFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return archive.ReadIdentities(f)
}

func caseExportCommand() *cobra.Command {
	var output string
	exportCommand := &cobra.Command{
		Use:   "export <case-id>",
		Short: "Write a case with all records as json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				if output == "" || output == "-" {
					return store.ExportCase(cmd.Context(), args[0], cmd.OutOrStdout())
				}
				f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
				if err != nil {
					return err
				}
				if err := store.ExportCase(cmd.Context(), args[0], f); err != nil {
					f.Close()
					os.Remove(output)
					return err
				}
				return f.Close()
			})
		},
	}
	exportCommand.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return exportCommand
}

func caseImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <bundle.json>",
		Short: "Create a case from an exported bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return withStore(cmd, func(store *casestore.Store, _ *config.Config) error {
				c, err := store.ImportCase(cmd.Context(), f)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), c)
			})
		},
	}
}
