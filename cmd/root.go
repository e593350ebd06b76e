// Copyright (c) 2019 Siemens AG
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

// Package cmd provides the subcommands of the casestore command line tool.
// Every command is a thin adapter over the casestore package.
package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forensicanalysis/casestore"
	"github.com/forensicanalysis/casestore/config"
)

// Root returns the casestore command with all subcommands.
func Root() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "casestore",
		Short:         "Manage forensic cases, their evidence and chain of custody",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", config.DefaultPath(), "configuration file")
	rootCmd.PersistentFlags().String("cases-dir", "", "folder containing the cases (overrides the configuration)")

	rootCmd.AddCommand(InitConfig(), Case(), Evidence(), Analysis(), Report(), Custody(),
		Summary(), Verify(), STIX(), Archive())
	return rootCmd
}

// InitConfig is the casestore init-config commandline subcommand
func InitConfig() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cmd.Flag("config").Value.String()
			cfg := config.Default()
			if dir := cmd.Flag("cases-dir").Value.String(); dir != "" {
				cfg.CasesDir = dir
			}
			if err := config.Init(path, cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flag("config").Value.String())
	if err != nil {
		return nil, err
	}
	if dir := cmd.Flag("cases-dir").Value.String(); dir != "" {
		cfg.CasesDir = dir
	}
	return cfg, nil
}

// withStore opens the configured casestore for the duration of fn.
func withStore(cmd *cobra.Command, fn func(store *casestore.Store, cfg *config.Config) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := casestore.NewLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	store, err := casestore.Open(cfg.CasesDir,
		casestore.WithLogger(logger),
		casestore.WithLockTimeout(cfg.LockTimeout.Duration),
		casestore.WithWorkers(cfg.VerifyWorkers),
	)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store, cfg)
}

func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// confirm asks on the terminal. Without a terminal nothing is confirmed.
func confirm(cmd *cobra.Command, question string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, errors.New("not a terminal, use --yes to confirm")
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N] ", question)
	answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

// metadata converts key=value flags into record metadata.
func metadata(values map[string]string) map[string]interface{} {
	if len(values) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(values))
	for k, v := range values {
		m[k] = v
	}
	return m
}
