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
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/forensicanalysis/casestore/archive"
)

// Archive is the casestore archive commandline subcommand
func Archive() *cobra.Command {
	archiveCommand := &cobra.Command{
		Use:   "archive",
		Short: "Inspect and extract case archives",
	}
	archiveCommand.AddCommand(Ls(), Unpack())
	return archiveCommand
}

// openArchive opens a plain archive or decrypts an age encrypted one into
// a temporary file first.
func openArchive(cmd *cobra.Command, name, identityFile string) (*archive.FS, func(), error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	encrypted, r, err := archive.IsEncrypted(f)
	if err != nil {
		return nil, nil, err
	}
	if !encrypted {
		fs, err := archive.Open(name)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() { fs.Close() }, nil
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	identities, err := loadIdentities(identityFile, cfg)
	if err != nil {
		return nil, nil, err
	}
	tmp, err := os.CreateTemp("", "casestore-archive-")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { os.Remove(tmp.Name()) }
	if err := archive.Decrypt(tmp, r, identities...); err != nil {
		tmp.Close()
		cleanup()
		return nil, nil, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return nil, nil, err
	}
	fs, err := archive.Open(tmp.Name())
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return fs, func() { fs.Close(); cleanup() }, nil
}

func Ls() *cobra.Command {
	var identityFile string
	lsCommand := &cobra.Command{
		Use:   "ls <archive>",
		Short: "List files in a case archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, closer, err := openArchive(cmd, args[0], identityFile)
			if err != nil {
				return err
			}
			defer closer()

			return afero.Walk(fs, "/", func(name string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if info.IsDir() {
					fmt.Fprintln(cmd.OutOrStdout(), filepath.ToSlash(name))
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", filepath.ToSlash(name), info.Size())
				}
				return nil
			})
		},
	}
	lsCommand.Flags().StringVarP(&identityFile, "identity", "i", "", "age identity file")
	return lsCommand
}

func Unpack() *cobra.Command {
	var mode, identityFile string
	unpackCmd := &cobra.Command{
		Use:   "unpack <archive> <folder>",
		Short: "Extract files from a case archive without restoring the case",
		Args:  cobra.ExactArgs(2), //nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, closer, err := openArchive(cmd, args[0], identityFile)
			if err != nil {
				return err
			}
			defer closer()

			if err := os.MkdirAll(args[1], 0750); err != nil {
				return err
			}
			destFS := afero.NewBasePathFs(afero.NewOsFs(), args[1])
			if mode == "folder" {
				return archive.Unpack(destFS, "/", fs, "/", nil)
			}

			return afero.Walk(fs, "/", func(srcPath string, info os.FileInfo, err error) error {
				if err != nil || info.IsDir() {
					return err
				}
				dest := destinationPath(srcPath, mode)
				fmt.Fprintf(cmd.OutOrStdout(), "unpack '%s' to '%s'\n", srcPath, dest)
				return copyItem(fs, destFS, srcPath, dest)
			})
		},
	}

	usage := `define the export filename and folder structure. can be one of:
folder (e.g. 'CASO-001/evidence/C/Users/user/NTUSER.DAT')
compact (e.g. 'CASO-001_evid_C_Users_user_NTUSER.DAT')
basename (e.g. 'NTUSER.DAT')
`
	unpackCmd.Flags().StringVar(&mode, "mode", "folder", usage)
	unpackCmd.Flags().StringVarP(&identityFile, "identity", "i", "", "age identity file")
	return unpackCmd
}

func destinationPath(fullPath string, mode string) string {
	switch mode {
	case "basename":
		return path.Base(fullPath)
	case "folder":
		return strings.TrimLeft(fullPath, "/")
	case "compact":
		fallthrough
	default:
		return normalizeFilePath(fullPath)
	}
}

func copyItem(src, dst afero.Fs, srcPath, dstPath string) error {
	in, err := src.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := dst.MkdirAll(path.Dir(dstPath), 0750); err != nil {
		return err
	}
	out, err := dst.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func first(s string, n int) string {
	if len(s) < n {
		n = len(s)
	}
	return s[:n]
}

func last(s string, n int) string {
	if len(s) < n {
		n = len(s)
	}
	return s[len(s)-n:]
}

func splitExt(filePath string) (nameOnly, ext string) {
	ext = path.Ext(filePath)
	nameOnly = filePath[:len(filePath)-len(ext)]
	return nameOnly, ext
}

// normalizeFilePath flattens a path into a single file name of at most 64
// characters.
func normalizeFilePath(filePath string) string {
	maxLength := 64
	maxSegmentLength := 4
	filePath = strings.TrimLeft(filepath.ToSlash(filePath), "/")
	pathSegments := strings.Split(filePath, "/")
	normalizedFilePath := strings.Join(pathSegments, "_")

	// get first 4 letters of every directory, while longer than maxLength
	for i := 0; i < len(pathSegments)-1 && len(normalizedFilePath) > maxLength; i++ {
		pathSegments[i] = first(pathSegments[i], maxSegmentLength)
		normalizedFilePath = strings.Join(pathSegments, "_")
	}

	if len(normalizedFilePath) > maxLength {
		// if still to long get first maxSegmentLength letters of filename + extension
		nameOnly, ext := splitExt(pathSegments[len(pathSegments)-1])
		pathSegments[len(pathSegments)-1] = first(nameOnly, maxSegmentLength) + ext
		normalizedFilePath = strings.Join(pathSegments, "_")
	}

	return last(normalizedFilePath, maxLength)
}
