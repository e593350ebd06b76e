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

// Package casestore implements the casestore command line tool with
// various subcommands that can be used to manage forensic cases.
//
//	init-config  Write a default configuration
//	case         Create, update, archive, restore and delete cases
//	evidence     Register and list evidence
//	analysis     Register and list analyses
//	report       Register and list reports
//	custody      Record, export and verify the chain of custody
//	verify       Recompute evidence checksums
//	stix         Export evidence as STIX 2.1
//	archive      Inspect and extract case archives
//
// # Usage
//
// Create a case and register evidence
//
//	casestore case create --examiner "A. Perez" CASO-001
//	casestore evidence add --type system_info --copy CASO-001 systeminfo.txt
//
// Record a transfer and export the chain
//
//	casestore custody add --handler "B. Ruiz" CASO-001 EVD-000001 transferred
//	casestore custody export --format csv CASO-001 > custody.csv
//
// Archive the case for long term storage
//
//	casestore case archive -r age1... CASO-001 CASO-001.sqlar
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/forensicanalysis/casestore/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cmd.Root().ExecuteContext(ctx); err != nil {
		fmt.Println("Error:", err)
		stop()
		os.Exit(1)
	}
}
