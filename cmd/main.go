// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// deadstop is a demo and diagnostic driver for the crash reporter: it
// initializes the library, triggers a chosen class of fault and leaves
// the dump file behind for inspection.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xyproto/env/v2"

	deadstop "github.com/saferwall/deadstop"
)

const versionString = "deadstop 1.0.0"

var (
	dumpPath   string
	asmRadius  int
	stackDepth int
	strDump    int
)

func main() {

	rootCmd := &cobra.Command{
		Use:   "deadstop",
		Short: "Post-mortem crash reporter demo driver",
		Long: `deadstop initializes the in-process crash reporter, deliberately
triggers a fault of the chosen kind and lets the reporter write its
forensic dump before the process dies.`,
	}

	crashCmd := &cobra.Command{
		Use:       "crash [mode]",
		Short:     "Trigger a fault (null, wild, oob, fpe, abort, exec)",
		Args:      cobra.ExactValidArgs(1),
		ValidArgs: []string{"null", "wild", "oob", "fpe", "abort", "exec"},
		RunE:      runCrash,
	}
	crashCmd.Flags().StringVar(&dumpPath, "dump",
		env.Str("DEADSTOP_DUMP", "testdump.txt"), "dump file path")
	crashCmd.Flags().IntVar(&asmRadius, "radius",
		env.Int("DEADSTOP_RADIUS", deadstop.DefaultAsmDumpRadius),
		"disassembly window radius in bytes")
	crashCmd.Flags().IntVar(&stackDepth, "depth",
		env.Int("DEADSTOP_DEPTH", deadstop.DefaultCallStackDepth),
		"call stack depth")
	crashCmd.Flags().IntVar(&strDump, "strdump",
		env.Int("DEADSTOP_STRDUMP", deadstop.DefaultStringDumpSize),
		"string dump size in bytes")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(versionString)
		},
	}

	rootCmd.AddCommand(crashCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCrash(cmd *cobra.Command, args []string) error {
	code := deadstop.Initialize(dumpPath, &deadstop.Options{
		AsmDumpRadius:  asmRadius,
		StringDumpSize: strDump,
		CallStackDepth: stackDepth,
	})
	if code != deadstop.ErrCodeSuccess {
		return fmt.Errorf("initialize: %s", deadstop.GetErrorMessage(code))
	}
	fmt.Printf("deadstop initialized, dump goes to %s\n", dumpPath)

	trigger(args[0])

	// Only the abort mode, before its signal is delivered, and the exec
	// mode, when its page cannot be mapped, reach this point.
	deadstop.Uninitialize()
	fmt.Println("deadstop uninitialized")
	return nil
}
