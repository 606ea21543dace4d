// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"

	"github.com/AleutianAI/edithistory/cmd/edithistory/config"
	"github.com/AleutianAI/edithistory/pkg/logging"
)

const serviceName = "edithistory"

var (
	// cfg is loaded by rootCmd's PersistentPreRunE.
	cfg *config.Config

	configPath string
	serverURL  string
	logLevel   string

	// serve
	ephemeral bool
	quiet     bool

	// field selection shared by list/undo/redo/clear/add
	nodeID  string
	inputID string

	listLimit   int
	oldestFirst bool

	// undo/redo
	steps   int
	current string
	reset   bool
	record  bool

	clearAll  bool
	exportOut string

	addOp      string
	addResync  bool
	addRequest string

	rootCmd = &cobra.Command{
		Use:           "edithistory",
		Short:         "Undo/redo history for node-graph text fields",
		Long:          "edithistory records text edits per node input and lets you step back and forward through them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				if _, err := logging.ParseLevel(logLevel); err != nil {
					return err
				}
				loaded.Logging.Level = logLevel
			}
			cfg = loaded
			return nil
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the history server",
		Args:  cobra.NoArgs,
		RunE:  runServe, // cmd_serve.go
	}

	listCmd = &cobra.Command{
		Use:     "list",
		Short:   "List history entries, or one field's entries with --node and --input",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE:    runList, // cmd_history.go
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts per field and operation",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
	addCmd = &cobra.Command{
		Use:   "add [content]",
		Short: "Record an edit for a field",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdd,
	}
	undoCmd = &cobra.Command{
		Use:   "undo",
		Short: "Step a field back to older content",
		Args:  cobra.NoArgs,
		RunE:  runUndo,
	}
	redoCmd = &cobra.Command{
		Use:   "redo",
		Short: "Step a field forward to newer content",
		Args:  cobra.NoArgs,
		RunE:  runRedo,
	}
	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete one field's history, or everything with --all",
		Args:  cobra.NoArgs,
		RunE:  runClear,
	}
	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Write the whole log as JSON",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default ~/.edithistory/edithistory.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"Server URL for client commands (default http://<server.addr>)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "Keep history in memory only")
	serveCmd.Flags().BoolVar(&quiet, "quiet", false, "Log to the log file only")

	for _, c := range []*cobra.Command{listCmd, addCmd, undoCmd, redoCmd, clearCmd} {
		c.Flags().StringVar(&nodeID, "node", "", "Node identifier")
		c.Flags().StringVar(&inputID, "input", "", "Input identifier")
	}

	rootCmd.AddCommand(listCmd)
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "Maximum entries to show (0 for all)")
	listCmd.Flags().BoolVar(&oldestFirst, "oldest-first", false, "Order a single field oldest first")

	rootCmd.AddCommand(statsCmd)

	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringVar(&addOp, "op", "input", "Operation type (input, translate, expand, undo, redo)")
	addCmd.Flags().StringVar(&addRequest, "request-id", "", "Request identifier to attach")
	addCmd.Flags().BoolVar(&addResync, "resync", false, "Keep an existing cursor pointed at the new entry")

	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(redoCmd)
	for _, c := range []*cobra.Command{undoCmd, redoCmd} {
		c.Flags().IntVar(&steps, "steps", 1, "How many entries to move")
		c.Flags().StringVar(&current, "current", "", "Current field content, used when the cursor is (re)built")
		c.Flags().BoolVar(&reset, "reset", false, "Rebuild the cursor before moving")
		c.Flags().BoolVar(&record, "record", false, "Record the restored content as an undo/redo entry")
	}

	rootCmd.AddCommand(clearCmd)
	clearCmd.Flags().BoolVar(&clearAll, "all", false, "Delete every field's history")

	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default stdout)")
}
