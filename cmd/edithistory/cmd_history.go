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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/edithistory/pkg/ux"
	"github.com/AleutianAI/edithistory/services/api"
	"github.com/AleutianAI/edithistory/services/history"
)

const clientTimeout = 10 * time.Second

// historyClient is the part of api.Client the client commands use.
type historyClient interface {
	List(ctx context.Context, key *history.FieldKey, limit int) ([]history.Entry, error)
	ListForField(ctx context.Context, key history.FieldKey, oldestFirst bool) ([]history.Entry, error)
	Add(ctx context.Context, entry history.Entry, resync bool) (history.Entry, error)
	Stats(ctx context.Context) (history.Stats, error)
	Export(ctx context.Context) ([]history.Entry, error)
	ClearField(ctx context.Context, key history.FieldKey) (int, error)
	ClearAll(ctx context.Context) error
	InitCursor(ctx context.Context, key history.FieldKey, current string) (history.Cursor, error)
	Cursor(ctx context.Context, key history.FieldKey) (api.CursorState, error)
	Undo(ctx context.Context, key history.FieldKey) (string, bool, error)
	Redo(ctx context.Context, key history.FieldKey) (string, bool, error)
}

var errFieldPair = errors.New("--node and --input must be given together")

func newClient() historyClient {
	url := serverURL
	if url == "" {
		url = cfg.ServerURL()
	}
	return api.NewClient(url, nil)
}

// selectedField returns the --node/--input pair, ok=false when neither is set.
func selectedField() (history.FieldKey, bool, error) {
	key := history.FieldKey{NodeKey: nodeID, InputKey: inputID}
	switch {
	case nodeID == "" && inputID == "":
		return key, false, nil
	case !key.Valid():
		return key, false, errFieldPair
	}
	return key, true, nil
}

func requireField() (history.FieldKey, error) {
	key, ok, err := selectedField()
	if err != nil {
		return key, err
	}
	if !ok {
		return key, errFieldPair
	}
	return key, nil
}

func clientContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), clientTimeout)
}

func runList(cmd *cobra.Command, _ []string) error {
	key, ok, err := selectedField()
	if err != nil {
		return err
	}
	ctx, cancel := clientContext(cmd)
	defer cancel()

	var field *history.FieldKey
	if ok {
		field = &key
	}
	return listHistory(ctx, newClient(), ux.NewPrinter(cmd.OutOrStdout()), field, listLimit, oldestFirst)
}

func listHistory(ctx context.Context, c historyClient, p *ux.Printer, key *history.FieldKey, limit int, oldest bool) error {
	var (
		entries []history.Entry
		err     error
	)
	if key != nil && oldest {
		entries, err = c.ListForField(ctx, *key, true)
		if limit > 0 && len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}
	} else {
		entries, err = c.List(ctx, key, limit)
	}
	if err != nil {
		return err
	}
	if key != nil {
		p.Title(key.String())
	}
	p.Entries(entries)
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx, cancel := clientContext(cmd)
	defer cancel()
	return showStats(ctx, newClient(), ux.NewPrinter(cmd.OutOrStdout()))
}

func showStats(ctx context.Context, c historyClient, p *ux.Printer) error {
	stats, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	p.Stats(stats)
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	key, err := requireField()
	if err != nil {
		return err
	}
	ctx, cancel := clientContext(cmd)
	defer cancel()

	entry := history.Entry{
		NodeKey:       key.NodeKey,
		InputKey:      key.InputKey,
		Content:       args[0],
		OperationType: history.OperationType(addOp),
		RequestID:     addRequest,
	}
	return addEntry(ctx, newClient(), ux.NewPrinter(cmd.OutOrStdout()), entry, addResync)
}

func addEntry(ctx context.Context, c historyClient, p *ux.Printer, entry history.Entry, resync bool) error {
	stored, err := c.Add(ctx, entry, resync)
	switch {
	case errors.Is(err, history.ErrDuplicate):
		p.Warning("unchanged: content matches the newest entry")
		return nil
	case errors.Is(err, history.ErrRoundTrip):
		p.Warning("skipped: content is a translation round trip")
		return nil
	case err != nil:
		return err
	}
	p.Success(fmt.Sprintf("recorded %s at %d", stored.Field(), stored.Timestamp))
	return nil
}

type direction int

const (
	backward direction = iota
	forward
)

func (d direction) String() string {
	if d == backward {
		return "undo"
	}
	return "redo"
}

func runUndo(cmd *cobra.Command, _ []string) error { return runMove(cmd, backward) }
func runRedo(cmd *cobra.Command, _ []string) error { return runMove(cmd, forward) }

func runMove(cmd *cobra.Command, dir direction) error {
	key, err := requireField()
	if err != nil {
		return err
	}
	ctx, cancel := clientContext(cmd)
	defer cancel()

	opts := moveOptions{Steps: steps, Current: current, Reset: reset, Record: record}
	return move(ctx, newClient(), ux.NewPrinter(cmd.OutOrStdout()), key, dir, opts)
}

type moveOptions struct {
	Steps   int
	Current string
	Reset   bool
	Record  bool
}

// move steps the server-side cursor of key up to opts.Steps times. The cursor
// is rebuilt when missing, when asked to, or when the server reports it
// stale.
func move(ctx context.Context, c historyClient, p *ux.Printer, key history.FieldKey, dir direction, opts moveOptions) error {
	if opts.Steps < 1 {
		opts.Steps = 1
	}

	state, err := c.Cursor(ctx, key)
	if err != nil {
		return err
	}
	if opts.Reset || state.Cursor == nil || state.Stale {
		if _, err := c.InitCursor(ctx, key, opts.Current); err != nil {
			return err
		}
	}

	step := c.Undo
	if dir == forward {
		step = c.Redo
	}
	var (
		content string
		moved   int
	)
	for moved < opts.Steps {
		next, ok, err := step(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		content = next
		moved++
	}

	if moved == 0 {
		p.Warning(fmt.Sprintf("nothing to %s for %s", dir, key))
		return nil
	}
	if opts.Record {
		op := history.OpUndo
		if dir == forward {
			op = history.OpRedo
		}
		entry := history.Entry{NodeKey: key.NodeKey, InputKey: key.InputKey, Content: content, OperationType: op}
		if _, err := c.Add(ctx, entry, true); err != nil && !errors.Is(err, history.ErrDuplicate) {
			return err
		}
	}
	p.Content(fmt.Sprintf("%s %d", dir, moved), content)
	return nil
}

func runClear(cmd *cobra.Command, _ []string) error {
	ctx, cancel := clientContext(cmd)
	defer cancel()
	p := ux.NewPrinter(cmd.OutOrStdout())

	if clearAll {
		if nodeID != "" || inputID != "" {
			return errors.New("--all cannot be combined with --node/--input")
		}
		return clearHistory(ctx, newClient(), p, nil)
	}
	key, err := requireField()
	if err != nil {
		return err
	}
	return clearHistory(ctx, newClient(), p, &key)
}

func clearHistory(ctx context.Context, c historyClient, p *ux.Printer, key *history.FieldKey) error {
	if key == nil {
		if err := c.ClearAll(ctx); err != nil {
			return err
		}
		p.Success("cleared all history")
		return nil
	}
	removed, err := c.ClearField(ctx, *key)
	if err != nil {
		return err
	}
	p.Success(fmt.Sprintf("removed %d entries for %s", removed, key))
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx, cancel := clientContext(cmd)
	defer cancel()

	var w io.Writer = cmd.OutOrStdout()
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportOut, err)
		}
		defer f.Close()
		w = f
	}
	return exportHistory(ctx, newClient(), w)
}

func exportHistory(ctx context.Context, c historyClient, w io.Writer) error {
	entries, err := c.Export(ctx)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
