// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/edithistory/services/history"
)

func TestNewPrinter_BufferIsPlain(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, NewPrinter(&buf).Styled())
}

func TestPlainPrinter_Messages(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	p.Title("ignored")
	p.Success("done")
	p.Warning("careful")
	p.Error("broken")
	p.Content("Field", "a cat")

	assert.Equal(t, "OK: done\nWARN: careful\nERROR: broken\na cat\n", buf.String())
}

func TestPlainPrinter_Entries(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	p.Entries([]history.Entry{
		{NodeKey: "3", InputKey: "text", Content: "line one\nline two", OperationType: history.OpExpand, Timestamp: 1700000000000, RequestID: "r1"},
		{NodeKey: "4", InputKey: "prompt", Content: "plain", OperationType: history.OpInput, Timestamp: 1699999999999},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"1700000000000\t3:text\texpand\tr1\tline one line two",
		"1699999999999\t4:prompt\tinput\t\tplain",
	}, lines)

	buf.Reset()
	p.Entries(nil)
	assert.Empty(t, buf.String())
}

func TestPlainPrinter_Stats(t *testing.T) {
	var buf bytes.Buffer
	NewPlainPrinter(&buf).Stats(history.Stats{
		Total:        3,
		PerField:     map[string]int{"b:text": 1, "a:text": 2},
		PerOperation: map[string]int{"input": 3},
	})

	assert.Equal(t, "total\t3\nfield\ta:text\t2\nfield\tb:text\t1\noperation\tinput\t3\n", buf.String())
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine(" a\n b\tc ", 0))
	assert.Equal(t, "abc…", oneLine("abcdefgh", 4))
	assert.Equal(t, "abcd", oneLine("abcd", 4))
}

func TestStyledPrinter_Renders(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{w: &buf, styled: true}

	p.Entries([]history.Entry{{NodeKey: "1", InputKey: "t", Content: "hello", OperationType: history.OpInput, Timestamp: 1}})
	p.Stats(history.Stats{Total: 1, PerField: map[string]int{"1:t": 1}, PerOperation: map[string]int{"input": 1}})
	p.Content("1:t", "hello")

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "by field")
	assert.Contains(t, out, "1:t")
}
