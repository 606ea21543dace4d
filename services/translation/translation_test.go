// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package translation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/edithistory/services/history"
)

// =============================================================================
// PairCache
// =============================================================================

func TestPairCache_RecordAndLookup(t *testing.T) {
	cache := NewPairCache(history.NewMemoryStore(), 0)
	ctx := context.Background()

	require.NoError(t, cache.Record(ctx, " a cat ", "un chat", "French"))

	pair, ok, err := cache.LookupPair(ctx, "a cat")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, history.Pair{Role: history.RoleSource, Counterpart: "un chat"}, pair)

	pair, ok, err = cache.LookupPair(ctx, "un chat\n")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, history.Pair{Role: history.RoleTranslation, Counterpart: "a cat"}, pair)

	_, ok, err = cache.LookupPair(ctx, "a dog")
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err := cache.TranslationOf(ctx, "a cat", "French")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "un chat", got)

	_, ok, err = cache.TranslationOf(ctx, "a cat", "German")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPairCache_RejectsEmpty(t *testing.T) {
	cache := NewPairCache(history.NewMemoryStore(), 0)
	assert.ErrorIs(t, cache.Record(context.Background(), " ", "x", ""), ErrEmptyText)
	assert.ErrorIs(t, cache.Record(context.Background(), "x", "", ""), ErrEmptyText)
}

func TestPairCache_SizeCap(t *testing.T) {
	cache := NewPairCache(history.NewMemoryStore(), 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, cache.Record(ctx, fmt.Sprintf("src-%d", i), fmt.Sprintf("dst-%d", i), ""))
	}

	n, err := cache.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, ok, err := cache.LookupPair(ctx, "src-1")
	require.NoError(t, err)
	assert.False(t, ok, "oldest pairs are dropped")

	_, ok, err = cache.LookupPair(ctx, "dst-4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPairCache_ReRecordReplaces(t *testing.T) {
	cache := NewPairCache(history.NewMemoryStore(), 2)
	ctx := context.Background()

	require.NoError(t, cache.Record(ctx, "a", "first", ""))
	require.NoError(t, cache.Record(ctx, "b", "bee", ""))
	require.NoError(t, cache.Record(ctx, "a", "second", ""))
	require.NoError(t, cache.Record(ctx, "c", "sea", ""))

	got, ok, err := cache.TranslationOf(ctx, "a", "")
	require.NoError(t, err)
	require.True(t, ok, "re-recorded pair is newest and survives")
	assert.Equal(t, "second", got)

	_, ok, err = cache.LookupPair(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPairCache_ClearAndSharedStore(t *testing.T) {
	store := history.NewMemoryStore()
	cache := NewPairCache(store, 0, WithPairsKey("pairs"))
	ctx := context.Background()
	require.NoError(t, cache.Record(ctx, "a", "b", ""))

	other := NewPairCache(store, 0, WithPairsKey("pairs"))
	n, err := other.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, cache.Clear(ctx))
	n, err = other.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPairCache_FeedsRoundTripFilter(t *testing.T) {
	store := history.NewMemoryStore()
	cache := NewPairCache(store, 0)
	ctx := context.Background()
	require.NoError(t, cache.Record(ctx, "a red fox", "un renard roux", "French"))

	engine, err := history.NewEngine(store, cache, history.Config{})
	require.NoError(t, err)
	key := history.FieldKey{NodeKey: "4", InputKey: "text"}

	_, err = engine.Add(ctx, history.Entry{NodeKey: "4", InputKey: "text", Content: "a red fox"})
	require.NoError(t, err)
	_, err = engine.Add(ctx, history.Entry{NodeKey: "4", InputKey: "text", Content: "un renard roux", OperationType: history.OpTranslate})
	require.NoError(t, err)
	_, err = engine.Add(ctx, history.Entry{NodeKey: "4", InputKey: "text", Content: "a red fox", OperationType: history.OpTranslate})
	assert.ErrorIs(t, err, history.ErrRoundTrip)

	seq, err := engine.ListForField(ctx, key, true)
	require.NoError(t, err)
	assert.Len(t, seq, 2)
}

// =============================================================================
// Translator
// =============================================================================

type fakeChat struct {
	mu      sync.Mutex
	calls   atomic.Int32
	reply   func(req openai.ChatCompletionRequest) (string, error)
	block   chan struct{}
	lastReq openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	text, err := f.reply(req)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: text}}},
	}, nil
}

func staticReply(text string) func(openai.ChatCompletionRequest) (string, error) {
	return func(openai.ChatCompletionRequest) (string, error) { return text, nil }
}

func TestTranslator_TranslateRecordsPair(t *testing.T) {
	chat := &fakeChat{reply: staticReply(" un chat \n")}
	cache := NewPairCache(history.NewMemoryStore(), 0)
	tr, err := NewTranslator(chat, cache, Config{TargetLang: "French"}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	out, err := tr.Translate(ctx, "a cat", "")
	require.NoError(t, err)
	assert.Equal(t, Translation{Text: "un chat"}, out)
	assert.Equal(t, "gpt-4o-mini", chat.lastReq.Model)
	assert.Contains(t, chat.lastReq.Messages[0].Content, "French")
	assert.Equal(t, "a cat", chat.lastReq.Messages[1].Content)

	out, err = tr.Translate(ctx, "a cat", "French")
	require.NoError(t, err)
	assert.True(t, out.Cached)
	assert.Equal(t, "un chat", out.Text)

	out, err = tr.Translate(ctx, "un chat", "French")
	require.NoError(t, err)
	assert.True(t, out.Reverted)
	assert.Equal(t, "a cat", out.Text)

	assert.Equal(t, int32(1), chat.calls.Load())
}

func TestTranslator_Errors(t *testing.T) {
	_, err := NewTranslator(nil, nil, Config{}, nil)
	assert.Error(t, err)

	chat := &fakeChat{reply: func(openai.ChatCompletionRequest) (string, error) {
		return "", errors.New("boom")
	}}
	tr, err := NewTranslator(chat, nil, Config{}, nil)
	require.NoError(t, err)

	_, err = tr.Translate(context.Background(), "  ", "")
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = tr.Translate(context.Background(), "hi", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	chat.reply = staticReply("   ")
	_, err = tr.Expand(context.Background(), "hi")
	assert.Error(t, err)
}

func TestTranslator_ExpandCollapsesConcurrentCalls(t *testing.T) {
	chat := &fakeChat{reply: staticReply("a majestic cat, studio lighting"), block: make(chan struct{})}
	tr, err := NewTranslator(chat, nil, Config{}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := tr.Expand(context.Background(), "cat")
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}

	require.Eventually(t, func() bool { return chat.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(chat.block)
	wg.Wait()

	assert.Equal(t, int32(1), chat.calls.Load())
	for _, r := range results {
		assert.Equal(t, "a majestic cat, studio lighting", r)
	}
}

func TestTranslator_RateLimitHonoursContext(t *testing.T) {
	chat := &fakeChat{reply: staticReply("ok")}
	tr, err := NewTranslator(chat, nil, Config{RequestsPerSecond: 0.001, Burst: 1}, nil)
	require.NoError(t, err)

	_, err = tr.Expand(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = tr.Expand(ctx, "second")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, int32(1), chat.calls.Load())
}

func TestNewOpenAIClient(t *testing.T) {
	_, err := NewOpenAIClient(Config{})
	assert.Error(t, err)

	client, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: "http://localhost:11434/v1"})
	require.NoError(t, err)
	assert.NotNil(t, client)
}
