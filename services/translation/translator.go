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
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/edithistory/services/history"
	"github.com/AleutianAI/edithistory/services/telemetry"
)

const tracerName = "edithistory.translation"

const (
	translatePrompt = "You are a translator for image-generation prompts. Translate the user's text into %s. " +
		"Keep prompt weights, parentheses, commas and LoRA tags unchanged. Reply with the translation only."
	expandPrompt = "You expand short image-generation prompts into a single detailed prompt. " +
		"Keep the user's subject and style. Reply with the expanded prompt only."
)

var llmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "edithistory",
	Subsystem: "translation",
	Name:      "requests_total",
	Help:      "Translate and expand requests by operation and outcome",
}, []string{"operation", "outcome"})

// ChatClient is the subset of *openai.Client the Translator uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config configures the Translator and its pair cache.
type Config struct {
	MaxPairs          int     `yaml:"max_pairs" mapstructure:"max_pairs" validate:"gte=0"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	APIKey            string  `yaml:"-" mapstructure:"api_key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	TargetLang        string  `yaml:"target_lang" mapstructure:"target_lang"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" mapstructure:"burst" validate:"gte=0"`
}

// DefaultConfig returns the translation defaults.
func DefaultConfig() Config {
	return Config{
		MaxPairs:          DefaultMaxPairs,
		Model:             "gpt-4o-mini",
		TargetLang:        "English",
		RequestsPerSecond: 2,
		Burst:             4,
	}
}

// NewOpenAIClient builds a go-openai client, honouring a custom base URL
// for OpenAI-compatible servers.
func NewOpenAIClient(cfg Config) (*openai.Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("translation api key not set (EDITHISTORY_TRANSLATION_API_KEY or OPENAI_API_KEY)")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(oc), nil
}

// Translation is the outcome of Translator.Translate.
type Translation struct {
	Text string

	// Cached is true when no LLM call was made.
	Cached bool

	// Reverted is true when the input was a known translation and Text is
	// its cached source.
	Reverted bool
}

// Translator runs translate and expand requests against a chat model.
//
// # Description
//
// Identical in-flight requests share one LLM call (singleflight). Calls
// wait on a token bucket limiter. Successful translations are recorded in
// the PairCache so the history round-trip filter can recognise toggles.
//
// # Thread Safety
//
// Safe for concurrent use.
type Translator struct {
	client  ChatClient
	cache   *PairCache
	cfg     Config
	limiter *rate.Limiter
	group   singleflight.Group
	logger  *slog.Logger
}

// NewTranslator creates a Translator. cache may be nil.
func NewTranslator(client ChatClient, cache *PairCache, cfg Config, logger *slog.Logger) (*Translator, error) {
	if client == nil {
		return nil, errors.New("chat client must not be nil")
	}
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.TargetLang == "" {
		cfg.TargetLang = def.TargetLang
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{
		client:  client,
		cache:   cache,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger,
	}, nil
}

// Translate translates text into lang (the configured target when empty).
//
// A text that is a cached translation is reverted to its source without an
// LLM call; a cached source returns its cached translation.
func (t *Translator) Translate(ctx context.Context, text, lang string) (Translation, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "translation.Translate")
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return Translation{}, ErrEmptyText
	}
	if lang == "" {
		lang = t.cfg.TargetLang
	}
	span.SetAttributes(attribute.String("translation.lang", lang))

	if t.cache != nil {
		pair, ok, err := t.cache.LookupPair(ctx, text)
		if err != nil {
			t.logger.Warn("translation cache lookup failed", slog.String("error", err.Error()))
		} else if ok && pair.Role == history.RoleTranslation {
			llmRequestsTotal.WithLabelValues("translate", "reverted").Inc()
			return Translation{Text: pair.Counterpart, Cached: true, Reverted: true}, nil
		}
		if cached, ok, err := t.cache.TranslationOf(ctx, text, lang); err == nil && ok {
			llmRequestsTotal.WithLabelValues("translate", "cached").Inc()
			return Translation{Text: cached, Cached: true}, nil
		}
	}

	out, err, _ := t.group.Do("translate\x00"+lang+"\x00"+text, func() (any, error) {
		translated, err := t.complete(ctx, fmt.Sprintf(translatePrompt, lang), text)
		if err != nil {
			return "", err
		}
		if t.cache != nil {
			if err := t.cache.Record(ctx, text, translated, lang); err != nil {
				t.logger.Warn("failed to cache translation", slog.String("error", err.Error()))
			}
		}
		return translated, nil
	})
	if err != nil {
		llmRequestsTotal.WithLabelValues("translate", "error").Inc()
		telemetry.RecordError(span, err)
		return Translation{}, err
	}
	llmRequestsTotal.WithLabelValues("translate", "ok").Inc()
	return Translation{Text: out.(string)}, nil
}

// Expand rewrites a short prompt into a detailed one.
func (t *Translator) Expand(ctx context.Context, text string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "translation.Expand")
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}

	out, err, _ := t.group.Do("expand\x00"+text, func() (any, error) {
		return t.complete(ctx, expandPrompt, text)
	})
	if err != nil {
		llmRequestsTotal.WithLabelValues("expand", "error").Inc()
		telemetry.RecordError(span, err)
		return "", err
	}
	llmRequestsTotal.WithLabelValues("expand", "ok").Inc()
	return out.(string), nil
}

func (t *Translator) complete(ctx context.Context, system, user string) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	t.logger.Debug("chat completion", slog.String("model", t.cfg.Model))
	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: t.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		t.logger.Error("chat completion failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("chat completion returned empty content")
	}
	return content, nil
}
