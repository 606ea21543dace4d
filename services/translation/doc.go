// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package translation provides the translation pair cache consulted by the
// history round-trip filter and the LLM client that fills it.
//
// PairCache persists source/translation pairs in a history.Store under a
// single key and answers history.TranslationLookup queries. Translator calls
// an OpenAI-compatible chat completion endpoint for translate and expand
// assists, short-circuiting through the cache when it can.
package translation
