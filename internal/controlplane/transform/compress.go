// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transform

import (
	"bytes"
	"compress/flate"
	"encoding/json"
	"fmt"
)

// DefaultCompressionLevel matches the spec's documented default.
const DefaultCompressionLevel = 6

// compressBatch deflates b.Vectors, populating Compressed/OrigSize/CompSize
// and clearing the plaintext Vectors slice.
func compressBatch(b Batch, level int) (Batch, error) {
	raw, err := json.Marshal(batchVectorsJSON(b))
	if err != nil {
		return Batch{}, fmt.Errorf("transform: marshal batch for compression: %w", err)
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		return Batch{}, fmt.Errorf("transform: new flate writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return Batch{}, fmt.Errorf("transform: deflate batch: %w", err)
	}
	if err := w.Close(); err != nil {
		return Batch{}, fmt.Errorf("transform: close flate writer: %w", err)
	}

	b.Compressed = buf.Bytes()
	b.OrigSize = len(raw)
	b.CompSize = buf.Len()
	b.Vectors = nil
	return b, nil
}

// decompressBatch is the inverse of compressBatch, used by tests and by any
// downstream consumer reconstructing the plaintext record set.
func decompressBatch(b Batch) ([]Record, error) {
	r := flate.NewReader(bytes.NewReader(b.Compressed))
	defer r.Close()
	var out []recordJSON
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("transform: inflate batch: %w", err)
	}
	records := make([]Record, len(out))
	for i, rj := range out {
		records[i] = Record{ID: rj.ID, Vector: rj.Vector, Similarity: rj.Similarity, Metadata: rj.Metadata}
	}
	return records, nil
}

func batchVectorsJSON(b Batch) []recordJSON {
	out := make([]recordJSON, len(b.Vectors))
	for i, r := range b.Vectors {
		out[i] = recordJSON{ID: r.ID, Vector: r.Vector, Similarity: r.Similarity, Metadata: r.Metadata}
	}
	return out
}
