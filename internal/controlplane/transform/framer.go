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
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
)

func float32bits(v float32) uint32 { return math.Float32bits(v) }

// Framer serializes a stream of batches into a chosen wire format. A Framer
// instance is stateful and scoped to exactly one stream.
type Framer interface {
	// Begin returns any stream-level preamble (may be empty).
	Begin() []byte
	// Frame serializes one batch, given whether it is the first batch
	// emitted on this stream.
	Frame(b Batch, first bool) ([]byte, error)
	// End returns any stream-level trailer (may be empty).
	End() []byte
}

// NewFramer builds the Framer for format.
func NewFramer(format Format) (Framer, error) {
	switch format {
	case FormatJSON:
		return &jsonFramer{}, nil
	case FormatNDJSON:
		return &ndjsonFramer{}, nil
	case FormatBinary:
		return &binaryFramer{}, nil
	default:
		return nil, fmt.Errorf("transform: unknown format %q", format)
	}
}

// jsonFramer wraps the full stream as a single JSON document:
// {"results":[<batch>,<batch>,...]}.
type jsonFramer struct{}

func (f *jsonFramer) Begin() []byte { return []byte(`{"results":[`) }

func (f *jsonFramer) Frame(b Batch, first bool) ([]byte, error) {
	body, err := json.Marshal(batchWireOf(b))
	if err != nil {
		return nil, fmt.Errorf("transform: marshal json batch: %w", err)
	}
	if first {
		return body, nil
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, ',')
	out = append(out, body...)
	return out, nil
}

func (f *jsonFramer) End() []byte { return []byte(`]}`) }

// ndjsonFramer emits one JSON document per batch, newline-delimited.
type ndjsonFramer struct{}

func (f *ndjsonFramer) Begin() []byte { return nil }

func (f *ndjsonFramer) Frame(b Batch, first bool) ([]byte, error) {
	body, err := json.Marshal(batchWireOf(b))
	if err != nil {
		return nil, fmt.Errorf("transform: marshal ndjson batch: %w", err)
	}
	return append(body, '\n'), nil
}

func (f *ndjsonFramer) End() []byte { return nil }

// batchWire is the JSON wire shape shared by json/ndjson framers. Per spec
// §6, a compressed batch carries a boolean flag plus a separate base64
// "data" payload, not the payload itself under the "compressed" key.
type batchWire struct {
	BatchID    string       `json:"batchId"`
	Vectors    []recordJSON `json:"vectors,omitempty"`
	Compressed bool         `json:"compressed,omitempty"`
	Data       []byte       `json:"data,omitempty"`
	OrigSize   int          `json:"origSize,omitempty"`
	CompSize   int          `json:"compSize,omitempty"`
}

func batchWireOf(b Batch) batchWire {
	return batchWire{
		BatchID:    b.BatchID,
		Vectors:    batchVectorsJSON(b),
		Compressed: b.Compressed != nil,
		Data:       b.Compressed,
		OrigSize:   b.OrigSize,
		CompSize:   b.CompSize,
	}
}

// binaryFramer emits a per-batch little-endian header (vectorCount, D)
// followed by flat (similarity, idHash, vector) records. D must be
// constant for the lifetime of the stream (spec §4.F).
type binaryFramer struct {
	dim    int
	dimSet bool
}

func (f *binaryFramer) Begin() []byte { return nil }

func (f *binaryFramer) Frame(b Batch, first bool) ([]byte, error) {
	if b.Compressed != nil {
		return nil, fmt.Errorf("transform: binary framing does not support pre-compressed batches")
	}
	dim := 0
	if len(b.Vectors) > 0 {
		dim = len(b.Vectors[0].Vector)
	}
	if !f.dimSet {
		if dim > 0 {
			f.dim = dim
			f.dimSet = true
		}
	} else if dim > 0 && dim != f.dim {
		return nil, fmt.Errorf("transform: binary stream dimension changed from %d to %d", f.dim, dim)
	}
	if dim == 0 {
		dim = f.dim
	}

	buf := make([]byte, 8, 8+len(b.Vectors)*(4+4+dim*4))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(b.Vectors)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(dim))

	for _, rec := range b.Vectors {
		if len(rec.Vector) != dim {
			return nil, fmt.Errorf("transform: record %s has dimension %d, want %d", rec.ID, len(rec.Vector), dim)
		}
		var simBits [4]byte
		binary.LittleEndian.PutUint32(simBits[:], float32bits(rec.Similarity))
		buf = append(buf, simBits[:]...)

		var idBits [4]byte
		binary.LittleEndian.PutUint32(idBits[:], idHash(rec.ID))
		buf = append(buf, idBits[:]...)

		for _, v := range rec.Vector {
			var vBits [4]byte
			binary.LittleEndian.PutUint32(vBits[:], float32bits(v))
			buf = append(buf, vBits[:]...)
		}
	}
	return buf, nil
}

func (f *binaryFramer) End() []byte { return nil }

func idHash(id string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return h.Sum32()
}
