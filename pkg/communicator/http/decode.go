// Copyright 2025 UMH Systems GmbH
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

package http

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var zstdDecoderPool = sync.Pool{
	New: func() any {
		decoder, _ := zstd.NewReader(nil)

		return decoder
	},
}

// readBody reads the response body and undoes zstd or gzip content encoding.
func readBody(response *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}

	encoding := strings.ToLower(strings.TrimSpace(response.Header.Get("Content-Encoding")))
	if len(raw) == 0 {
		return raw, nil
	}

	switch encoding {
	case "", "identity":
		return raw, nil
	case "zstd":
		decoder, ok := zstdDecoderPool.Get().(*zstd.Decoder)
		if !ok || decoder == nil {
			if decoder, err = zstd.NewReader(nil); err != nil {
				return nil, err
			}
		}
		defer zstdDecoderPool.Put(decoder)

		return decoder.DecodeAll(raw, nil)
	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer reader.Close()

		return io.ReadAll(reader)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}
