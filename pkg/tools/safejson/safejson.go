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

// Package safejson wraps goccy/go-json and falls back to encoding/json when goccy panics.
package safejson

import (
	"encoding/base64"
	jsonstd "encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

var errNotPointer = errors.New("decoded must be a non-nil pointer")

// Unmarshal decodes val into decoded, which must be a non-nil pointer.
// Struct targets are decoded with goccy; everything else uses the stdlib decoder.
func Unmarshal(val []byte, decoded any) (err error) {
	target := reflect.ValueOf(decoded)
	if !target.IsValid() || target.Kind() != reflect.Ptr || target.IsNil() {
		return errNotPointer
	}

	if target.Elem().Kind() != reflect.Struct {
		return jsonstd.Unmarshal(val, decoded)
	}

	defer func() {
		if r := recover(); r != nil {
			zap.S().Warnf("goccy failed to decode, falling back to stdlib: %v (payload: %s)",
				r, base64.StdEncoding.EncodeToString(val))

			fresh := reflect.New(target.Elem().Type())
			if err = jsonstd.Unmarshal(val, fresh.Interface()); err == nil {
				target.Elem().Set(fresh.Elem())
			}
		}
	}()

	// Decode into a fresh value so a failed decode never leaves decoded half written.
	fresh := reflect.New(target.Elem().Type())
	if err = json.Unmarshal(val, fresh.Interface()); err != nil {
		return err
	}
	target.Elem().Set(fresh.Elem())

	return nil
}

// Marshal encodes val with goccy, falling back to the stdlib encoder on panic.
func Marshal(val any) (encoded []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Warnf("goccy failed to encode, falling back to stdlib: %v", r)
			encoded, err = jsonstd.Marshal(val)
		}
	}()

	return json.Marshal(val)
}

// MustMarshal panics if val cannot be encoded.
func MustMarshal(val any) []byte {
	encoded, err := Marshal(val)
	if err != nil {
		panic(fmt.Sprintf("safejson: %v", err))
	}

	return encoded
}
