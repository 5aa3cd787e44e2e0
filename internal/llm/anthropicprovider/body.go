// Copyright 2026 The Loomcore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package anthropicprovider

import "bytes"

// bytesReader is a tiny *bytes.Reader alias so buildRawBody's return
// type doesn't leak the bytes package into callers that only need an
// io.Reader.
type bytesReader = bytes.Reader

func newBytesReader(data []byte) *bytesReader {
	return bytes.NewReader(data)
}
