// Copyright 2021 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nslogger-project/nslogger/pkg/config"
	"github.com/nslogger-project/nslogger/pkg/record"
)

// TestLoggerSequenceStartsAtOne exercises §8 Property 1's "strictly
// increasing and densely contiguous starting at 1": the very first
// record a Logger produces must carry sequence 1, not 0, or the viewer's
// expectedSeq check terminates every real run immediately.
func TestLoggerSequenceStartsAtOne(t *testing.T) {
	cfg := config.NewClientConfig()
	cfg.Host = ""
	cfg.BrowseBonjour = false // worker has nothing to dial; terminates quickly, no network I/O

	l, err := New(cfg)
	require.NoError(t, err)
	defer l.Close()

	l.Log("demo", record.LevelInfo, "tag", "first")
	l.Log("demo", record.LevelInfo, "tag", "second")
	l.Log("demo", record.LevelInfo, "tag", "third")

	recs := l.queue.drainNonBlocking()
	require.Len(t, recs, 3)
	require.EqualValues(t, 1, recs[0].Sequence)
	require.EqualValues(t, 2, recs[1].Sequence)
	require.EqualValues(t, 3, recs[2].Sequence)
}
