// Copyright (c) 2016-2019 Uber Technologies, Inc.
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
package transcode

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeRunner scripts ffprobe/ffmpeg outputs keyed by a distinguishing
// argument substring.
type fakeRunner struct {
	formatOut string
	videoOut  string
	audioOut  string
	ffmpegErr error
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	joined := strings.Join(args, " ")
	if strings.Contains(name, "ffprobe") {
		switch {
		case strings.Contains(joined, "format="):
			return []byte(f.formatOut), nil
		case strings.Contains(joined, "v:0"):
			return []byte(f.videoOut), nil
		case strings.Contains(joined, "a:0"):
			return []byte(f.audioOut), nil
		}
		return nil, errors.New("unexpected ffprobe args")
	}
	if f.ffmpegErr != nil {
		return nil, f.ffmpegErr
	}
	// Simulate ffmpeg writing the temp output (last arg).
	return nil, ioutil.WriteFile(args[len(args)-1], []byte("converted"), 0664)
}

func newTestTranscoder(f *fakeRunner) *Transcoder {
	t := New(Config{})
	t.run = f.run
	return t
}

func writeInput(t *testing.T) string {
	p := filepath.Join(t.TempDir(), "input.mkv")
	require.NoError(t, ioutil.WriteFile(p, []byte("media"), 0664))
	return p
}

func TestProbe(t *testing.T) {
	require := require.New(t)

	tc := newTestTranscoder(&fakeRunner{
		formatOut: "matroska,webm,102.5,2500000\n",
		videoOut:  "hevc,1920,1080\n",
		audioOut:  "ac3\n",
	})
	in := writeInput(t)

	info, err := tc.Probe(context.Background(), in)
	require.NoError(err)
	require.Equal("matroska,webm", info.Format)
	require.Equal("hevc", info.VideoCodec)
	require.Equal("ac3", info.AudioCodec)
	require.Equal(1920, info.Width)
	require.Equal(1080, info.Height)
	require.Equal("1920x1080", info.Resolution())
	require.Equal(102.5, info.DurationSeconds)
	require.Equal(int64(2500000), info.BitRate)
}

func TestStreamable(t *testing.T) {
	tests := []struct {
		desc   string
		format string
		video  string
		want   bool
	}{
		{"mp4 h264 passes through", "mov,mp4,m4a,3gp,3g2,mj2,60,1000", "h264,1280,720", true},
		{"mkv h264 converts", "matroska,webm,60,1000", "h264,1280,720", false},
		{"mp4 hevc converts", "mov,mp4,m4a,3gp,3g2,mj2,60,1000", "hevc,1280,720", false},
		{"avi mpeg4 converts", "avi,60,1000", "mpeg4,640,480", false},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			require := require.New(t)

			tc := newTestTranscoder(&fakeRunner{
				formatOut: test.format,
				videoOut:  test.video,
				audioOut:  "aac",
			})
			in := writeInput(t)

			info, err := tc.Probe(context.Background(), in)
			require.NoError(err)
			require.Equal(test.want, info.Streamable())
		})
	}
}

func TestProbeMissingInput(t *testing.T) {
	tc := newTestTranscoder(&fakeRunner{})
	_, err := tc.Probe(context.Background(), "/nonexistent/file.mkv")
	require.Error(t, err)
}

func TestConvertWritesOutputAtomically(t *testing.T) {
	require := require.New(t)

	tc := newTestTranscoder(&fakeRunner{})
	in := writeInput(t)
	out := filepath.Join(t.TempDir(), "out", "movie.mp4")

	require.NoError(tc.Convert(context.Background(), in, out))

	b, err := ioutil.ReadFile(out)
	require.NoError(err)
	require.Equal("converted", string(b))
}

func TestConvertFailureLeavesNoOutput(t *testing.T) {
	require := require.New(t)

	tc := newTestTranscoder(&fakeRunner{ffmpegErr: errors.New("boom")})
	in := writeInput(t)
	outDir := t.TempDir()
	out := filepath.Join(outDir, "movie.mp4")

	require.Error(tc.Convert(context.Background(), in, out))

	_, err := os.Stat(out)
	require.True(os.IsNotExist(err))

	// No stray temp files either.
	entries, err := ioutil.ReadDir(outDir)
	require.NoError(err)
	require.Empty(entries)
}
