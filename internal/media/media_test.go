package media

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
)

type recordedCall struct {
	name string
	args []string
	list string // concat list contents, captured before the scratch dir goes away
}

// fakeRunner writes a small file to the last argument of every ffmpeg call
type fakeRunner struct {
	mu    sync.Mutex
	calls []recordedCall
	fail  func(args []string) bool
	empty bool
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (commandResult, error) {
	call := recordedCall{name: name, args: append([]string(nil), args...)}
	if in := argAfter(args, "-i"); strings.HasSuffix(in, ".txt") {
		if b, err := os.ReadFile(in); err == nil {
			call.list = string(b)
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if name == "ffprobe" {
		return commandResult{Stdout: "1.250\n"}, nil
	}
	if f.fail != nil && f.fail(args) {
		return commandResult{Stderr: "boom", ExitCode: 1}, errors.New("exit status 1")
	}
	content := []byte("video")
	if f.empty && argAfter(args, "-f") == "concat" {
		content = nil
	}
	if err := os.WriteFile(args[len(args)-1], content, 0o644); err != nil {
		return commandResult{ExitCode: 1}, err
	}
	return commandResult{}, nil
}

func (f *fakeRunner) callsWith(flag, value string) []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedCall
	for _, c := range f.calls {
		if argAfter(c.args, flag) == value {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRunner) ffmpegCalls() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedCall
	for _, c := range f.calls {
		if c.name == "ffmpeg" {
			out = append(out, c)
		}
	}
	return out
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
