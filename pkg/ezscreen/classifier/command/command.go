// Package command runs the external bad channel classifier as a child
// process. The payload is written to a JSON file; the program gets the
// entry point name and the file path as its last two arguments and prints
// {"data": ..., "metadata": ...} on stdout.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/himanishpuri/ezscreen/pkg/ezscreen"
	"github.com/himanishpuri/ezscreen/pkg/logger"
	"github.com/himanishpuri/ezscreen/pkg/utils"
)

const (
	DefaultScreenedEntry = "ez_bad_channel_temp"
	DefaultRawEntry      = "ez_bad_channel_temp_lfp"

	// stderr kept in error messages
	maxStderr = 2048

	// how long to wait for output pipes after the process is killed
	waitDelay = time.Second
)

type Classifier struct {
	program       string
	args          []string
	tempDir       string
	screenedEntry string
	rawEntry      string
	keepPayloads  bool
	log           ezscreen.Logger
}

type Option func(*Classifier)

// WithArgs sets arguments placed before the entry point, e.g. a script
// path when program is an interpreter.
func WithArgs(args ...string) Option {
	return func(c *Classifier) {
		c.args = args
	}
}

func WithTempDir(dir string) Option {
	return func(c *Classifier) {
		c.tempDir = dir
	}
}

func WithEntryPoints(screened, raw string) Option {
	return func(c *Classifier) {
		c.screenedEntry = screened
		c.rawEntry = raw
	}
}

// KeepPayloads leaves payload files in the temp dir after the call.
func KeepPayloads() Option {
	return func(c *Classifier) {
		c.keepPayloads = true
	}
}

func WithLogger(log ezscreen.Logger) Option {
	return func(c *Classifier) {
		c.log = log
	}
}

func New(program string, opts ...Option) *Classifier {
	c := &Classifier{
		program:       program,
		tempDir:       os.TempDir(),
		screenedEntry: DefaultScreenedEntry,
		rawEntry:      DefaultRawEntry,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.GetLogger().With("classifier")
	}
	return c
}

func (c *Classifier) ClassifyScreened(ctx context.Context, p *ezscreen.Payload) (*ezscreen.ClassifierResult, error) {
	return c.run(ctx, c.screenedEntry, p)
}

func (c *Classifier) ClassifyRaw(ctx context.Context, p *ezscreen.Payload) (*ezscreen.ClassifierResult, error) {
	return c.run(ctx, c.rawEntry, p)
}

func (c *Classifier) run(ctx context.Context, entry string, p *ezscreen.Payload) (*ezscreen.ClassifierResult, error) {
	if c.program == "" {
		return nil, fmt.Errorf("%w: no program configured", ezscreen.ErrExternalClassifier)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	path := filepath.Join(c.tempDir, payloadFileName(p.FileBlock))
	if err := utils.MakeDir(c.tempDir); err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	if err := utils.WriteFileAtomic(path, body); err != nil {
		return nil, fmt.Errorf("writing payload: %w", err)
	}
	if !c.keepPayloads {
		defer utils.DeleteFile(path)
	}
	c.log.Debugf("Wrote payload %s (%s)", path, humanize.Bytes(uint64(len(body))))

	args := append(append([]string{}, c.args...), entry, path)
	cmd := exec.CommandContext(ctx, c.program, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	c.log.Infof("Running %s %s for %s", c.program, entry, p.FileBlock)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %v: %s",
			ezscreen.ErrExternalClassifier, c.program, entry, err, tail(stderr.String()))
	}

	var res ezscreen.ClassifierResult
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return nil, fmt.Errorf("%w: decoding output of %s: %v", ezscreen.ErrMalformedResult, entry, err)
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	c.log.Debugf("Classifier %s returned %s", entry, humanize.Bytes(uint64(stdout.Len())))
	return &res, nil
}

func payloadFileName(fileBlock string) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, fileBlock)
	if name == "" {
		name = "block"
	}
	return name + ".json"
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		return "..." + s[len(s)-maxStderr:]
	}
	return s
}
