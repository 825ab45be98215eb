// Package stub provides an in-process classifier that echoes the derived
// channel sets back. It is used for dry runs and tests.
package stub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/himanishpuri/ezscreen/pkg/ezscreen"
)

// ErrInjected is returned for the calls configured to fail.
var ErrInjected = errors.New("stub classifier: injected failure")

const (
	EntryScreened = "screened"
	EntryRaw      = "raw"
)

type Call struct {
	Entry   string
	Payload *ezscreen.Payload
}

// Classifier records every call. The first FailFirst calls fail, each call
// waits Delay (or until its context ends, unless IgnoreContext is set) and
// Malformed drops the metadata part of every result.
type Classifier struct {
	FailFirst     int
	Delay         time.Duration
	IgnoreContext bool
	Malformed     bool

	mu    sync.Mutex
	calls []Call
}

func New() *Classifier {
	return &Classifier{}
}

func (c *Classifier) ClassifyScreened(ctx context.Context, p *ezscreen.Payload) (*ezscreen.ClassifierResult, error) {
	return c.classify(ctx, EntryScreened, p)
}

func (c *Classifier) ClassifyRaw(ctx context.Context, p *ezscreen.Payload) (*ezscreen.ClassifierResult, error) {
	return c.classify(ctx, EntryRaw, p)
}

func (c *Classifier) classify(ctx context.Context, entry string, p *ezscreen.Payload) (*ezscreen.ClassifierResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, Call{Entry: entry, Payload: p})
	n := len(c.calls)
	c.mu.Unlock()

	if c.Delay > 0 && c.IgnoreContext {
		time.Sleep(c.Delay)
	} else if c.Delay > 0 {
		t := time.NewTimer(c.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if n <= c.FailFirst {
		return nil, fmt.Errorf("%w (call %d)", ErrInjected, n)
	}

	data, err := json.Marshal(p.Data)
	if err != nil {
		return nil, err
	}
	res := &ezscreen.ClassifierResult{Data: data}
	if c.Malformed {
		return res, nil
	}

	res.Metadata, err = json.Marshal(map[string]any{
		"entry":       entry,
		"file_id":     p.FileID,
		"file_block":  p.FileBlock,
		"ch_names_mp": p.ChNamesMP,
		"ch_names_bp": p.ChNamesBP,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// Last returns the most recent call, or false if there was none.
func (c *Classifier) Last() (Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return Call{}, false
	}
	return c.calls[len(c.calls)-1], true
}
