package ezscreen

import (
	"errors"
	"fmt"

	"github.com/himanishpuri/ezscreen/pkg/ezscreen/interference"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/montage"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/recording"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/storage"
)

var (
	ErrEmptyBand            = interference.ErrEmptyBand
	ErrInconsistentChannels = interference.ErrInconsistentChannels
	ErrMontageInconsistency = montage.ErrMontageInconsistency
	ErrInvalidRecording     = recording.ErrInvalidRecording
	ErrRunNotFound          = storage.ErrRunNotFound

	// ErrExternalClassifier covers every failure of the delegated call:
	// errors, timeouts and malformed results. It is the only retried kind.
	ErrExternalClassifier = errors.New("external classifier failed")
	ErrClassifierTimeout  = fmt.Errorf("%w: timed out", ErrExternalClassifier)
	ErrMalformedResult    = fmt.Errorf("%w: malformed result", ErrExternalClassifier)

	ErrNoClassifier = errors.New("no classifier configured")
	ErrNoLedger     = errors.New("run ledger disabled")
)

// Stage names the pipeline step a block failed in.
type Stage string

const (
	StageValidate Stage = "validate"
	StageScreen   Stage = "screen"
	StageDerive   Stage = "derive"
	StageClassify Stage = "classify"
)

// BlockError reports a failed block. It unwraps to the underlying cause so
// errors.Is works against the sentinels above.
type BlockError struct {
	RunID      string
	FileBlock  string
	BlockIndex int
	Stage      Stage
	Attempts   int
	Err        error
}

func (e *BlockError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("block %s: %s failed after %d attempts: %v", e.FileBlock, e.Stage, e.Attempts, e.Err)
	}
	return fmt.Sprintf("block %s: %s failed: %v", e.FileBlock, e.Stage, e.Err)
}

func (e *BlockError) Unwrap() error { return e.Err }
