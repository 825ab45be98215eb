package ezscreen

import (
	"context"
)

type Service interface {
	// ScreenBlock screens the monopolar-suggested channels for powerline
	// interference, derives the channel groups with the flagged channels
	// removed and hands them to the classifier.
	ScreenBlock(ctx context.Context, block Block) (*BlockResult, error)
	// ProcessRawBlock derives the channel groups without screening.
	ProcessRawBlock(ctx context.Context, block Block) (*BlockResult, error)
	// Run processes blocks in order. Failed blocks are reported in the
	// returned RunReport; the error is non-nil only when ctx ends early.
	Run(ctx context.Context, variant Variant, blocks []Block) (*RunReport, error)
	Runs(fileID string) ([]RunRecord, error)
	Scores(runID string) ([]ChannelScore, error)
	// DeleteRuns removes every ledger entry of fileID.
	DeleteRuns(fileID string) error
	// AbandonedCalls reports classifier calls given up on at their timeout
	// that have not returned yet.
	AbandonedCalls() int64
	Close() error
}

// Classifier is the external bad channel classification engine. The two
// entry points correspond to the screened and raw variants.
//
// Implementations must return promptly once ctx ends. A call still running
// at its timeout is abandoned: the pipeline moves on to the next attempt or
// block while the call keeps running in its own goroutine, so blocks are no
// longer processed strictly one at a time. Abandoned calls are logged and
// counted by Service.AbandonedCalls until they return.
type Classifier interface {
	ClassifyScreened(ctx context.Context, payload *Payload) (*ClassifierResult, error)
	ClassifyRaw(ctx context.Context, payload *Payload) (*ClassifierResult, error)
}

type Ledger interface {
	RecordRun(run *RunRecord, scores []ChannelScore) error
	ListRuns(fileID string) ([]RunRecord, error)
	GetScores(runID string) ([]ChannelScore, error)
	DeleteRunsByFile(fileID string) error
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
