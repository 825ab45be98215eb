package ezscreen

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/himanishpuri/ezscreen/internal/retry"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/interference"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/montage"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/outlier"
	"github.com/himanishpuri/ezscreen/pkg/logger"
	"github.com/himanishpuri/ezscreen/pkg/utils"
)

// screenService is the default implementation of the Service interface.
type screenService struct {
	classifier Classifier
	ledger     Ledger
	estimator  *interference.Estimator
	log        Logger
	config     *Config

	abandoned atomic.Int64
}

// Lifecycle of one classifier call.
const (
	callRunning int32 = iota
	callDone
	callAbandoned
)

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Classifier == nil {
		return nil, ErrNoClassifier
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger().With("ezscreen")
	}

	ledger := cfg.Ledger
	if ledger == nil && cfg.DBPath != "" {
		var err error
		ledger, err = NewSQLiteLedger(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open run ledger: %w", err)
		}
	}

	return &screenService{
		classifier: cfg.Classifier,
		ledger:     ledger,
		estimator: &interference.Estimator{
			Band:    cfg.Band,
			Workers: cfg.Workers,
		},
		log:    cfg.Logger,
		config: cfg,
	}, nil
}

// ScreenBlock runs the screened variant on one block.
func (s *screenService) ScreenBlock(ctx context.Context, block Block) (*BlockResult, error) {
	return s.process(ctx, VariantScreened, block)
}

// ProcessRawBlock runs the raw variant on one block.
func (s *screenService) ProcessRawBlock(ctx context.Context, block Block) (*BlockResult, error) {
	return s.process(ctx, VariantRaw, block)
}

func (s *screenService) Run(ctx context.Context, variant Variant, blocks []Block) (*RunReport, error) {
	report := &RunReport{}
	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := s.process(ctx, variant, block)
		if err != nil {
			var be *BlockError
			if !errors.As(err, &be) {
				be = &BlockError{FileBlock: block.Meta.FileBlock, BlockIndex: block.Meta.BlockIndex, Err: err}
			}
			report.Failures = append(report.Failures, be)
			continue
		}
		report.Results = append(report.Results, res)
	}
	s.log.Infof("Run finished: %d/%d blocks ok", len(report.Results), len(blocks))
	return report, nil
}

// process is the pipeline shared by both variants:
// validate, screen (screened only), derive, classify, record.
func (s *screenService) process(ctx context.Context, variant Variant, block Block) (*BlockResult, error) {
	start := time.Now()
	runID := utils.NewRunID()
	meta := block.Meta
	fail := func(stage Stage, attempts int, err error, scores []ChannelScore) error {
		be := &BlockError{
			RunID:      runID,
			FileBlock:  meta.FileBlock,
			BlockIndex: meta.BlockIndex,
			Stage:      stage,
			Attempts:   attempts,
			Err:        err,
		}
		s.log.Errorf("%v", be)
		s.record(&RunRecord{
			ID:         runID,
			FileID:     meta.FileID,
			FileBlock:  meta.FileBlock,
			BlockIndex: meta.BlockIndex,
			NBlocks:    meta.NBlocks,
			Variant:    variant,
			Status:     StatusFailed,
			Stage:      stage,
			Attempts:   attempts,
			Error:      err.Error(),
			Duration:   time.Since(start),
		}, scores)
		return be
	}

	if err := s.validate(variant, block); err != nil {
		return nil, fail(StageValidate, 0, err, nil)
	}
	rec, m := block.Recording, block.Meta.Montage
	s.log.Infof("Processing block %s (%s): %d channels x %d samples",
		meta.FileBlock, variant, rec.NumChannels(), rec.NumSamples())

	var (
		screening *Screening
		bad       map[int]struct{}
		scores    []ChannelScore
	)
	if variant == VariantScreened {
		var err error
		screening, err = s.screen(ctx, block)
		if err != nil {
			return nil, fail(StageScreen, 0, err, nil)
		}
		scores = screening.ChannelScores(m)
		bad = make(map[int]struct{}, len(screening.Flagged))
		for _, id := range screening.Flagged {
			bad[id] = struct{}{}
		}
		if len(screening.Flagged) > 0 {
			names, _ := m.Names(screening.Flagged)
			s.log.Infof("Block %s: flagged %d channel(s) for powerline interference: %v",
				meta.FileBlock, len(names), names)
		}
	}

	groups, err := montage.Derive(rec, m, bad)
	if err != nil {
		return nil, fail(StageDerive, 0, err, scores)
	}
	meta = meta.withDerived(rec, groups)
	s.log.Debugf("Block %s: %d monopolar, %d bipolar, %d support bipolar",
		meta.FileBlock, groups.Monopolar.Len(), groups.Bipolar.Len(), groups.SupportBipolar.Len())

	out, attempts, err := s.classify(ctx, variant, newPayload(meta, groups))
	if err != nil {
		return nil, fail(StageClassify, attempts, err, scores)
	}

	res := &BlockResult{
		RunID:     runID,
		Variant:   variant,
		Meta:      meta,
		Groups:    groups,
		Screening: screening,
		Output:    out,
		Attempts:  attempts,
		Duration:  time.Since(start),
	}

	run := &RunRecord{
		ID:             runID,
		FileID:         meta.FileID,
		FileBlock:      meta.FileBlock,
		BlockIndex:     meta.BlockIndex,
		NBlocks:        meta.NBlocks,
		Variant:        variant,
		Status:         StatusOK,
		Attempts:       attempts,
		MonopolarCount: groups.Monopolar.Len(),
		BipolarCount:   groups.Bipolar.Len(),
		SupportCount:   groups.SupportBipolar.Len(),
		Duration:       res.Duration,
	}
	if screening != nil {
		run.Flagged = screening.Flagged
	}
	s.record(run, scores)

	s.log.Infof("Block %s done in %s", meta.FileBlock, res.Duration.Round(time.Millisecond))
	return res, nil
}

func (s *screenService) validate(variant Variant, block Block) error {
	if variant != VariantScreened && variant != VariantRaw {
		return fmt.Errorf("unknown variant %q", variant)
	}
	if block.Meta.Montage == nil {
		return fmt.Errorf("%w: block has no montage", ErrMontageInconsistency)
	}
	if err := block.Recording.Validate(); err != nil {
		return err
	}
	if cl := block.Meta.ChanList; cl != nil && len(cl) != block.Recording.NumChannels() {
		return fmt.Errorf("%w: chanlist has %d labels for %d channels",
			ErrInvalidRecording, len(cl), block.Recording.NumChannels())
	}
	if want := s.config.SampleRate; want > 0 && block.Recording.SampleRate != want {
		return fmt.Errorf("%w: sample rate %g Hz, expected %g Hz",
			ErrInvalidRecording, block.Recording.SampleRate, want)
	}
	return nil
}

// screen scores the monopolar-suggested channels and maps the flagged
// positions back to channel ids.
func (s *screenService) screen(ctx context.Context, block Block) (*Screening, error) {
	rec, m := block.Recording, block.Meta.Montage
	ids := m.SuggestedMonopolar()
	for _, id := range ids {
		if id < 0 || id >= rec.NumChannels() {
			return nil, fmt.Errorf("%w: channel %d (%s) not in recording with %d channels",
				ErrMontageInconsistency, id, m.Name(id), rec.NumChannels())
		}
	}
	if len(ids) == 0 {
		return &Screening{ChannelIDs: ids, Positions: []int{}, Flagged: []int{}}, nil
	}

	rows, err := rec.Rows(ids)
	if err != nil {
		return nil, err
	}

	est := *s.estimator
	est.SampleRate = rec.SampleRate
	scores, err := est.Scores(ctx, rows)
	if err != nil {
		return nil, err
	}

	positions := outlier.Classify(scores, s.config.Thresholds)
	flagged := make([]int, len(positions))
	for i, pos := range positions {
		flagged[i] = ids[pos]
	}

	return &Screening{
		ChannelIDs: ids,
		Scores:     scores,
		ZScores:    outlier.ZScores(scores),
		Positions:  positions,
		Flagged:    flagged,
	}, nil
}

// classify calls the classifier with a per-attempt timeout, retrying
// external failures with backoff. A call that ignores its context is
// abandoned once the timeout fires.
func (s *screenService) classify(ctx context.Context, variant Variant, payload *Payload) (*ClassifierResult, int, error) {
	call := s.classifier.ClassifyScreened
	if variant == VariantRaw {
		call = s.classifier.ClassifyRaw
	}

	type outcome struct {
		res *ClassifierResult
		err error
	}

	var result *ClassifierResult
	attempts, err := retry.Do(ctx, s.config.retryPolicy(), isRetryable, func(ctx context.Context, attempt int) error {
		actx, cancel := ctx, context.CancelFunc(func() {})
		if s.config.ClassifierTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, s.config.ClassifierTimeout)
		}
		defer cancel()

		start := time.Now()
		var state atomic.Int32
		done := make(chan outcome, 1)
		go func() {
			res, err := call(actx, payload)
			done <- outcome{res, err}
			if !state.CompareAndSwap(callRunning, callDone) {
				n := s.abandoned.Add(-1)
				s.log.Debugf("Abandoned classifier call for %s returned after %s (%d still running)",
					payload.FileBlock, time.Since(start).Round(time.Millisecond), n)
			}
		}()

		var o outcome
		select {
		case o = <-done:
		case <-actx.Done():
			// Counted before the swap so the late return never decrements first.
			n := s.abandoned.Add(1)
			if state.CompareAndSwap(callRunning, callAbandoned) {
				s.log.Warnf("Abandoning classifier attempt %d for %s (%d abandoned call(s) still running)",
					attempt, payload.FileBlock, n)
				o.err = actx.Err()
			} else {
				s.abandoned.Add(-1)
				o = <-done
			}
		}

		if o.err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("classifier call aborted: %w", ctx.Err())
			}
			if errors.Is(actx.Err(), context.DeadlineExceeded) {
				o.err = fmt.Errorf("%w after %s", ErrClassifierTimeout, s.config.ClassifierTimeout)
			} else if !errors.Is(o.err, ErrExternalClassifier) {
				o.err = fmt.Errorf("%w: %w", ErrExternalClassifier, o.err)
			}
			s.log.Warnf("Classifier attempt %d for %s failed: %v", attempt, payload.FileBlock, o.err)
			return o.err
		}
		if err := o.res.Validate(); err != nil {
			s.log.Warnf("Classifier attempt %d for %s returned a bad result: %v", attempt, payload.FileBlock, err)
			return err
		}
		result = o.res
		return nil
	})
	return result, attempts, err
}

func (s *screenService) AbandonedCalls() int64 {
	return s.abandoned.Load()
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrExternalClassifier)
}

// record writes a run to the ledger. Ledger failures are logged and never
// fail the block.
func (s *screenService) record(run *RunRecord, scores []ChannelScore) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.RecordRun(run, scores); err != nil {
		s.log.Warnf("Failed to record run %s: %v", run.ID, err)
	}
}

func (s *screenService) Runs(fileID string) ([]RunRecord, error) {
	if s.ledger == nil {
		return nil, ErrNoLedger
	}
	return s.ledger.ListRuns(fileID)
}

func (s *screenService) Scores(runID string) ([]ChannelScore, error) {
	if s.ledger == nil {
		return nil, ErrNoLedger
	}
	return s.ledger.GetScores(runID)
}

func (s *screenService) DeleteRuns(fileID string) error {
	if s.ledger == nil {
		return ErrNoLedger
	}
	if err := s.ledger.DeleteRunsByFile(fileID); err != nil {
		return err
	}
	s.log.Infof("Deleted runs of %s", fileID)
	return nil
}

// Close releases the ledger.
func (s *screenService) Close() error {
	if s.ledger == nil {
		return nil
	}
	return s.ledger.Close()
}
