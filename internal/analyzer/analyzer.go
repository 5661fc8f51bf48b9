package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jo-hoe/medisnap/internal/history"
	"github.com/jo-hoe/medisnap/internal/llm"
	"github.com/jo-hoe/medisnap/internal/medicine"
	"github.com/jo-hoe/medisnap/internal/storage"
)

// Failure classes surfaced to HTTP clients.
var (
	ErrUpload    = errors.New("upload")
	ErrInference = errors.New("inference")
)

// Error codes stored in history and returned to clients.
const (
	CodeUploadMissing    = "upload_missing"
	CodeUploadFailed     = "upload_failed"
	CodeInferenceFailed  = "inference_failed"
	CodeInferenceTimeout = "inference_timeout"
)

// Result is the outcome of one analysis.
type Result struct {
	ID     string // history id, empty when history is disabled
	Data   any    // value relayed to the client
	Parsed bool   // false when Data is the placeholder record
	Raw    string // raw model output
}

// Analyzer runs the inference pipeline for stored uploads.
type Analyzer struct {
	Log           *slog.Logger
	LLM           llm.Client
	Store         history.Store // optional
	Prompt        string
	StrictSchema  bool
	DeleteUploads bool
}

// New creates an Analyzer. An empty prompt selects llm.MedicinePrompt.
func New(log *slog.Logger, c llm.Client, store history.Store, prompt string, strict, deleteUploads bool) *Analyzer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = llm.MedicinePrompt
	}
	return &Analyzer{
		Log:           log,
		LLM:           c,
		Store:         store,
		Prompt:        prompt,
		StrictSchema:  strict,
		DeleteUploads: deleteUploads,
	}
}

// Analyze sends the stored image to the model and normalizes its answer.
// Unparseable model output is not an error; it yields the placeholder record.
func (a *Analyzer) Analyze(ctx context.Context, up storage.Upload) (*Result, error) {
	start := time.Now()
	res := &Result{}
	if a.Store != nil {
		entry := &history.Analysis{
			Filename:   up.Filename,
			StoredPath: up.Path,
			MimeType:   up.MimeType,
			CreatedAt:  start.UTC(),
		}
		if err := a.Store.Create(entry); err != nil {
			a.Log.Warn("history create failed", "err", err)
		} else {
			res.ID = entry.ID
		}
	}
	if a.DeleteUploads {
		defer func() {
			if err := up.Remove(); err != nil {
				a.Log.Warn("remove upload failed", "path", up.Path, "err", err)
			}
		}()
	}

	log := a.Log.With("file", up.Filename, "analysis_id", res.ID)

	f, err := os.Open(up.Path)
	if err != nil {
		a.finish(res.ID, history.Outcome{Status: history.StatusFailed, ErrorCode: CodeUploadFailed}, start)
		return nil, fmt.Errorf("%w: open image: %w", ErrUpload, err)
	}
	defer func() { _ = f.Close() }()

	raw, err := a.LLM.DescribeImage(ctx, a.Prompt, f, up.MimeType)
	if err != nil {
		a.finish(res.ID, history.Outcome{Status: history.StatusFailed, ErrorCode: InferenceCode(err)}, start)
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}

	var norm medicine.Result
	if a.StrictSchema {
		norm = medicine.NormalizeStrict(raw)
	} else {
		norm = medicine.Normalize(raw)
	}
	res.Data, res.Parsed, res.Raw = norm.Data, norm.Parsed, raw

	status := history.StatusSucceeded
	if !norm.Parsed {
		status = history.StatusUnparsed
		log.Warn("model output is not json, returning placeholder", "err", norm.Err, "raw_len", len(raw))
	}
	a.finish(res.ID, history.Outcome{Status: status, RawResponse: raw}, start)
	log.Info("analysis finished", "parsed", norm.Parsed, "duration", time.Since(start))
	return res, nil
}

// Reject records an upload that never reached the model as a failed analysis.
// It returns the history id, or "" when history is disabled.
func (a *Analyzer) Reject(filename, code string) string {
	if a.Store == nil {
		return ""
	}
	now := time.Now()
	entry := &history.Analysis{Filename: filename, CreatedAt: now.UTC()}
	if err := a.Store.Create(entry); err != nil {
		a.Log.Warn("history create failed", "err", err)
		return ""
	}
	a.finish(entry.ID, history.Outcome{Status: history.StatusFailed, ErrorCode: code}, now)
	return entry.ID
}

func (a *Analyzer) finish(id string, out history.Outcome, start time.Time) {
	if a.Store == nil || id == "" {
		return
	}
	out.CompletedAt = time.Now().UTC()
	out.Duration = time.Since(start)
	if err := a.Store.Complete(id, out); err != nil {
		a.Log.Warn("history complete failed", "analysis_id", id, "err", err)
	}
}

// InferenceCode maps an inference error onto a client-facing code.
func InferenceCode(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeInferenceTimeout
	}
	return CodeInferenceFailed
}
