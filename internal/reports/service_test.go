package reports

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medreport-backend/internal/analysis"
	"medreport-backend/internal/ocr"
	"medreport-backend/internal/queue"
	localstore "medreport-backend/internal/shared/storage/object/local"
)

type analyzerFunc func(ctx context.Context, req analysis.Request) (analysis.Outcome, error)

func (f analyzerFunc) Run(ctx context.Context, req analysis.Request) (analysis.Outcome, error) {
	return f(ctx, req)
}

type recordingQueue struct {
	mu   sync.Mutex
	sent []queue.Message
	err  error
}

func (q *recordingQueue) Send(ctx context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.sent = append(q.sent, msg)
	return nil
}

func newTestService(t *testing.T, analyzer Analyzer) *Service {
	t.Helper()
	return &Service{
		Repo:     NewMemoryRepo(),
		Store:    localstore.New(t.TempDir()),
		Analyzer: analyzer,
		Mode:     ModeSync,
	}
}

func upload(t *testing.T, svc *Service, body string) Report {
	t.Helper()
	rep, err := svc.Upload(context.Background(), UploadInput{
		PatientID: "patient-1",
		FileName:  "scan.pdf",
		Body:      strings.NewReader(body),
	})
	require.NoError(t, err)
	return rep
}

func conf(v float64) *float64 { return &v }

func outcome(text string, phrases []string, c *float64) analysis.Outcome {
	return analysis.Outcome{
		Text:            text,
		KeyPhrases:      phrases,
		Confidence:      c,
		PageCount:       1,
		SummarySource:   "passthrough",
		KeyPhraseSource: "keyword",
	}
}

func TestUploadCompletesWithFallbackResults(t *testing.T) {
	var got analysis.Request
	svc := newTestService(t, analyzerFunc(func(ctx context.Context, req analysis.Request) (analysis.Outcome, error) {
		got = req
		return outcome("Diagnosis: hypertension", []string{"Diagnosis: hypertension"}, conf(0.88)), nil
	}))

	rep := upload(t, svc, "%PDF-1.4 fake")

	assert.Equal(t, StatusCompleted, rep.Status)
	assert.Equal(t, DefaultUploader, rep.UploadedBy)
	require.NotNil(t, rep.ExtractedText)
	assert.Equal(t, "Diagnosis: hypertension", *rep.ExtractedText)
	assert.Equal(t, []string{"Diagnosis: hypertension"}, rep.KeyPhrases)
	require.NotNil(t, rep.ConfidenceScore)
	assert.Equal(t, 0.88, *rep.ConfidenceScore)
	assert.Equal(t, "passthrough", *rep.SummarySource)
	assert.Equal(t, "keyword", *rep.KeyPhraseSource)
	assert.Nil(t, rep.ErrorMessage)
	assert.NotNil(t, rep.CompletedAt)

	assert.Equal(t, rep.ID, got.ReportID)
	assert.Equal(t, []byte("%PDF-1.4 fake"), got.Document.Data)
	assert.Equal(t, "application/pdf", got.Document.ContentType)
}

func TestUploadBlankPageCompletesWithNullConfidence(t *testing.T) {
	svc := newTestService(t, analyzerFunc(func(ctx context.Context, req analysis.Request) (analysis.Outcome, error) {
		return outcome("", []string{}, nil), nil
	}))

	rep := upload(t, svc, "blank")

	assert.Equal(t, StatusCompleted, rep.Status)
	require.NotNil(t, rep.ExtractedText)
	assert.Equal(t, "", *rep.ExtractedText)
	assert.NotNil(t, rep.KeyPhrases)
	assert.Empty(t, rep.KeyPhrases)
	assert.Nil(t, rep.ConfidenceScore)
}

func TestUploadUpstreamQuotaFails(t *testing.T) {
	svc := newTestService(t, analyzerFunc(func(ctx context.Context, req analysis.Request) (analysis.Outcome, error) {
		return analysis.Outcome{}, &analysis.OCRError{Err: &ocr.UpstreamError{
			Provider:   "azure",
			StatusCode: 429,
			Code:       "429",
			Message:    "Rate limit quota exceeded",
		}}
	}))

	rep := upload(t, svc, "img")

	assert.Equal(t, StatusFailed, rep.Status)
	require.NotNil(t, rep.ErrorCode)
	assert.Equal(t, ErrorCodeOCRUpstream, *rep.ErrorCode)
	require.NotNil(t, rep.ErrorMessage)
	assert.Contains(t, *rep.ErrorMessage, "quota exceeded")
	assert.Nil(t, rep.ExtractedText)
	assert.Nil(t, rep.KeyPhrases)
	assert.Nil(t, rep.ConfidenceScore)
	assert.Nil(t, rep.PageCount)
}

func TestAnalyzePanicFailsReport(t *testing.T) {
	svc := newTestService(t, analyzerFunc(func(ctx context.Context, req analysis.Request) (analysis.Outcome, error) {
		panic("nil map write")
	}))

	rep := upload(t, svc, "doc")

	assert.Equal(t, StatusFailed, rep.Status)
	assert.Equal(t, ErrorCodeInternal, *rep.ErrorCode)
	assert.Equal(t, "panic: nil map write", *rep.ErrorMessage)
}

type fixedOCR struct{ text string }

func (fixedOCR) Name() string       { return "fixed" }
func (fixedOCR) IsConfigured() bool { return true }

func (o fixedOCR) Extract(context.Context, ocr.Document) (ocr.Result, error) {
	return ocr.Result{Text: o.text, PageCount: 1}, nil
}

type panickingSummarizer struct{}

func (panickingSummarizer) Generate(context.Context, string) (string, string) {
	panic("summary exploded")
}

func TestPipelineStagePanicFailsReport(t *testing.T) {
	svc := newTestService(t, &analysis.Pipeline{
		OCR:        fixedOCR{text: "Glucose 110."},
		Summarizer: panickingSummarizer{},
	})

	rep := upload(t, svc, "doc")

	assert.Equal(t, StatusFailed, rep.Status)
	assert.Equal(t, ErrorCodeInternal, *rep.ErrorCode)
	assert.Contains(t, *rep.ErrorMessage, "stage panicked")
	assert.Nil(t, rep.ExtractedText)
}

func TestAnalyzeMissingBlobFailsWithStorageError(t *testing.T) {
	svc := newTestService(t, analyzerFunc(func(ctx context.Context, req analysis.Request) (analysis.Outcome, error) {
		t.Fatal("analyzer must not run without a document")
		return analysis.Outcome{}, nil
	}))
	ctx := context.Background()
	require.NoError(t, svc.Repo.Create(ctx, Report{
		ID: "rep-1", PatientID: "p-1", BlobKey: "gone/scan.pdf", FileName: "scan.pdf",
		UploadedAt: time.Now(), Status: StatusPending,
	}))

	rep, err := svc.Analyze(ctx, "rep-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rep.Status)
	assert.Equal(t, ErrorCodeStorage, *rep.ErrorCode)
}

func TestReanalyzeOverwritesPriorResults(t *testing.T) {
	var mu sync.Mutex
	runs := []func() (analysis.Outcome, error){
		func() (analysis.Outcome, error) {
			return outcome("first text", []string{"Glucose"}, conf(0.9)), nil
		},
		func() (analysis.Outcome, error) {
			return analysis.Outcome{}, &analysis.OCRError{Err: ocr.Timeout("azure", context.DeadlineExceeded)}
		},
		func() (analysis.Outcome, error) {
			out := outcome("second text", []string{"Cholesterol"}, nil)
			out.SummarySource = "llm"
			return out, nil
		},
	}
	svc := newTestService(t, analyzerFunc(func(ctx context.Context, req analysis.Request) (analysis.Outcome, error) {
		mu.Lock()
		next := runs[0]
		runs = runs[1:]
		mu.Unlock()
		return next()
	}))
	ctx := context.Background()

	rep := upload(t, svc, "doc")
	require.Equal(t, StatusCompleted, rep.Status)

	rep, err := svc.Reanalyze(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rep.Status)
	assert.Equal(t, ErrorCodeOCRTimeout, *rep.ErrorCode)
	assert.Nil(t, rep.ExtractedText, "failed run must not keep the earlier text")
	assert.Nil(t, rep.KeyPhrases)

	rep, err = svc.Reanalyze(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rep.Status)
	assert.Equal(t, "second text", *rep.ExtractedText)
	assert.Equal(t, []string{"Cholesterol"}, rep.KeyPhrases)
	assert.Nil(t, rep.ConfidenceScore, "confidence from the first run must not survive")
	assert.Equal(t, "llm", *rep.SummarySource)
	assert.Nil(t, rep.ErrorCode)
	assert.Nil(t, rep.ErrorMessage)
}

func TestReanalyzeWhileProcessing(t *testing.T) {
	svc := newTestService(t, nil)
	svc.StaleAfter = time.Hour
	ctx := context.Background()
	require.NoError(t, svc.Repo.Create(ctx, Report{ID: "rep-1", PatientID: "p-1", UploadedAt: time.Now(), Status: StatusPending}))
	_, err := svc.Repo.Claim(ctx, "rep-1", time.Now())
	require.NoError(t, err)

	_, err = svc.Reanalyze(ctx, "rep-1")
	assert.ErrorIs(t, err, ErrAnalysisInProgress)

	assert.ErrorIs(t, svc.Delete(ctx, "rep-1"), ErrAnalysisInProgress)

	_, err = svc.Reanalyze(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReanalyzeTakesOverStaleRun(t *testing.T) {
	svc := newTestService(t, analyzerFunc(func(ctx context.Context, req analysis.Request) (analysis.Outcome, error) {
		return outcome("recovered", []string{}, nil), nil
	}))
	svc.StaleAfter = 15 * time.Minute
	ctx := context.Background()

	rep := upload(t, svc, "doc")
	_, err := svc.Repo.Reset(ctx, rep.ID, time.Time{})
	require.NoError(t, err)
	_, err = svc.Repo.Claim(ctx, rep.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	rep, err = svc.Reanalyze(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rep.Status)
	assert.Equal(t, "recovered", *rep.ExtractedText)
}

func TestStaleRunDoesNotOverwriteNewerRun(t *testing.T) {
	var svc *Service
	svc = newTestService(t, analyzerFunc(func(ctx context.Context, req analysis.Request) (analysis.Outcome, error) {
		// While this run is still working, re-analysis takes the report over and finishes first.
		_, err := svc.Repo.Reset(ctx, req.ReportID, time.Now().Add(time.Minute))
		require.NoError(t, err)
		fresh, err := svc.Repo.Claim(ctx, req.ReportID, time.Now().Add(time.Second))
		require.NoError(t, err)
		require.NoError(t, svc.Repo.Complete(ctx, req.ReportID, *fresh.StartedAt, outcome("fresh run", []string{"Glucose"}, conf(0.9)), time.Now()))
		return outcome("stale run", []string{}, nil), nil
	}))

	rep := upload(t, svc, "doc")
	assert.Equal(t, StatusCompleted, rep.Status)
	assert.Equal(t, "fresh run", *rep.ExtractedText)
	assert.Equal(t, []string{"Glucose"}, rep.KeyPhrases)
	assert.Equal(t, 0.9, *rep.ConfidenceScore)
}

func TestStaleRunFailureLeavesTakenOverReportAlone(t *testing.T) {
	var svc *Service
	svc = newTestService(t, analyzerFunc(func(ctx context.Context, req analysis.Request) (analysis.Outcome, error) {
		_, err := svc.Repo.Reset(ctx, req.ReportID, time.Now().Add(time.Minute))
		require.NoError(t, err)
		return analysis.Outcome{}, &analysis.OCRError{Err: ocr.Timeout("azure", context.DeadlineExceeded)}
	}))

	rep := upload(t, svc, "doc")
	assert.Equal(t, StatusPending, rep.Status, "the taken-over report belongs to the next run")
	assert.Nil(t, rep.ErrorCode)
	assert.Nil(t, rep.ErrorMessage)
}

func TestConcurrentAnalyzeRunsOnce(t *testing.T) {
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	svc := newTestService(t, analyzerFunc(func(ctx context.Context, req analysis.Request) (analysis.Outcome, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return outcome("text", []string{}, nil), nil
	}))
	ctx := context.Background()
	key, _, _, err := svc.Store.Save(ctx, "p-1", "scan.pdf", bytes.NewReader([]byte("doc")))
	require.NoError(t, err)
	require.NoError(t, svc.Repo.Create(ctx, Report{ID: "rep-2", PatientID: "p-1", BlobKey: key, UploadedAt: time.Now(), Status: StatusPending}))

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := svc.Analyze(ctx, "rep-2")
			errs <- err
		}()
	}
	// The winner blocks in the analyzer, so the first result is the loser's.
	first := <-errs
	close(release)
	second := <-errs

	var lost int
	for _, err := range []error{first, second} {
		if errors.Is(err, ErrInvalidTransition) {
			lost++
		} else {
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 1, lost)
	assert.Equal(t, 1, calls)
}

func TestQueueModeEnqueuesAndWorkerCompletes(t *testing.T) {
	q := &recordingQueue{}
	svc := newTestService(t, analyzerFunc(func(ctx context.Context, req analysis.Request) (analysis.Outcome, error) {
		assert.Equal(t, "req-7", RequestIDFromContext(ctx))
		return outcome("queued text", []string{"Glucose"}, conf(0.5)), nil
	}))
	svc.Mode = ModeQueue
	svc.Queue = q

	ctx := WithRequestID(context.Background(), "req-7")
	rep, err := svc.Upload(ctx, UploadInput{PatientID: "p-1", FileName: "lab.png", Body: strings.NewReader("png")})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rep.Status)
	require.Len(t, q.sent, 1)
	assert.Equal(t, rep.ID, q.sent[0].ReportID)
	assert.Equal(t, "req-7", q.sent[0].RequestID)
	assert.Equal(t, 1, q.sent[0].Version)

	require.NoError(t, svc.ProcessReport(ctx, rep.ID))
	done, err := svc.Get(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	// Redelivery of the same message is a no-op.
	require.NoError(t, svc.ProcessReport(ctx, rep.ID))
}

func TestQueueModeEnqueueFailureFailsReport(t *testing.T) {
	for name, q := range map[string]queue.Client{
		"no queue":   nil,
		"send error": &recordingQueue{err: errors.New("throttled")},
	} {
		t.Run(name, func(t *testing.T) {
			svc := newTestService(t, nil)
			svc.Mode = ModeQueue
			svc.Queue = q

			rep := upload(t, svc, "doc")
			assert.Equal(t, StatusFailed, rep.Status)
			assert.Equal(t, ErrorCodeStorage, *rep.ErrorCode)
			assert.Nil(t, rep.StartedAt)
		})
	}
}

func TestUploadValidation(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Upload(ctx, UploadInput{PatientID: "p-1", FileName: "notes.txt", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	_, err = svc.Upload(ctx, UploadInput{PatientID: " ", FileName: "scan.pdf", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Upload(ctx, UploadInput{PatientID: "p-1", FileName: "scan.pdf", Body: strings.NewReader("")})
	assert.ErrorIs(t, err, ErrEmptyFile)

	big := io.LimitReader(zeroReader{}, MaxUploadBytes+10)
	_, err = svc.Upload(ctx, UploadInput{PatientID: "p-1", FileName: "scan.pdf", Body: big})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	list, err := svc.ListByPatient(ctx, "p-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list, "rejected uploads must not create records")
}

func TestDeleteRemovesBlob(t *testing.T) {
	svc := newTestService(t, analyzerFunc(func(ctx context.Context, req analysis.Request) (analysis.Outcome, error) {
		return outcome("t", []string{}, nil), nil
	}))
	ctx := context.Background()
	rep := upload(t, svc, "doc")

	body, _, err := svc.OpenFile(ctx, rep.ID)
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	body.Close()
	assert.Equal(t, "doc", string(data))

	require.NoError(t, svc.Delete(ctx, rep.ID))
	_, err = svc.Get(ctx, rep.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "not configured", err: &analysis.OCRError{Err: &ocr.UnavailableError{Provider: "azure"}}, want: ErrorCodeOCRNotConfigured},
		{name: "timeout", err: &analysis.OCRError{Err: ocr.Timeout("azure", context.DeadlineExceeded)}, want: ErrorCodeOCRTimeout},
		{name: "upstream", err: &ocr.UpstreamError{Provider: "azure", Code: "InvalidRequest"}, want: ErrorCodeOCRUpstream},
		{name: "ocr other", err: &analysis.OCRError{Err: errors.New("boom")}, want: ErrorCodeOCRUpstream},
		{name: "queue", err: ErrJobQueueNotConfigured, want: ErrorCodeStorage},
		{name: "storage prefix", err: errors.New("storage: open document x: denied"), want: ErrorCodeStorage},
		{name: "other", err: errors.New("unexpected"), want: ErrorCodeInternal},
		{name: "nil", err: nil, want: ErrorCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyFailure(tt.err))
		})
	}
}

func TestSanitizeError(t *testing.T) {
	assert.Equal(t, "unknown error", sanitizeError(nil))
	assert.Equal(t, "line one line two", sanitizeError(errors.New("line one\nline two")))
	assert.Len(t, sanitizeError(errors.New(strings.Repeat("x", 900))), 500)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
