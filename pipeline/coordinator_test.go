package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/vitae/ai"
	"github.com/poiesic/vitae/ai/mock"
	"github.com/poiesic/vitae/config"
	"github.com/poiesic/vitae/core"
	"github.com/poiesic/vitae/retrieval"
	"github.com/poiesic/vitae/stage"
	"github.com/poiesic/vitae/storage/badger"
)

const birthService = `
name = "birthfinder"
version = "v2"
namespace = "birth"

[defaults]
max_retries = 1
concurrency = 2

[[stage]]
id = "extract_birth"
purpose = "find birth year"
required = true
query = "date of birth of {{PERSON_NAME}}"
prompt = "Find the birth year of {{PERSON_NAME}} in: {{CHUNK_TEXT}}"

[[stage.field]]
name = "birth_year"
kind = "int"

[[stage.field]]
name = "confidence"
kind = "float"

[stage.consolidate]
dedup_keys = ["birth_year"]
rule = "max_confidence"
corroborate = true
`

const careerService = `
name = "careerfinder"
version = "v1"
namespace = "career"

[defaults]
max_retries = 1
concurrency = 2

[[stage]]
id = "extract_org"
purpose = "find employers"
required = true
query = "career of {{PERSON_NAME}}"
prompt = "List the employer of {{PERSON_NAME}} in: {{CHUNK_TEXT}}"

[[stage.field]]
name = "organization"
kind = "string"
required = true

[stage.consolidate]
dedup_keys = ["organization"]

[[stage]]
id = "enrich_org"
purpose = "classify employers"
input = "records"
required = true
prompt = "Classify the organization {{ORGANIZATION}} of {{PERSON_NAME}}"

[[stage.field]]
name = "org_type"
kind = "string"
required = true

[stage.consolidate]
dedup_keys = ["organization"]
`

// memoryWriter collects appended records for assertions.
type memoryWriter struct {
	mu      sync.Mutex
	records []core.PersonRecord
}

func (w *memoryWriter) Append(record *core.PersonRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, *record)
	return nil
}

func (w *memoryWriter) byPerson(person string) []core.PersonRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []core.PersonRecord
	for _, r := range w.records {
		if r.PersonName == person {
			out = append(out, r)
		}
	}
	return out
}

func (w *memoryWriter) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

// axis returns a unit vector at an angle, so cosine similarities in
// tests are exact and well above the default floor.
func axis(angle float64) []float32 {
	// Small angles only; approximate with a two-component vector.
	return []float32{float32(1 - angle), float32(angle)}
}

func kantChunks() []core.Chunk {
	return []core.Chunk{
		{ChunkID: "k1", PersonName: "Immanuel Kant", SourceURL: "https://en.wikipedia.org/kant",
			Text: "Kant was born in 1724 in Königsberg.", Embedding: axis(0)},
		{ChunkID: "k2", PersonName: "Immanuel Kant", SourceURL: "https://plato.stanford.edu/kant",
			Text: "Immanuel Kant (born 1724) was a philosopher.", Embedding: axis(0.05)},
		{ChunkID: "k3", PersonName: "Immanuel Kant", SourceURL: "https://en.wikipedia.org/kant2",
			Text: "He lectured at the University of Königsberg.", Embedding: axis(0.1)},
	}
}

func testCorpus(t *testing.T, chunks ...core.Chunk) *retrieval.Corpus {
	t.Helper()
	var lines []string
	for _, c := range chunks {
		data, err := json.Marshal(c)
		require.NoError(t, err)
		lines = append(lines, string(data))
	}
	corpus, err := retrieval.ReadCorpus(strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)
	return corpus
}

// queryEmbedder always embeds queries along the first axis, so chunk
// similarity ordering follows the chunk angles.
func queryEmbedder() *mock.MockEmbedder {
	e := mock.NewMockEmbedder()
	e.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return axis(0), nil
	}
	return e
}

func fastExecutor(t *testing.T, completer ai.Completer) *stage.Executor {
	t.Helper()
	exec, err := stage.NewExecutor(completer,
		stage.WithMaxRetries(1),
		stage.WithBaseDelay(time.Millisecond),
		stage.WithTimeout(time.Second))
	require.NoError(t, err)
	return exec
}

func newTestCoordinator(t *testing.T, descriptor string, completer ai.Completer, opts ...Option) (*Coordinator, *memoryWriter) {
	t.Helper()
	svc, err := config.Parse([]byte(descriptor))
	require.NoError(t, err)

	writer := &memoryWriter{}
	coord, err := NewCoordinator(svc, queryEmbedder(), fastExecutor(t, completer), writer, opts...)
	require.NoError(t, err)
	t.Cleanup(coord.Release)
	return coord, writer
}

func TestNewCoordinator_Validation(t *testing.T) {
	svc, err := config.Parse([]byte(birthService))
	require.NoError(t, err)
	completer := mock.NewMockCompleter()

	_, err = NewCoordinator(nil, queryEmbedder(), fastExecutor(t, completer), &memoryWriter{})
	assert.ErrorIs(t, err, ErrServiceRequired)

	_, err = NewCoordinator(svc, nil, fastExecutor(t, completer), &memoryWriter{})
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	_, err = NewCoordinator(svc, queryEmbedder(), nil, &memoryWriter{})
	assert.ErrorIs(t, err, ErrExecutorRequired)

	_, err = NewCoordinator(svc, queryEmbedder(), fastExecutor(t, completer), nil)
	assert.ErrorIs(t, err, ErrWriterRequired)

	_, err = NewCoordinator(svc, queryEmbedder(), fastExecutor(t, completer), &memoryWriter{},
		WithConcurrency(0))
	assert.ErrorIs(t, err, ErrInvalidConcurrency)
}

func TestRun_ConsolidatesAcrossChunks(t *testing.T) {
	completer := mock.NewMockCompleter()
	completer.CompleteFunc = func(ctx context.Context, req ai.Request) (string, error) {
		if strings.Contains(req.Prompt, "1724") {
			return `{"birth_year": 1724, "confidence": 0.9}`, nil
		}
		return `{"birth_year": null}`, nil
	}

	coord, writer := newTestCoordinator(t, birthService, completer)
	report, err := coord.Run(context.Background(), testCorpus(t, kantChunks()...))
	require.NoError(t, err)

	assert.Equal(t, 1, report.People)
	assert.Equal(t, 1, report.Succeeded)

	records := writer.byPerson("Immanuel Kant")
	require.Len(t, records, 1)
	record := records[0]
	assert.Equal(t, core.StatusOK, record.Status)
	assert.Equal(t, coord.RunID(), record.RunID)

	require.Len(t, record.Records, 1)
	fact := record.Records[0]
	assert.Equal(t, 1724, fact.Fields["birth_year"])
	// Both birth chunks cited; their sources corroborate the year.
	assert.Equal(t, []string{"k1", "k2"}, fact.Provenance.ChunkIDs)
	require.NotNil(t, fact.Corroboration)
	assert.Equal(t, core.OutcomeVerified, fact.Corroboration.Outcome)
}

func TestRun_RetryExhaustionRecordsFailureOnce(t *testing.T) {
	completer := mock.NewMockCompleter()
	completer.CompleteFunc = func(ctx context.Context, req ai.Request) (string, error) {
		return "", errors.New("connection refused")
	}

	coord, writer := newTestCoordinator(t, birthService, completer)
	report, err := coord.Run(context.Background(), testCorpus(t, kantChunks()...))
	require.NoError(t, err, "per-person failures must not abort the run")

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Succeeded)

	records := writer.byPerson("Immanuel Kant")
	require.Len(t, records, 1, "a failed person is recorded exactly once")
	assert.Equal(t, core.StatusExtractionFailed, records[0].Status)
	assert.Equal(t, core.FailureTransientCall, records[0].FailureKind)
	assert.NotEmpty(t, records[0].FailureDetail)
	assert.Empty(t, records[0].Records)
}

func TestRun_FailuresAreContainedPerPerson(t *testing.T) {
	chunks := append(kantChunks(), core.Chunk{
		ChunkID: "h1", PersonName: "David Hume",
		SourceURL: "https://en.wikipedia.org/hume",
		Text:      "Hume was born in 1711.", Embedding: axis(0),
	})

	completer := mock.NewMockCompleter()
	completer.CompleteFunc = func(ctx context.Context, req ai.Request) (string, error) {
		if strings.Contains(req.Prompt, "Hume") {
			return "", errors.New("rate limited")
		}
		return `{"birth_year": 1724, "confidence": 0.9}`, nil
	}

	coord, writer := newTestCoordinator(t, birthService, completer)
	report, err := coord.Run(context.Background(), testCorpus(t, chunks...))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, core.StatusOK, writer.byPerson("Immanuel Kant")[0].Status)
	assert.Equal(t, core.StatusExtractionFailed, writer.byPerson("David Hume")[0].Status)
}

func TestRun_FatalConfigAbortsWholeRun(t *testing.T) {
	completer := mock.NewMockCompleter()
	completer.CompleteFunc = func(ctx context.Context, req ai.Request) (string, error) {
		return "", fmt.Errorf("%w: prompt template is defective", core.ErrFatalConfig)
	}

	coord, _ := newTestCoordinator(t, birthService, completer)
	_, err := coord.Run(context.Background(), testCorpus(t, kantChunks()...))
	assert.ErrorIs(t, err, core.ErrFatalConfig)
}

func TestRun_RequiredStageWithNoAssertionsIsNeverDone(t *testing.T) {
	completer := mock.NewMockCompleter()
	completer.Response = `{"birth_year": null}`

	coord, writer := newTestCoordinator(t, birthService, completer)
	report, err := coord.Run(context.Background(), testCorpus(t, kantChunks()...))
	require.NoError(t, err)

	assert.Equal(t, 0, report.Succeeded)
	assert.Equal(t, 1, report.InsufficientEvidence)

	records := writer.byPerson("Immanuel Kant")
	require.Len(t, records, 1)
	assert.Equal(t, core.StatusInsufficientEvidence, records[0].Status)
	assert.Empty(t, records[0].Records)
}

func TestRunPeople_UnknownPersonIsEmptyCorpus(t *testing.T) {
	completer := mock.NewMockCompleter()
	coord, writer := newTestCoordinator(t, birthService, completer)

	corpus := testCorpus(t, kantChunks()...)
	report, err := coord.RunPeople(context.Background(), corpus, []string{"Nobody Known"})
	require.NoError(t, err)

	assert.Equal(t, 1, report.InsufficientEvidence)
	records := writer.byPerson("Nobody Known")
	require.Len(t, records, 1)
	assert.Equal(t, core.StatusInsufficientEvidence, records[0].Status)
	assert.Equal(t, core.FailureEmptyCorpus, records[0].FailureKind)
	assert.Zero(t, completer.CallCount(), "no evidence means no model calls")
}

func TestRun_RecordStageCarriesFieldsAndProvenance(t *testing.T) {
	completer := mock.NewMockCompleter()
	completer.CompleteFunc = func(ctx context.Context, req ai.Request) (string, error) {
		if strings.Contains(req.Prompt, "Classify") {
			require.Contains(t, req.Prompt, "University of Königsberg",
				"record stage prompt must carry the prior stage's field")
			return `{"org_type": "university"}`, nil
		}
		if strings.Contains(req.Prompt, "lectured") {
			return `{"organization": "University of Königsberg"}`, nil
		}
		return `{"organization": "University of Königsberg"}`, nil
	}

	coord, writer := newTestCoordinator(t, careerService, completer)
	report, err := coord.Run(context.Background(), testCorpus(t, kantChunks()...))
	require.NoError(t, err)
	require.Equal(t, 1, report.Succeeded)

	records := writer.byPerson("Immanuel Kant")
	require.Len(t, records, 1)
	require.Len(t, records[0].Records, 1)

	fact := records[0].Records[0]
	// The enrich stage's output merges onto the carried organization,
	// and its provenance is inherited from the extract stage.
	assert.Equal(t, "University of Königsberg", fact.Fields["organization"])
	assert.Equal(t, "university", fact.Fields["org_type"])
	assert.NotEmpty(t, fact.Provenance.ChunkIDs)
}

func TestRun_CancellationStopsWithoutPartialRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	completer := mock.NewMockCompleter()
	completer.CompleteFunc = func(ctx context.Context, req ai.Request) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}

	coord, writer := newTestCoordinator(t, birthService, completer)
	_, err := coord.Run(ctx, testCorpus(t, kantChunks()...))
	require.Error(t, err)
	assert.Zero(t, writer.len(), "a canceled person emits nothing")
}

func TestRun_ResumeSkipsCompletedStages(t *testing.T) {
	repo, err := badger.NewMemoryRunRepository()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	corpus := testCorpus(t, kantChunks()...)

	first := mock.NewMockCompleter()
	first.CompleteFunc = func(ctx context.Context, req ai.Request) (string, error) {
		return `{"birth_year": 1724, "confidence": 0.9}`, nil
	}
	coord, _ := newTestCoordinator(t, birthService, first,
		WithRunID("run-resume"), WithCheckpoints(repo))
	_, err = coord.Run(context.Background(), corpus)
	require.NoError(t, err)

	// A resumed run must not touch the model for completed stages.
	second := mock.NewMockCompleter()
	second.CompleteFunc = func(ctx context.Context, req ai.Request) (string, error) {
		return "", errors.New("model should not be called on resume")
	}
	resumed, writer := newTestCoordinator(t, birthService, second,
		WithRunID("run-resume"), WithCheckpoints(repo))
	report, err := resumed.Run(context.Background(), corpus)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Resumed)
	assert.Zero(t, second.CallCount())

	records := writer.byPerson("Immanuel Kant")
	require.Len(t, records, 1)
	require.Len(t, records[0].Records, 1)
	assert.Equal(t, float64(1724), records[0].Records[0].Fields["birth_year"])
}

func TestRun_ResumeRetriesFailedRequiredStage(t *testing.T) {
	repo, err := badger.NewMemoryRunRepository()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	corpus := testCorpus(t, kantChunks()...)

	// First run: every unit fails, the person is recorded as a failure.
	broken := mock.NewMockCompleter()
	broken.CompleteFunc = func(ctx context.Context, req ai.Request) (string, error) {
		return "", errors.New("connection refused")
	}
	coord, firstWriter := newTestCoordinator(t, birthService, broken,
		WithRunID("run-retry"), WithCheckpoints(repo))
	_, err = coord.Run(context.Background(), corpus)
	require.NoError(t, err)

	firstRecords := firstWriter.byPerson("Immanuel Kant")
	require.Len(t, firstRecords, 1)
	require.Equal(t, core.StatusExtractionFailed, firstRecords[0].Status)

	// Resuming the same run must invoke the model again for the failed
	// stage, not replay the failure as an empty success.
	recovered := mock.NewMockCompleter()
	recovered.CompleteFunc = func(ctx context.Context, req ai.Request) (string, error) {
		return `{"birth_year": 1724, "confidence": 0.9}`, nil
	}
	resumed, writer := newTestCoordinator(t, birthService, recovered,
		WithRunID("run-retry"), WithCheckpoints(repo))
	report, err := resumed.Run(context.Background(), corpus)
	require.NoError(t, err)

	assert.Positive(t, recovered.CallCount(), "failed stage must run again on resume")
	assert.Equal(t, 0, report.Resumed)
	assert.Equal(t, 1, report.Succeeded)

	records := writer.byPerson("Immanuel Kant")
	require.Len(t, records, 1)
	assert.Equal(t, core.StatusOK, records[0].Status)
	require.Len(t, records[0].Records, 1)
	assert.Equal(t, 1724, records[0].Records[0].Fields["birth_year"])
}

func TestRun_ResumeStillFailingStageStaysFailed(t *testing.T) {
	repo, err := badger.NewMemoryRunRepository()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	corpus := testCorpus(t, kantChunks()...)

	broken := mock.NewMockCompleter()
	broken.CompleteFunc = func(ctx context.Context, req ai.Request) (string, error) {
		return "", errors.New("connection refused")
	}
	coord, _ := newTestCoordinator(t, birthService, broken,
		WithRunID("run-still-broken"), WithCheckpoints(repo))
	_, err = coord.Run(context.Background(), corpus)
	require.NoError(t, err)

	stillBroken := mock.NewMockCompleter()
	stillBroken.CompleteFunc = func(ctx context.Context, req ai.Request) (string, error) {
		return "", errors.New("connection refused")
	}
	resumed, writer := newTestCoordinator(t, birthService, stillBroken,
		WithRunID("run-still-broken"), WithCheckpoints(repo))
	report, err := resumed.Run(context.Background(), corpus)
	require.NoError(t, err)

	assert.Positive(t, stillBroken.CallCount())
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Succeeded)

	records := writer.byPerson("Immanuel Kant")
	require.Len(t, records, 1)
	assert.Equal(t, core.StatusExtractionFailed, records[0].Status)
	assert.Equal(t, core.FailureTransientCall, records[0].FailureKind)
	assert.Empty(t, records[0].Records)
}
