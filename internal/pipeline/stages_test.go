package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rmacedo/reportflow/internal/config"
	"github.com/rmacedo/reportflow/internal/scraper"
	"github.com/rmacedo/reportflow/internal/transform"
)

// --- fakes ---------------------------------------------------------------

type scriptedConnector struct {
	results []bool
	message string
	calls   int
	block   chan struct{} // when non-nil, ConnectWithFallback never returns
}

func (c *scriptedConnector) ConnectWithFallback() (bool, string) {
	if c.block != nil {
		<-c.block
	}
	i := c.calls
	c.calls++
	if i >= len(c.results) {
		i = len(c.results) - 1
	}
	if i < 0 {
		return true, c.message
	}
	return c.results[i], c.message
}

type panickyConnector struct{}

func (panickyConnector) ConnectWithFallback() (bool, string) {
	panic("connector exploded")
}

type fakeSession struct {
	outcome scraper.Outcome
	err     error
	panics  bool
	execs   int
	closes  int
}

func (s *fakeSession) Execute(context.Context) (scraper.Outcome, error) {
	s.execs++
	if s.panics {
		panic("scrape workflow crashed")
	}
	return s.outcome, s.err
}

func (s *fakeSession) Close() { s.closes++ }

type fakeTransformer struct {
	result transform.Result
	calls  int
	paths  []string
}

func (t *fakeTransformer) Process(path string) transform.Result {
	t.calls++
	t.paths = append(t.paths, path)
	return t.result
}

type fakeDB struct {
	exists    bool
	existsErr error
	createErr error
	insertErr error

	ops      []string
	inserted int64
	closes   int
}

func (d *fakeDB) TableExists(_ context.Context, _ string) (bool, error) {
	d.ops = append(d.ops, "exists")
	return d.exists, d.existsErr
}

func (d *fakeDB) CreateTableFromDataset(_ context.Context, _ *transform.Dataset, _ string) error {
	d.ops = append(d.ops, "create")
	return d.createErr
}

func (d *fakeDB) BulkInsert(_ context.Context, ds *transform.Dataset, _ string) (int64, error) {
	d.ops = append(d.ops, "insert")
	if d.insertErr != nil {
		return 0, d.insertErr
	}
	d.inserted = int64(ds.NumRows())
	return d.inserted, nil
}

func (d *fakeDB) Close() { d.closes++ }

type harness struct {
	orch      *Orchestrator
	connector *scriptedConnector
	session   *fakeSession
	transf    *fakeTransformer
	database  *fakeDB
	dbOpens   int
	sleeps    []time.Duration
	removed   []string
	removeErr error
}

func datasetOfRows(n int) *transform.Dataset {
	ds := &transform.Dataset{
		Columns: []transform.Column{
			{Name: "dt_ref", Kind: transform.KindDate},
			{Name: "status", Kind: transform.KindText},
		},
	}
	for i := 0; i < n; i++ {
		ds.Rows = append(ds.Rows, []any{"2026-03-09", "ABERTO"})
	}
	return ds
}

func newHarness() *harness {
	h := &harness{
		connector: &scriptedConnector{message: "connected via gw-a"},
		session: &fakeSession{
			outcome: scraper.Outcome{Success: true, ArtifactPath: "report.xlsx"},
		},
		transf: &fakeTransformer{
			result: transform.Result{Success: true, Message: "ok", Dataset: datasetOfRows(5)},
		},
		database: &fakeDB{},
	}

	cfg := &config.Config{
		VPN: config.VPNConfig{
			Gateways:      []string{"gw-a"},
			DialCommand:   "vpncli",
			ProbeURL:      "https://portal.example.com/health",
			SwitchTimeout: 20 * time.Millisecond,
		},
		Database:   config.DatabaseConfig{URL: "postgres://x", Table: "tickets"},
		MaxRetries: 3,
		RetryDelay: 10 * time.Second,
	}

	h.orch = &Orchestrator{
		cfg:         cfg,
		connector:   h.connector,
		sessions:    func() ScrapeSession { return h.session },
		transformer: h.transf,
		connectDB: func(context.Context) (Database, error) {
			h.dbOpens++
			return h.database, nil
		},
		logger:    zap.NewNop(),
		vpnMargin: 30 * time.Millisecond,
		sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		},
		removeFile: func(path string) error {
			h.removed = append(h.removed, path)
			return h.removeErr
		},
	}
	return h
}

// --- VPN adapter ---------------------------------------------------------

func TestConnectVPN_Success(t *testing.T) {
	h := newHarness()
	assert.True(t, h.orch.connectVPN(zap.NewNop()))
	assert.Equal(t, 1, h.connector.calls)
}

func TestConnectVPN_ExplicitFalseOnConnectorFailure(t *testing.T) {
	h := newHarness()
	h.connector.results = []bool{false}
	assert.False(t, h.orch.connectVPN(zap.NewNop()))
}

func TestConnectVPN_TimeoutAbandonsWorker(t *testing.T) {
	h := newHarness()
	h.connector.block = make(chan struct{})
	defer close(h.connector.block)

	start := time.Now()
	ok := h.orch.connectVPN(zap.NewNop())
	elapsed := time.Since(start)

	assert.False(t, ok)
	// Deadline is SwitchTimeout + margin = 50ms; allow scheduler slack.
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestConnectVPN_PanickingConnector(t *testing.T) {
	h := newHarness()
	h.orch.connector = panickyConnector{}
	assert.False(t, h.orch.connectVPN(zap.NewNop()))
}

// --- Extraction adapter --------------------------------------------------

func TestExtract_ClosesSessionOnSuccess(t *testing.T) {
	h := newHarness()
	out, err := h.orch.extract(context.Background(), zap.NewNop())
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 1, h.session.closes)
}

func TestExtract_ClosesSessionOnError(t *testing.T) {
	h := newHarness()
	h.session.outcome = scraper.Outcome{}
	h.session.err = errors.New("browser crashed")

	_, err := h.orch.extract(context.Background(), zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, 1, h.session.closes)
}

func TestExtract_ClosesSessionOnPanic(t *testing.T) {
	h := newHarness()
	h.session.panics = true

	func() {
		defer func() { _ = recover() }()
		_, _ = h.orch.extract(context.Background(), zap.NewNop())
	}()

	assert.Equal(t, 1, h.session.closes)
}

// --- Load stage ----------------------------------------------------------

func TestLoad_TransformFailureSkipsPersist(t *testing.T) {
	h := newHarness()
	h.transf.result = transform.Result{Success: false, Message: "corrupt file"}

	ok := h.orch.load(context.Background(), zap.NewNop(), "report.xlsx")

	assert.False(t, ok)
	assert.Zero(t, h.dbOpens, "persist phase must not start")
	assert.Empty(t, h.removed)
}

func TestLoad_CreatesMissingTableBeforeInsert(t *testing.T) {
	h := newHarness()
	h.database.exists = false

	ok := h.orch.load(context.Background(), zap.NewNop(), "report.xlsx")

	assert.True(t, ok)
	assert.Equal(t, []string{"exists", "create", "insert"}, h.database.ops)
	assert.Equal(t, 1, h.database.closes)
}

func TestLoad_SkipsCreateWhenTableExists(t *testing.T) {
	h := newHarness()
	h.database.exists = true

	ok := h.orch.load(context.Background(), zap.NewNop(), "report.xlsx")

	assert.True(t, ok)
	assert.Equal(t, []string{"exists", "insert"}, h.database.ops)
}

func TestLoad_InsertFailureKeepsArtifact(t *testing.T) {
	h := newHarness()
	h.database.insertErr = errors.New("deadlock")

	ok := h.orch.load(context.Background(), zap.NewNop(), "report.xlsx")

	assert.False(t, ok)
	assert.Empty(t, h.removed, "artifact must survive a failed insert")
	assert.Equal(t, 1, h.database.closes, "connection released on failure")
}

func TestLoad_CreateFailureKeepsArtifact(t *testing.T) {
	h := newHarness()
	h.database.createErr = errors.New("permission denied")

	ok := h.orch.load(context.Background(), zap.NewNop(), "report.xlsx")

	assert.False(t, ok)
	assert.NotContains(t, h.database.ops, "insert")
	assert.Empty(t, h.removed)
}

func TestLoad_DeleteFailureDoesNotFailLoad(t *testing.T) {
	h := newHarness()
	h.removeErr = errors.New("file busy")

	ok := h.orch.load(context.Background(), zap.NewNop(), "report.xlsx")

	assert.True(t, ok, "committed load stands even if cleanup fails")
}

func TestLoad_DeletesArtifactAfterCommit(t *testing.T) {
	h := newHarness()

	ok := h.orch.load(context.Background(), zap.NewNop(), "report.xlsx")

	assert.True(t, ok)
	assert.Equal(t, []string{"report.xlsx"}, h.removed)
}
