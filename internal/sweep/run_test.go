package sweep

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/austindbirch/task_sweeper/internal/config"
	"github.com/austindbirch/task_sweeper/internal/logging"
	"github.com/austindbirch/task_sweeper/internal/metrics"
	"github.com/austindbirch/task_sweeper/internal/store"
	"github.com/austindbirch/task_sweeper/internal/store/storetest"
	"github.com/austindbirch/task_sweeper/internal/task"
)

func testConfig(table string) config.Config {
	return config.Config{
		AppName: "task-sweeper-test",
		Store:   config.Store{TableName: table, Region: "us-east-1"},
		Sweep:   config.Sweep{UpdateConcurrency: 1, CallTimeout: time.Second},
	}
}

// fakeConnect wires a storetest.FakeAPI through the real DynamoStore.
func fakeConnect(api *storetest.FakeAPI, calls *int) ConnectFunc {
	return func(_ context.Context, cfg config.Config) (Store, error) {
		*calls++
		return store.New(api, cfg.Store.TableName,
			store.WithPageSize(cfg.Sweep.PageSize),
			store.WithCallTimeout(cfg.Sweep.CallTimeout),
		), nil
	}
}

func fixedClock(sec int64) Option {
	return WithClock(func() time.Time { return time.Unix(sec, 0) })
}

func TestRun_MissingTableName(t *testing.T) {
	for _, table := range []string{"", "   "} {
		t.Run("table="+strings.TrimSpace(table), func(t *testing.T) {
			api := storetest.NewFakeAPI(task.Task{TaskID: "A", ScheduledTime: 1})
			var connects int
			var buf bytes.Buffer
			logger := logging.NewWithWriter("test", &buf, logging.LevelDebug)
			before := testutil.ToFloat64(metrics.SweepsTotal.WithLabelValues("config_error"))

			res, err := Run(context.Background(), testConfig(table), fakeConnect(api, &connects), logger)

			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("Run() error = %v, want *ConfigError", err)
			}
			if !errors.Is(err, config.ErrMissingTableName) {
				t.Errorf("errors.Is(err, ErrMissingTableName) = false")
			}
			if res != nil {
				t.Errorf("Run() result = %+v, want nil", res)
			}
			if connects != 0 {
				t.Errorf("connect calls = %d, want 0", connects)
			}
			if api.ScanCalls != 0 || api.UpdateCalls != 0 {
				t.Errorf("store calls scan=%d update=%d, want 0", api.ScanCalls, api.UpdateCalls)
			}
			if !strings.Contains(buf.String(), `"level":"error"`) {
				t.Errorf("expected an error log, got %s", buf.String())
			}
			after := testutil.ToFloat64(metrics.SweepsTotal.WithLabelValues("config_error"))
			if after-before != 1 {
				t.Errorf("config_error sweeps delta = %v, want 1", after-before)
			}
		})
	}
}

func TestRun_ConnectFailure(t *testing.T) {
	cause := errors.New("no credentials")
	connect := func(context.Context, config.Config) (Store, error) { return nil, cause }

	_, err := Run(context.Background(), testConfig("tasks"), connect, logging.Nop())

	var qerr *QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("Run() error = %v, want *QueryError", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false")
	}
}

func TestRun_ExampleScenario(t *testing.T) {
	api := storetest.NewFakeAPI(
		task.Task{TaskID: "A", ScheduledTime: 100, Status: "PENDING"},
		task.Task{TaskID: "B", ScheduledTime: 99999999999, Status: "PENDING"},
	)
	var connects int

	res, err := Run(context.Background(), testConfig("tasks"), fakeConnect(api, &connects), logging.Nop(), fixedClock(200))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if connects != 1 {
		t.Errorf("connect calls = %d, want 1", connects)
	}
	if api.UpdateCalls != 1 {
		t.Errorf("UpdateItem calls = %d, want 1", api.UpdateCalls)
	}
	if len(api.UpdatedIDs) != 1 || api.UpdatedIDs[0] != "A" {
		t.Errorf("updated ids = %v, want [A]", api.UpdatedIDs)
	}
	a, _ := api.Get("A")
	b, _ := api.Get("B")
	if a.Status != task.StatusCompleted {
		t.Errorf("A.Status = %q, want COMPLETED", a.Status)
	}
	if b.Status != "PENDING" {
		t.Errorf("B.Status = %q, want PENDING", b.Status)
	}
	if res.Matched != 1 || res.Completed != 1 {
		t.Errorf("Matched/Completed = %d/%d, want 1/1", res.Matched, res.Completed)
	}
}

func TestRun_PaginatedTable(t *testing.T) {
	var seed []task.Task
	for i := 0; i < 25; i++ {
		seed = append(seed, task.Task{TaskID: string(rune('a' + i)), ScheduledTime: int64(i * 10)})
	}
	api := storetest.NewFakeAPI(seed...)
	cfg := testConfig("tasks")
	cfg.Sweep.PageSize = 4
	cfg.Sweep.UpdateConcurrency = 3
	var connects int

	res, err := Run(context.Background(), cfg, fakeConnect(api, &connects), logging.Nop(), fixedClock(120))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// scheduled_time 0..120 step 10 -> 13 due records across several pages
	if res.Matched != 13 {
		t.Errorf("Matched = %d, want 13", res.Matched)
	}
	if api.ScanCalls < 2 {
		t.Errorf("Scan calls = %d, want several pages", api.ScanCalls)
	}
	for _, s := range seed {
		got, _ := api.Get(s.TaskID)
		want := ""
		if s.DueAt(120) {
			want = task.StatusCompleted
		}
		if got.Status != want {
			t.Errorf("%s (due %d) Status = %q, want %q", s.TaskID, s.ScheduledTime, got.Status, want)
		}
	}
}

func TestRun_QueryFailure(t *testing.T) {
	api := storetest.NewFakeAPI(
		task.Task{TaskID: "A", ScheduledTime: 1},
		task.Task{TaskID: "B", ScheduledTime: 2},
	)
	api.ScanErr = errors.New("throttled")
	var connects int
	var buf bytes.Buffer
	logger := logging.NewWithWriter("test", &buf, logging.LevelDebug)
	before := testutil.ToFloat64(metrics.SweepsTotal.WithLabelValues("query_error"))

	_, err := Run(context.Background(), testConfig("tasks"), fakeConnect(api, &connects), logger, fixedClock(200))

	var qerr *QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("Run() error = %v, want *QueryError", err)
	}
	if api.UpdateCalls != 0 {
		t.Errorf("UpdateItem calls = %d, want 0", api.UpdateCalls)
	}
	if !strings.Contains(buf.String(), "Error querying for overdue tasks") {
		t.Errorf("expected query error log, got %s", buf.String())
	}
	after := testutil.ToFloat64(metrics.SweepsTotal.WithLabelValues("query_error"))
	if after-before != 1 {
		t.Errorf("query_error sweeps delta = %v, want 1", after-before)
	}
}

func TestRun_PartialFailure(t *testing.T) {
	api := storetest.NewFakeAPI(
		task.Task{TaskID: "A", ScheduledTime: 1},
		task.Task{TaskID: "B", ScheduledTime: 2},
		task.Task{TaskID: "C", ScheduledTime: 3},
	)
	api.UpdateErrs["B"] = errors.New("write failed")
	var connects int
	var buf bytes.Buffer
	logger := logging.NewWithWriter("test", &buf, logging.LevelInfo)
	before := testutil.ToFloat64(metrics.SweepsTotal.WithLabelValues("partial"))

	res, err := Run(context.Background(), testConfig("tasks"), fakeConnect(api, &connects), logger, fixedClock(200))
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for item failures", err)
	}
	if res.Completed != 2 || len(res.Failures) != 1 || res.Failures[0].TaskID != "B" {
		t.Errorf("Result = %+v, want 2 completed and B failed", res)
	}
	for _, id := range []string{"A", "C"} {
		got, _ := api.Get(id)
		if got.Status != task.StatusCompleted {
			t.Errorf("%s.Status = %q, want COMPLETED", id, got.Status)
		}
	}
	if !strings.Contains(buf.String(), "Sweep finished with 1 failed updates") {
		t.Errorf("expected summary warning, got %s", buf.String())
	}
	after := testutil.ToFloat64(metrics.SweepsTotal.WithLabelValues("partial"))
	if after-before != 1 {
		t.Errorf("partial sweeps delta = %v, want 1", after-before)
	}
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	api := storetest.NewFakeAPI(
		task.Task{TaskID: "A", ScheduledTime: 1},
		task.Task{TaskID: "B", ScheduledTime: 5000},
	)
	var connects int
	cfg := testConfig("tasks")

	for i := 0; i < 2; i++ {
		if _, err := Run(context.Background(), cfg, fakeConnect(api, &connects), logging.Nop(), fixedClock(200)); err != nil {
			t.Fatalf("Run() #%d error = %v", i+1, err)
		}
	}
	if connects != 2 {
		t.Errorf("connect calls = %d, want one per invocation", connects)
	}
	a, _ := api.Get("A")
	b, _ := api.Get("B")
	if a.Status != task.StatusCompleted || b.Status != "" {
		t.Errorf("statuses A=%q B=%q, want COMPLETED and empty", a.Status, b.Status)
	}
	if api.Len() != 2 {
		t.Errorf("record count = %d, want 2", api.Len())
	}
}

func TestRun_MalformedDueRecordIsIsolated(t *testing.T) {
	api := storetest.NewFakeAPI(
		task.Task{TaskID: "A", ScheduledTime: 100, Status: "PENDING"},
		task.Task{TaskID: "D", ScheduledTime: 150},
		task.Task{TaskID: "future", ScheduledTime: 99999999999, Status: "PENDING"},
	)
	api.PutItem(map[string]types.AttributeValue{
		task.AttrTaskID:        &types.AttributeValueMemberS{Value: "B"},
		task.AttrScheduledTime: &types.AttributeValueMemberN{Value: "100.5"},
	})
	api.PutItem(map[string]types.AttributeValue{
		task.AttrTaskID:        &types.AttributeValueMemberS{Value: "C"},
		task.AttrScheduledTime: &types.AttributeValueMemberN{Value: "120"},
		task.AttrStatus:        &types.AttributeValueMemberBOOL{Value: false},
	})
	var connects int

	res, err := Run(context.Background(), testConfig("tasks"), fakeConnect(api, &connects), logging.Nop(), fixedClock(200))
	if err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if res.Matched != 4 || res.Completed != 4 || len(res.Failures) != 0 {
		t.Errorf("Matched/Completed/Failed = %d/%d/%d, want 4/4/0", res.Matched, res.Completed, len(res.Failures))
	}
	for _, id := range []string{"A", "B", "C", "D"} {
		if got, _ := api.Status(id); got != task.StatusCompleted {
			t.Errorf("%s status = %q, want COMPLETED", id, got)
		}
	}
	if got, _ := api.Status("future"); got != "PENDING" {
		t.Errorf("future status = %q, want PENDING", got)
	}
}
