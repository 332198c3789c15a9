package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/austindbirch/task_sweeper/internal/config"
	"github.com/austindbirch/task_sweeper/internal/logging"
	"github.com/austindbirch/task_sweeper/internal/metrics"
	"github.com/austindbirch/task_sweeper/internal/store"
	"github.com/austindbirch/task_sweeper/internal/store/storetest"
	"github.com/austindbirch/task_sweeper/internal/sweep"
	"github.com/austindbirch/task_sweeper/internal/task"
)

func TestKVFields(t *testing.T) {
	tests := []struct {
		name string
		kv   []interface{}
		want map[string]any
	}{
		{name: "pairs", kv: []interface{}{"entry", 1, "next", "soon"}, want: map[string]any{"entry": 1, "next": "soon"}},
		{name: "odd length drops tail", kv: []interface{}{"entry", 1, "dangling"}, want: map[string]any{"entry": 1}},
		{name: "non-string key skipped", kv: []interface{}{42, "x", "k", "v"}, want: map[string]any{"k": "v"}},
		{name: "empty", kv: nil, want: map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := kvFields(tt.kv)
			if len(got) != len(tt.want) {
				t.Fatalf("kvFields() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("kvFields()[%q] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	var cl cron.Logger = cronLogger{logger: logging.NewWithWriter("test", &buf, logging.LevelDebug)}

	cl.Info("wake", "now", "t0")
	cl.Error(errors.New("boom"), "panic", "job", "sweep")

	out := buf.String()
	for _, want := range []string{`"msg":"cron: wake"`, `"msg":"cron: panic"`, `"error":"boom"`, `"level":"error"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestSweepJob(t *testing.T) {
	api := storetest.NewFakeAPI(
		task.Task{TaskID: "A", ScheduledTime: 100},
		task.Task{TaskID: "B", ScheduledTime: time.Now().Add(time.Hour).Unix()},
	)
	cfg := config.Config{
		Store: config.Store{TableName: "tasks"},
		Sweep: config.Sweep{UpdateConcurrency: 2},
	}
	connects := 0
	connect := func(_ context.Context, cfg config.Config) (sweep.Store, error) {
		connects++
		return store.New(api, cfg.Store.TableName), nil
	}

	job := newSweepJob(context.Background(), cfg, connect, logging.Nop())
	job()
	job()

	if connects != 2 {
		t.Errorf("connect calls = %d, want one per tick", connects)
	}
	a, _ := api.Get("A")
	b, _ := api.Get("B")
	if a.Status != task.StatusCompleted {
		t.Errorf("A.Status = %q, want COMPLETED", a.Status)
	}
	if b.Status != "" {
		t.Errorf("B.Status = %q, want untouched", b.Status)
	}
}

func TestNewMux(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	metrics.RecordSweep("ok", 0, time.Millisecond)

	api := storetest.NewFakeAPI()
	srv := httptest.NewServer(newMux(reg, store.New(api, "tasks"), "tasks"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), "tasksweeper_sweeps_total") {
		t.Errorf("/metrics missing tasksweeper_sweeps_total")
	}
}
