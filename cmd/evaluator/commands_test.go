package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/evalboard/go-controller/internal/evaluation"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/modelconfig"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/store"
)

func evaluationServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/options", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"architectures":["resnet50","vgg16"],"datasets":["cifar10"],"losses":["categorical_crossentropy"],"optimizers":["adam"]}`))
	})
	mux.HandleFunc("/evaluate", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var m modelconfig.ModelConfig
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model":  m,
			"status": "COMPLETE",
			"result": map[string]interface{}{"test": map[string]float64{"acc": 0.8}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunEvaluatesAndResumes(t *testing.T) {
	var calls atomic.Int32
	srv := evaluationServer(t, &calls)
	db := filepath.Join(t.TempDir(), "evalboard.db")
	flags := []string{"--db", db, "--server", srv.URL, "--log-level", "error"}

	out, err := execute(t, append([]string{"run"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "completed (evaluated=2 skipped=0 transient=0)")
	assert.Equal(t, int32(2), calls.Load())

	out, err = execute(t, append([]string{"run"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "completed (evaluated=0 skipped=2 transient=0)")
	assert.Equal(t, int32(2), calls.Load(), "evaluated configurations are not sent again")

	s, err := store.Open(context.Background(), db, store.Options{})
	require.NoError(t, err)
	defer s.Close()
	records, err := s.Collection("evaluations").GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRunAbortsOnClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/options" {
			_, _ = w.Write([]byte(`{"architectures":["a"],"datasets":["d"],"losses":["l"],"optimizers":["o"]}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	out, err := execute(t, "run", "--db", filepath.Join(t.TempDir(), "x.db"), "--server", srv.URL, "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, out, "aborted")
}

func TestOptionsCommandReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "options.yaml")
	require.NoError(t, os.WriteFile(path, []byte("architectures: [a1, a2]\ndatasets: [d]\nlosses: [l]\noptimizers: [o1, o2]\n"), 0o644))

	out, err := execute(t, "options", "--db", filepath.Join(dir, "x.db"), "--options", path, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "a1/d/l/o1\n")
	assert.Contains(t, out, "4 configurations")
}

func TestDedupeAndPendingWorkWithoutServer(t *testing.T) {
	db := filepath.Join(t.TempDir(), "evalboard.db")
	ctx := context.Background()
	m := modelconfig.ModelConfig{Architecture: "resnet50", Dataset: "cifar10", Loss: "mse", Optimizer: "adam"}

	s, err := store.Open(ctx, db, store.Options{})
	require.NoError(t, err)
	c := s.Collection("evaluations")
	for i := 0; i < 2; i++ {
		_, err := c.InsertOne(ctx, evaluation.Record{Model: m, Status: evaluation.StatusComplete})
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	// nothing listens on port 1
	flags := []string{"--db", db, "--server", "http://127.0.0.1:1", "--log-level", "error"}

	out, err := execute(t, append([]string{"dedupe"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "dedupe run")
	assert.Contains(t, out, "completed")

	out, err = execute(t, append([]string{"pending"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "completed (evaluated=0 skipped=1 transient=0)")

	s, err = store.Open(ctx, db, store.Options{})
	require.NoError(t, err)
	defer s.Close()
	records, err := s.Collection("evaluations").GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestInvalidTransportIsRejected(t *testing.T) {
	_, err := execute(t, "run", "--db", filepath.Join(t.TempDir(), "x.db"), "--transport", "smtp")
	assert.Error(t, err)
}
