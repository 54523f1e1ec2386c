// Package testenv provides the Docker-gated MongoDB environment used by
// Monque's integration tests. It mirrors the repository's original
// Docker-gated test harness: skip by default, opt in via an environment
// variable, collect diagnostics per test into a results directory.
package testenv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/monque/monque/internal/common"
	monquemongo "github.com/monque/monque/internal/storage/mongo"
)

// Env is an isolated MongoDB test environment backed by a standalone
// mongo:7 container. A standalone server does not offer change streams,
// so schedulers under test run on the polling fallback.
type Env struct {
	t          *testing.T
	container  *mongodb.MongoDBContainer
	ctx        context.Context
	cancel     context.CancelFunc
	URI        string
	Database   string
	Collection string
	ResultsDir string
}

// NewEnv starts a MongoDB container unless Docker-gated tests are
// disabled, in which case it skips the test and returns nil.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	if os.Getenv("MONQUE_TEST_DOCKER") != "true" {
		t.Skip("Docker tests disabled (set MONQUE_TEST_DOCKER=true to enable)")
		return nil
	}

	resultsDir := filepath.Join(findProjectRoot(), "tests", "results", t.Name())
	if err := os.MkdirAll(resultsDir, 0755); err != nil {
		t.Fatalf("failed to create results dir: %v", err)
	}

	timeout := 120 * time.Second
	if envTimeout := os.Getenv("MONQUE_TEST_TIMEOUT"); envTimeout != "" {
		if d, err := time.ParseDuration(envTimeout); err == nil {
			timeout = d
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		cancel()
		t.Fatalf("failed to start mongodb container: %v", err)
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Fatalf("failed to get mongodb connection string: %v", err)
	}

	env := &Env{
		t:          t,
		container:  container,
		ctx:        ctx,
		cancel:     cancel,
		URI:        uri,
		Database:   "monque_test",
		Collection: "monque_jobs",
		ResultsDir: resultsDir,
	}

	t.Logf("mongodb container started: %s", uri)
	return env
}

// Cleanup tears down the container.
func (e *Env) Cleanup() {
	if e == nil {
		return
	}
	if e.container != nil {
		if err := e.container.Terminate(e.ctx); err != nil {
			e.t.Logf("warning: failed to terminate mongodb container: %v", err)
		}
	}
	if e.cancel != nil {
		e.cancel()
	}
}

// Context returns the test context.
func (e *Env) Context() context.Context {
	return e.ctx
}

// NewStore connects a fresh monque mongo.Store to this environment's
// database, using its own collection name scoped to the running test so
// parallel tests never interfere.
func (e *Env) NewStore(t *testing.T) *monquemongo.Store {
	t.Helper()
	collection := fmt.Sprintf("%s_%d", e.Collection, time.Now().UnixNano())
	store, err := monquemongo.New(e.ctx, monquemongo.Config{
		URI:        e.URI,
		Database:   e.Database,
		Collection: collection,
	}, common.NewSilentLogger())
	if err != nil {
		t.Fatalf("failed to connect store: %v", err)
	}
	if err := store.EnsureIndexes(e.ctx); err != nil {
		t.Fatalf("failed to ensure indexes: %v", err)
	}
	return store
}

// OutputGuard returns a diagnostic capture helper scoped to this test.
func (e *Env) OutputGuard() *OutputGuard {
	return &OutputGuard{t: e.t, resultsDir: e.ResultsDir}
}

// OutputGuard saves intermediate test phase output to the results
// directory for post-mortem inspection of a failing run.
type OutputGuard struct {
	t          *testing.T
	resultsDir string
}

// SaveResult writes message to name.md under the test's results directory.
func (g *OutputGuard) SaveResult(name, message string) {
	if err := os.MkdirAll(g.resultsDir, 0755); err != nil {
		g.t.Logf("warning: failed to create results dir: %v", err)
		return
	}
	path := filepath.Join(g.resultsDir, name+".md")
	if err := os.WriteFile(path, []byte(message), 0644); err != nil {
		g.t.Logf("warning: failed to save result %s: %v", name, err)
	}
}

func findProjectRoot() string {
	dir, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "."
		}
		dir = parent
	}
}
