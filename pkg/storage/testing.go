package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goclaw/conductor/pkg/definition"
	"github.com/goclaw/conductor/pkg/execution"
)

// StoreTestSuite defines a test suite that can be run against any Store implementation.
type StoreTestSuite struct {
	NewStore func(t *testing.T) Store
}

// RunAllTests runs all store tests against the provided implementation.
func (s *StoreTestSuite) RunAllTests(t *testing.T) {
	t.Run("SaveAssignsID", s.TestSaveAssignsID)
	t.Run("UpdateAndFetch", s.TestUpdateAndFetch)
	t.Run("FetchNotFound", s.TestFetchNotFound)
	t.Run("UpdateNotFound", s.TestUpdateNotFound)
	t.Run("ListWithFilter", s.TestListWithFilter)
	t.Run("ListWithPagination", s.TestListWithPagination)
	t.Run("ReturnedValuesAreDetached", s.TestReturnedValuesAreDetached)
	t.Run("ConcurrentAccess", s.TestConcurrentAccess)
}

func suiteWorkflow(name string) *definition.WorkflowConfig {
	return &definition.WorkflowConfig{
		Name: name,
		Tasks: []definition.TaskConfig{
			{Name: "prepare", TaskReferenceName: "prepare_ref", Type: definition.TaskTypeLocalCall, Function: "noop"},
		},
		ExceptionTask: []definition.TaskConfig{
			{Name: "cleanup", TaskReferenceName: "cleanup_ref", Type: definition.TaskTypeExceptionStep, Function: "noop"},
		},
	}
}

// TestSaveAssignsID tests that Save assigns a fresh execution id.
func (s *StoreTestSuite) TestSaveAssignsID(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	ctx := context.Background()
	c := execution.NewContext(suiteWorkflow("ingest"), "job-1", "user-1", map[string]any{"dataset_id": "ds-1"})

	id, err := store.Save(ctx, c)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty execution id")
	}
	if c.ExecutionID != id {
		t.Errorf("expected context to carry id %s, got %s", id, c.ExecutionID)
	}

	other, err := store.Save(ctx, execution.NewContext(suiteWorkflow("ingest"), "", "", nil))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if other == id {
		t.Error("expected distinct execution ids")
	}

	fetched, err := store.Fetch(ctx, id)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if fetched.JobID != "job-1" || fetched.UserID != "user-1" {
		t.Errorf("unexpected identity fields: %+v", fetched)
	}
	if fetched.WorkflowInput["dataset_id"] != "ds-1" {
		t.Errorf("unexpected workflow input: %v", fetched.WorkflowInput)
	}
}

// TestUpdateAndFetch tests that updates replace the stored record.
func (s *StoreTestSuite) TestUpdateAndFetch(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	ctx := context.Background()
	wf := suiteWorkflow("ingest")
	c := execution.NewContext(wf, "", "", nil)
	id, err := store.Save(ctx, c)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	task := c.EnsureTask(&wf.Tasks[0])
	if err := task.Start(map[string]any{"x": "y"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := task.Complete(map[string]any{"ok": true}, "done"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	c.UpdateCurrentTask(task)
	if err := c.Complete(); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if err := store.Update(ctx, id, c); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	fetched, err := store.Fetch(ctx, id)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if fetched.Status != execution.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", fetched.Status)
	}
	if fetched.EndTime == nil {
		t.Error("expected end time to persist")
	}
	stored, ok := fetched.Tasks["prepare_ref"]
	if !ok {
		t.Fatal("expected task record to persist")
	}
	if stored.Status != execution.StatusCompleted || stored.Message != "done" {
		t.Errorf("unexpected task record: %+v", stored)
	}
	if out, ok := stored.Output.(map[string]any); !ok || out["ok"] != true {
		t.Errorf("unexpected task output: %v", stored.Output)
	}
}

// TestFetchNotFound tests that unknown ids yield NotFoundError.
func (s *StoreTestSuite) TestFetchNotFound(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	_, err := store.Fetch(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

// TestUpdateNotFound tests that updating an unknown id fails.
func (s *StoreTestSuite) TestUpdateNotFound(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	c := execution.NewContext(suiteWorkflow("ingest"), "", "", nil)
	err := store.Update(context.Background(), "missing", c)
	if !IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

// TestListWithFilter tests listing by workflow name and status.
func (s *StoreTestSuite) TestListWithFilter(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	ctx := context.Background()
	seed := []struct {
		workflow string
		finish   func(*execution.Context) error
	}{
		{"ingest", nil},
		{"ingest", func(c *execution.Context) error { return c.Complete() }},
		{"ingest", func(c *execution.Context) error { return c.Fail("boom") }},
		{"export", nil},
	}
	for _, sd := range seed {
		c := execution.NewContext(suiteWorkflow(sd.workflow), "", "", nil)
		if sd.finish != nil {
			if err := sd.finish(c); err != nil {
				t.Fatalf("transition failed: %v", err)
			}
		}
		if _, err := store.Save(ctx, c); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	list, total, err := store.List(ctx, &Filter{WorkflowName: "ingest"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 3 || len(list) != 3 {
		t.Errorf("expected 3 ingest executions, got total=%d len=%d", total, len(list))
	}

	list, total, err = store.List(ctx, &Filter{Status: []execution.Status{execution.StatusRunning}})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2 running executions, got %d", total)
	}
	for _, c := range list {
		if c.Status != execution.StatusRunning {
			t.Errorf("unexpected status %s in filtered results", c.Status)
		}
	}

	_, total, err = store.List(ctx, nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 4 {
		t.Errorf("expected 4 executions, got %d", total)
	}
}

// TestListWithPagination tests Limit and Offset handling.
func (s *StoreTestSuite) TestListWithPagination(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		c := execution.NewContext(suiteWorkflow("ingest"), fmt.Sprintf("job-%d", i), "", nil)
		c.StartTime = c.StartTime.Add(time.Duration(i) * time.Second)
		if _, err := store.Save(ctx, c); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	page, total, err := store.List(ctx, &Filter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
	if page[0].JobID != "job-1" || page[1].JobID != "job-2" {
		t.Errorf("expected start-time order, got %s, %s", page[0].JobID, page[1].JobID)
	}

	page, _, err = store.List(ctx, &Filter{Limit: 10, Offset: 10})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page) != 0 {
		t.Errorf("expected empty page past the end, got %d", len(page))
	}
}

// TestReturnedValuesAreDetached tests that callers cannot mutate stored state.
func (s *StoreTestSuite) TestReturnedValuesAreDetached(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	ctx := context.Background()
	c := execution.NewContext(suiteWorkflow("ingest"), "", "", map[string]any{"k": "v"})
	id, err := store.Save(ctx, c)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	c.WorkflowInput["k"] = "mutated"
	fetched, err := store.Fetch(ctx, id)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if fetched.WorkflowInput["k"] != "v" {
		t.Error("store shares state with the saved value")
	}

	fetched.WorkflowInput["k"] = "mutated"
	again, err := store.Fetch(ctx, id)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if again.WorkflowInput["k"] != "v" {
		t.Error("store shares state with fetched values")
	}
}

// TestConcurrentAccess tests concurrent saves and updates.
func (s *StoreTestSuite) TestConcurrentAccess(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()

	ctx := context.Background()
	const workers = 10

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := execution.NewContext(suiteWorkflow("ingest"), "", "", nil)
			id, err := store.Save(ctx, c)
			if err != nil {
				errs <- err
				return
			}
			if err := c.Complete(); err != nil {
				errs <- err
				return
			}
			if err := store.Update(ctx, id, c); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent operation failed: %v", err)
	}

	_, total, err := store.List(ctx, &Filter{Status: []execution.Status{execution.StatusCompleted}})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != workers {
		t.Errorf("expected %d completed executions, got %d", workers, total)
	}
}
