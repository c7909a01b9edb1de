package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/internal/coordinator"
	"github.com/taskmesh/taskmesh/pkg/models"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	recs := []*coordinator.Record{
		{TaskID: "t1", Success: true, Strategy: models.StrategySingleAgent,
			Result: "done", Quality: &models.Evaluation{OverallScore: 0.9},
			Duration: 2 * time.Second, TokensUsed: 100},
		{TaskID: "t2", Success: false, Strategy: models.StrategyOrchestrator,
			Error: "below threshold", RetryCount: 3, Duration: 5 * time.Second},
	}
	for _, rec := range recs {
		if err := j.Record(ctx, rec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	entries, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	// Newest first.
	if entries[0].TaskID != "t2" || entries[1].TaskID != "t1" {
		t.Errorf("order = [%s %s], want [t2 t1]", entries[0].TaskID, entries[1].TaskID)
	}

	first := entries[1]
	if !first.Success || first.Result != "done" || first.TokensUsed != 100 {
		t.Errorf("entry = %+v", first)
	}
	if first.QualityScore == nil || *first.QualityScore != 0.9 {
		t.Errorf("QualityScore = %v, want 0.9", first.QualityScore)
	}
	if first.Duration != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", first.Duration)
	}

	second := entries[0]
	if second.Success || second.RetryCount != 3 || second.Error != "below threshold" {
		t.Errorf("entry = %+v", second)
	}
	if second.QualityScore != nil {
		t.Errorf("QualityScore = %v, want nil for record without evaluation", second.QualityScore)
	}
}

func TestRecent_Limit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		j.Record(ctx, &coordinator.Record{TaskID: "t", Success: true})
	}

	entries, err := j.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("got %d entries, want 3", len(entries))
	}
}

func TestSummarize(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	j.Record(ctx, &coordinator.Record{TaskID: "a", Success: true,
		Quality: &models.Evaluation{OverallScore: 0.8}, TokensUsed: 50})
	j.Record(ctx, &coordinator.Record{TaskID: "b", Success: false,
		Quality: &models.Evaluation{OverallScore: 0.4}, TokensUsed: 30})

	s, err := j.Summarize(ctx)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if s.TotalExecutions != 2 || s.Successes != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.AvgQualityScore < 0.599 || s.AvgQualityScore > 0.601 {
		t.Errorf("AvgQualityScore = %v, want 0.6", s.AvgQualityScore)
	}
	if s.TotalTokensUsed != 80 {
		t.Errorf("TotalTokensUsed = %d, want 80", s.TotalTokensUsed)
	}
}

func TestSummarize_Empty(t *testing.T) {
	j := openTestJournal(t)
	s, err := j.Summarize(context.Background())
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if s.TotalExecutions != 0 {
		t.Errorf("summary = %+v", s)
	}
}

func TestPurge(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	j.Record(ctx, &coordinator.Record{TaskID: "old", Success: true})

	// Nothing is older than an hour yet.
	n, err := j.Purge(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if n != 0 {
		t.Errorf("purged %d, want 0", n)
	}

	// A zero cutoff removes everything recorded before now.
	n, err = j.Purge(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
}
