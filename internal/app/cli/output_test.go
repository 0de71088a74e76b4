package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/jinford/resume-matcher/internal/core/ingestion"
	"github.com/jinford/resume-matcher/internal/core/profile"
	"github.com/stretchr/testify/assert"
)

func TestPrintBatchResult(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	batch := &ingestion.BatchResult{
		Root:       "/data/resumes",
		Discovered: 3,
		Imported:   1,
		Failed:     1,
		Items: []ingestion.ImportResult{
			{SourcePath: "/data/resumes/a.txt", Status: ingestion.StatusImported},
			{SourcePath: "/data/resumes/b.bin", Status: ingestion.StatusFailed, Reason: "unsupported format"},
		},
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	}

	var buf bytes.Buffer
	printBatchResult(&buf, batch)
	out := buf.String()
	assert.Contains(t, out, "/data/resumes/b.bin: unsupported format")
	assert.Contains(t, out, "1.5s")
	assert.NotContains(t, out, "削除")
}

func TestPrintRemovalResult(t *testing.T) {
	var buf bytes.Buffer
	printRemovalResult(&buf, profile.RemovalResult{Groups: 1, RemovedIDs: []int64{2, 3}, KeptIDs: []int64{1}, DryRun: true}, profile.KeepOldest)
	assert.Contains(t, buf.String(), "ドライラン")
	assert.Contains(t, buf.String(), "[2 3]")

	buf.Reset()
	printRemovalResult(&buf, profile.RemovalResult{}, profile.KeepNewest)
	assert.Contains(t, buf.String(), "重複はありません")
}

func TestPrintDuplicateGroups(t *testing.T) {
	var buf bytes.Buffer
	printDuplicateGroups(&buf, []profile.DuplicateGroup{{
		ContentHash: "abc",
		Members: []profile.DuplicateMember{
			{ID: 1, SourcePath: "/cv/1.txt"},
			{ID: 2, SourcePath: "/cv/2.txt"},
		},
	}})
	assert.Contains(t, buf.String(), "1 グループ、余剰 1 件")
}
