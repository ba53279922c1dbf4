package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/serpwatch/pkg/models"
)

func TestLedger_RecordOverwritesProvisional(t *testing.T) {
	l := New()
	task := models.SearchTask{PrimaryTerm: "123", TargetKeywords: []string{"test"}}

	assert.True(t, l.Record(task, 0, "123", "test", models.SessionDied(models.StageScan)))
	assert.True(t, l.Record(task, 0, "123", "test", models.FoundAndClicked(1)))

	r, ok := l.Get("123", "test")
	require.True(t, ok)
	assert.Equal(t, models.FoundAndClicked(1), r)
	assert.Equal(t, 1, l.Len())
}

func TestLedger_FinalEntriesAreNeverOverwritten(t *testing.T) {
	l := New()
	task := models.SearchTask{PrimaryTerm: "123", TargetKeywords: []string{"test"}}

	require.True(t, l.Record(task, 0, "123", "test", models.NotFound(3)))
	assert.False(t, l.Record(task, 0, "123", "test", models.Error(models.StageScan, "late")))
	assert.False(t, l.Record(task, 0, "123", "test", models.Found(1)))

	r, _ := l.Get("123", "test")
	assert.Equal(t, models.NotFound(3), r)
}

func TestLedger_GroupsByTask(t *testing.T) {
	l := New()
	first := models.SearchTask{PrimaryTerm: "a", AuxiliaryTerms: []string{"b", "c"}, TargetKeywords: []string{"k"}}
	second := models.SearchTask{PrimaryTerm: "x", TargetKeywords: []string{"y"}}

	l.Record(second, 1, "x", "y", models.NotFound(5))
	for _, term := range first.Terms() {
		l.Record(first, 0, term, "k", models.Found(2))
	}

	groups := l.Groups()
	require.Len(t, groups, 2)

	assert.Equal(t, "a", groups[0].PrimaryTerm)
	require.Len(t, groups[0].Entries, 3)
	assert.Equal(t, "a", groups[0].Entries[0].Term)
	assert.Equal(t, "c", groups[0].Entries[2].Term)
	assert.Equal(t, "found on page 2", groups[0].Entries[1].Status)

	assert.Equal(t, "x", groups[1].PrimaryTerm)

	snapshot := l.Snapshot()
	assert.Equal(t, "not found within 5 pages", snapshot["x -> y"])
	assert.Len(t, snapshot, 4)
}

func TestLedger_PairSharedByTasksIsListedUnderEach(t *testing.T) {
	l := New()
	first := models.SearchTask{PrimaryTerm: "a", TargetKeywords: []string{"k"}}
	second := models.SearchTask{PrimaryTerm: "b", AuxiliaryTerms: []string{"a"}, TargetKeywords: []string{"k"}}

	require.True(t, l.Record(first, 0, "a", "k", models.NotFound(3)))
	require.True(t, l.Record(second, 1, "b", "k", models.Found(1)))
	// Already final; the pair still belongs to the second task's summary
	assert.False(t, l.Record(second, 1, "a", "k", models.Found(2)))

	assert.Equal(t, 2, l.Len())

	groups := l.Groups()
	require.Len(t, groups, 2)

	require.Len(t, groups[0].Entries, 1)
	assert.Equal(t, "a", groups[0].Entries[0].Term)

	require.Len(t, groups[1].Entries, 2)
	assert.Equal(t, "b", groups[1].Entries[0].Term)
	assert.Equal(t, "a", groups[1].Entries[1].Term)
	assert.Equal(t, 1, groups[1].Entries[1].Task)
	assert.Equal(t, "b", groups[1].Entries[1].PrimaryTerm)
	assert.Equal(t, "not found within 3 pages", groups[1].Entries[1].Status)
}

func TestLedger_KeywordsAreSeparatePairs(t *testing.T) {
	l := New()
	task := models.SearchTask{PrimaryTerm: "a", TargetKeywords: []string{"k1", "k2"}}

	l.Record(task, 0, "a", "k1", models.FoundAndClicked(1))
	l.Record(task, 0, "a", "k2", models.NotFound(5))

	assert.Equal(t, map[string]string{
		"a -> k1": "found and clicked on page 1",
		"a -> k2": "not found within 5 pages",
	}, l.Snapshot())
	require.Len(t, l.Groups(), 1)
	assert.Len(t, l.Groups()[0].Entries, 2)
}
