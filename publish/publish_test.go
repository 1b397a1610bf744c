package publish

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arXiv/arxiv-sync/identifier"
)

func mustID(t *testing.T, idv string) identifier.ID {
	id, err := identifier.Parse(idv)
	require.NoError(t, err)
	return id
}

func TestParseFile(t *testing.T) {
	p := NewParser("/data/ftp")
	todos, err := p.ParseFile(filepath.Join("testdata", "publish_220201.log"))
	require.NoError(t, err)

	mk := func(subID int, subType SubType, idv string, action Action, item string) Todo {
		return Todo{
			SubID:  subID,
			Type:   subType,
			IDV:    idv,
			Action: action,
			Item:   item,
			ID:     mustID(t, idv),
		}
	}

	expected := []Todo{
		mk(47883, SubNew, "2202.00235v1", ActionUpload, "/data/ftp/arxiv/papers/2202/2202.00235.abs"),
		mk(47883, SubNew, "2202.00235v1", ActionUpload, "/data/ftp/arxiv/papers/2202/2202.00235.gz"),
		mk(47883, SubNew, "2202.00235v1", ActionBuildUpload, "2202.00235v1"),
		mk(47890, SubNew, "2202.00301v1", ActionUpload, "/data/ftp/arxiv/papers/2202/2202.00301.abs"),
		mk(47890, SubNew, "2202.00301v1", ActionUpload, "/data/ftp/arxiv/papers/2202/2202.00301.pdf"),
		mk(47893, SubNew, "2202.00333v1", ActionUpload, "/data/ftp/arxiv/papers/2202/2202.00333.abs"),
		mk(47893, SubNew, "2202.00333v1", ActionUpload, "/data/ftp/arxiv/papers/2202/2202.00333.html.gz"),
		mk(47901, SubReplacement, "2105.04404v3", ActionUpload, "/data/orig/arxiv/papers/2105/2105.04404v2.abs"),
		mk(47901, SubReplacement, "2105.04404v3", ActionUpload, "/data/orig/arxiv/papers/2105/2105.04404v2.gz"),
		mk(47901, SubReplacement, "2105.04404v3", ActionUpload, "/data/ftp/arxiv/papers/2105/2105.04404.abs"),
		mk(47901, SubReplacement, "2105.04404v3", ActionUpload, "/data/ftp/arxiv/papers/2105/2105.04404.gz"),
		mk(47901, SubReplacement, "2105.04404v3", ActionBuildUpload, "2105.04404v3"),
		mk(47911, SubWithdrawal, "2010.01117v2", ActionUpload, "/data/orig/arxiv/papers/2010/2010.01117v1.abs"),
		mk(47911, SubWithdrawal, "2010.01117v2", ActionUpload, "/data/ftp/arxiv/papers/2010/2010.01117.abs"),
		mk(47911, SubWithdrawal, "2010.01117v2", ActionUpload, "/data/ftp/arxiv/papers/2010/2010.01117.gz"),
		mk(47915, SubCross, "hep-ph/0309136", ActionUpload, "/data/ftp/hep-ph/papers/0309/0309136.abs"),
		mk(47920, SubJournalRef, "2104.13039", ActionUpload, "/data/ftp/arxiv/papers/2104/2104.13039.abs"),
		mk(47930, SubNew, "2202.00412v1", ActionUpload, "/data/ftp/arxiv/papers/2202/2202.00412.abs"),
	}
	assert.Equal(t, expected, todos)

	// Test submissions contribute nothing and the trailing unterminated
	// block is dropped, so only eight submissions produce work.
	assert.Equal(t, 8, SubmissionCount(todos))
}

func TestParseFileGzip(t *testing.T) {
	p := NewParser("/data/ftp")
	plain, err := p.ParseFile(filepath.Join("testdata", "publish_220201.log"))
	require.NoError(t, err)
	gzipped, err := p.ParseFile(filepath.Join("testdata", "publish_220201.log.gz"))
	require.NoError(t, err)
	assert.Equal(t, plain, gzipped)
}

func TestParseFileMissing(t *testing.T) {
	p := NewParser("/data/ftp")
	_, err := p.ParseFile(filepath.Join("testdata", "no_such.log"))
	assert.Error(t, err)
}

func TestParseEdgeCases(t *testing.T) {
	p := NewParser("/data/ftp")

	t.Run("EmptyLog", func(t *testing.T) {
		todos, err := p.Parse(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, todos)
	})

	t.Run("NoisyLinesOutsideBlocks", func(t *testing.T) {
		log := strings.Join([]string{
			"2022-02-01 20:00:00 Starting publish cycle",
			"2022-02-01 20:00:01 nothing of interest",
		}, "\n")
		todos, err := p.Parse(strings.NewReader(log))
		require.NoError(t, err)
		assert.Empty(t, todos)
	})

	t.Run("UnclassifiedSubmission", func(t *testing.T) {
		log := strings.Join([]string{
			"2022-02-01 20:02:32 Processing submission 5",
			"2022-02-01 20:02:32 something the parser does not know",
			"2022-02-01 20:02:34 Finished processing submission 5.",
		}, "\n")
		todos, err := p.Parse(strings.NewReader(log))
		require.NoError(t, err)
		assert.Empty(t, todos)
	})

	t.Run("BadIdentifier", func(t *testing.T) {
		log := strings.Join([]string{
			"2022-02-01 20:02:32 Processing submission 5",
			"2022-02-01 20:02:32 new submission",
			"2022-02-01 20:02:32  paper_id: not-an-id",
			"2022-02-01 20:02:34 Finished processing submission 5.",
		}, "\n")
		_, err := p.Parse(strings.NewReader(log))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "submission 5")
	})

	t.Run("MissingSourceKeepsAbs", func(t *testing.T) {
		log := strings.Join([]string{
			"2022-02-01 20:02:32 Processing submission 6",
			"2022-02-01 20:02:32 new submission",
			"2022-02-01 20:02:32  paper_id: 2202.00500",
			"2022-02-01 20:02:33  absfile: /data/ftp/arxiv/papers/2202/2202.00500.abs",
			"2022-02-01 20:02:34 Finished processing submission 6.",
		}, "\n")
		todos, err := p.Parse(strings.NewReader(log))
		require.NoError(t, err)
		require.Len(t, todos, 1)
		assert.Equal(t, ActionUpload, todos[0].Action)
		assert.Equal(t, "/data/ftp/arxiv/papers/2202/2202.00500.abs", todos[0].Item)
	})
}
