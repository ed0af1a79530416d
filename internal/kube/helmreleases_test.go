package kube

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/release"
)

func TestLatestRevisions(t *testing.T) {
	t.Parallel()

	rels := []*release.Release{
		{Name: "web", Namespace: "a", Version: 1},
		{Name: "web", Namespace: "a", Version: 3},
		{Name: "web", Namespace: "b", Version: 2},
		{Name: "api", Namespace: "a", Version: 1},
	}

	got := latestRevisions(rels)
	require.Len(t, got, 3)
	assert.Equal(t, "api", got[0].Name)
	assert.Equal(t, 3, got[1].Version)
	assert.Equal(t, "b", got[2].Namespace)
}

func TestChartString(t *testing.T) {
	t.Parallel()

	rel := &release.Release{Chart: &chart.Chart{Metadata: &chart.Metadata{Name: "nginx", Version: "1.2.3"}}}
	assert.Equal(t, "nginx-1.2.3", chartString(rel))
	assert.Equal(t, "", chartString(&release.Release{}))
	assert.Equal(t, "unknown", releaseStatus(&release.Release{}))
}
