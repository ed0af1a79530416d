package kube

import (
	"context"
	"sort"

	"helm.sh/helm/v3/pkg/release"
	"helm.sh/helm/v3/pkg/storage"
	"helm.sh/helm/v3/pkg/storage/driver"

	"kexplorer/internal/cluster"
	"kexplorer/internal/kube/dto"
)

func helmSecretStorage(c *cluster.Clients, namespace string) *storage.Storage {
	d := driver.NewSecrets(c.Clientset.CoreV1().Secrets(namespace))
	store := storage.Init(d)
	store.Log = func(_ string, _ ...interface{}) {}
	return store
}

func chartString(rel *release.Release) string {
	if rel.Chart == nil || rel.Chart.Metadata == nil {
		return ""
	}
	m := rel.Chart.Metadata
	if m.Version != "" {
		return m.Name + "-" + m.Version
	}
	return m.Name
}

func releaseStatus(rel *release.Release) string {
	if rel.Info == nil {
		return "unknown"
	}
	return rel.Info.Status.String()
}

func releaseUpdated(rel *release.Release) int64 {
	if rel.Info == nil || rel.Info.LastDeployed.IsZero() {
		return 0
	}
	return rel.Info.LastDeployed.Unix()
}

type releaseKey struct{ namespace, name string }

// latestRevisions keeps the newest revision of each release.
func latestRevisions(releases []*release.Release) []*release.Release {
	latest := make(map[releaseKey]*release.Release)
	for _, r := range releases {
		k := releaseKey{r.Namespace, r.Name}
		if cur, ok := latest[k]; !ok || r.Version > cur.Version {
			latest[k] = r
		}
	}
	out := make([]*release.Release, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ListHelmReleases reads release records from the Helm secrets driver. An
// empty namespace lists every namespace.
func ListHelmReleases(_ context.Context, c *cluster.Clients, namespace string) ([]dto.HelmReleaseDTO, error) {
	releases, err := helmSecretStorage(c, namespace).ListReleases()
	if err != nil {
		return nil, Classify(err)
	}

	latest := latestRevisions(releases)
	out := make([]dto.HelmReleaseDTO, 0, len(latest))
	for _, rel := range latest {
		d := dto.HelmReleaseDTO{
			Name:      rel.Name,
			Namespace: rel.Namespace,
			Status:    releaseStatus(rel),
			Revision:  rel.Version,
			Chart:     chartString(rel),
			Updated:   releaseUpdated(rel),
		}
		if d.Namespace == "" {
			d.Namespace = namespace
		}
		if rel.Chart != nil && rel.Chart.Metadata != nil {
			d.ChartVersion = rel.Chart.Metadata.Version
			d.AppVersion = rel.Chart.Metadata.AppVersion
		}
		out = append(out, d)
	}
	return out, nil
}
