package tree

import (
	"sort"

	"kexplorer/internal/cluster"
)

type Folder struct {
	Name     string
	Contexts []string
}

// Layout arranges the root of the tree.
type Layout struct {
	Folders      []Folder
	ClusterOrder []string
	Aliases      map[string]string
}

func (l Layout) label(contextName string) string {
	if a, ok := l.Aliases[contextName]; ok && a != "" {
		return a
	}
	return contextName
}

// order sorts names by ClusterOrder, then alphabetically.
func (l Layout) order(names []string) []string {
	rank := make(map[string]int, len(l.ClusterOrder))
	for i, n := range l.ClusterOrder {
		if _, dup := rank[n]; !dup {
			rank[n] = i
		}
	}
	out := append([]string(nil), names...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, oki := rank[out[i]]
		rj, okj := rank[out[j]]
		switch {
		case oki && okj:
			return ri < rj
		case oki != okj:
			return oki
		default:
			return out[i] < out[j]
		}
	})
	return out
}

// arrange splits known contexts into folder members and ungrouped ones.
// A context listed in several folders appears only in the first.
func (l Layout) arrange(contexts []cluster.ClusterContext) (folders []Folder, ungrouped []string) {
	known := make(map[string]bool, len(contexts))
	for _, c := range contexts {
		known[c.Name] = true
	}

	placed := map[string]bool{}
	for _, f := range l.Folders {
		var members []string
		for _, name := range f.Contexts {
			if known[name] && !placed[name] {
				placed[name] = true
				members = append(members, name)
			}
		}
		if len(members) == 0 {
			continue
		}
		folders = append(folders, Folder{Name: f.Name, Contexts: l.order(members)})
	}

	for _, c := range contexts {
		if !placed[c.Name] {
			ungrouped = append(ungrouped, c.Name)
		}
	}
	return folders, l.order(ungrouped)
}
