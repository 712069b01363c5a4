package pipeline

import (
	"sort"
	"sync"

	"github.com/askiada/cgemflow/pkg/pipeline/input"
)

// Artifact is a set of files produced by one invocation of a stage under a
// logical output name. Paths point into the invocation working directory and
// are never modified once the artifact exists.
type Artifact struct {
	Stage string
	Name  string
	Key   string
	// Item is nil for a stage that is not replicated.
	Item  *input.FileHandle
	Paths []string
}

type artifactStore struct {
	mu      sync.RWMutex
	byStage map[string][]*Artifact
}

func newArtifactStore() *artifactStore {
	return &artifactStore{
		byStage: make(map[string][]*Artifact),
	}
}

func (s *artifactStore) add(art *Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byStage[art.Stage] = append(s.byStage[art.Stage], art)
}

// get returns the artifacts of a stage output, sorted by invocation key.
func (s *artifactStore) get(stage, output string) []*Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*Artifact{}
	for _, art := range s.byStage[stage] {
		if art.Name == output {
			out = append(out, art)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key < out[j].Key
	})

	return out
}

func (s *artifactStore) all(order []string) []*Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*Artifact{}
	for _, stage := range order {
		arts := append([]*Artifact(nil), s.byStage[stage]...)
		sort.Slice(arts, func(i, j int) bool {
			if arts[i].Name != arts[j].Name {
				return arts[i].Name < arts[j].Name
			}
			return arts[i].Key < arts[j].Key
		})
		out = append(out, arts...)
	}

	return out
}
