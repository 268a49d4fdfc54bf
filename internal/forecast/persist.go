package forecast

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aircast/aircast/internal/models"
)

const artifactName = "model.gob"

// artifact is the on-disk form of a ModelState. Parameters and scaler
// are one unit: a model without its paired transform is invalid.
type artifact struct {
	Family     models.ModelFamily
	Scaler     *Scaler
	Ensemble   *EnsembleModel
	Sequential *SequentialModel
	TrainedAt  time.Time
	SavedAt    time.Time
}

// SaveModel writes the state to dir atomically: encode to a temp file,
// then rename over the previous artifact. A failed save leaves the old
// artifact intact.
func SaveModel(dir string, st *ModelState) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, artifactName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	art := artifact{
		Family:     st.Family,
		Scaler:     st.Scaler,
		Ensemble:   st.Ensemble,
		Sequential: st.Sequential,
		TrainedAt:  st.TrainedAt,
		SavedAt:    time.Now().UTC(),
	}
	if err := gob.NewEncoder(tmp).Encode(art); err != nil {
		tmp.Close()
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(dir, artifactName)); err != nil {
		return fmt.Errorf("replace artifact: %w", err)
	}
	return nil
}

// LoadModel restores the persisted state from dir. Returns (nil, nil)
// when no artifact exists. An artifact missing its scaler or its
// family's parameters is rejected.
func LoadModel(dir string) (*ModelState, error) {
	f, err := os.Open(filepath.Join(dir, artifactName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	var art artifact
	if err := gob.NewDecoder(f).Decode(&art); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}

	if art.Scaler == nil || len(art.Scaler.Mean) == 0 {
		return nil, fmt.Errorf("artifact has no scaling transform")
	}
	switch art.Family {
	case models.FamilySequential:
		if art.Sequential == nil {
			return nil, fmt.Errorf("artifact tagged sequential has no parameters")
		}
	case models.FamilyEnsemble:
		if art.Ensemble == nil {
			return nil, fmt.Errorf("artifact tagged ensemble has no parameters")
		}
	default:
		return nil, fmt.Errorf("artifact has unknown model family %q", art.Family)
	}

	return &ModelState{
		Family:     art.Family,
		Scaler:     art.Scaler,
		Ensemble:   art.Ensemble,
		Sequential: art.Sequential,
		TrainedAt:  art.TrainedAt,
	}, nil
}
