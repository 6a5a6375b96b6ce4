// Package model wraps the pre-trained leak classifier. The offline
// trainer exports three artifacts: a gradient-boosted tree ensemble as
// a JSON dump, the fitted standard scaler as JSON mean/scale arrays,
// and an optional metadata document carrying the model version.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/ldpj/backend/internal/config"
)

// Error kinds for the inference adapter.
var (
	ErrModelLoad    = errors.New("model: load failed")
	ErrModelPredict = errors.New("model: predict failed")
)

// Result is one classification outcome. Label 0 means leak, 1 means ok,
// -1 means the model was unavailable.
type Result struct {
	Label       int     `json:"label"`
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`
}

// Unavailable is the result synthesized when no model is loaded.
func Unavailable() Result { return Result{Label: -1} }

// treeNode is one node of a boosted tree. Leaf nodes carry only Leaf;
// split nodes compare feature < threshold and branch left on true.
type treeNode struct {
	Feature   int      `json:"feature"`
	Threshold float64  `json:"threshold"`
	Left      int      `json:"left"`
	Right     int      `json:"right"`
	Leaf      *float64 `json:"leaf,omitempty"`
}

type tree struct {
	Nodes []treeNode `json:"nodes"`
}

type ensemble struct {
	NumFeatures int     `json:"num_features"`
	BaseScore   float64 `json:"base_score"`
	Trees       []tree  `json:"trees"`
}

type scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

type metadata struct {
	Version string `json:"version"`
}

// Classifier is the opaque handle over ensemble plus scaler. Load and
// Predict may be called from the processing loop while the health
// checker reads Loaded, so access is guarded.
type Classifier struct {
	mu       sync.RWMutex
	ensemble ensemble
	scaler   scaler
	version  string
	loaded   bool
	logger   *log.Logger

	modelPath  string
	scalerPath string
}

// NewClassifier creates an unloaded classifier from the models config.
// Relative artifact paths resolve against baseDir.
func NewClassifier(cfg config.ModelsConfig, baseDir string) *Classifier {
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	return &Classifier{
		modelPath:  resolve(cfg.Current.ModelPath),
		scalerPath: resolve(cfg.Current.ScalerPath),
		version:    cfg.Current.Version,
		logger:     log.New(log.Writer(), "[MODEL] ", log.LstdFlags),
	}
}

// Loaded reports whether both artifacts were loaded successfully.
func (c *Classifier) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Version returns the model version string.
func (c *Classifier) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Load reads the ensemble and scaler artifacts. On any failure the
// classifier stays (or becomes) not loaded.
func (c *Classifier) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false

	var ens ensemble
	if err := readJSON(c.modelPath, &ens); err != nil {
		return fmt.Errorf("%w: model %s: %v", ErrModelLoad, c.modelPath, err)
	}
	if ens.NumFeatures <= 0 || len(ens.Trees) == 0 {
		return fmt.Errorf("%w: model %s: empty ensemble", ErrModelLoad, c.modelPath)
	}

	var sc scaler
	if err := readJSON(c.scalerPath, &sc); err != nil {
		return fmt.Errorf("%w: scaler %s: %v", ErrModelLoad, c.scalerPath, err)
	}
	if len(sc.Mean) != ens.NumFeatures || len(sc.Scale) != ens.NumFeatures {
		return fmt.Errorf("%w: scaler %s: dimension mismatch (model=%d, mean=%d, scale=%d)",
			ErrModelLoad, c.scalerPath, ens.NumFeatures, len(sc.Mean), len(sc.Scale))
	}

	// Optional metadata next to the model overrides the configured version.
	var meta metadata
	if err := readJSON(filepath.Join(filepath.Dir(c.modelPath), "metadata.json"), &meta); err == nil && meta.Version != "" {
		c.version = meta.Version
	}

	c.ensemble = ens
	c.scaler = sc
	c.loaded = true
	c.logger.Printf("model loaded: version=%s trees=%d features=%d",
		c.version, len(ens.Trees), ens.NumFeatures)
	return nil
}

// Predict scales the vector, scores it through the ensemble and
// classifies against threshold: probability >= threshold means label 1
// (ok). The reported probability is rounded to 6 decimals.
func (c *Classifier) Predict(vector []float64, threshold float64) (Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.loaded {
		return Result{}, fmt.Errorf("%w: model not loaded", ErrModelPredict)
	}
	if len(vector) != c.ensemble.NumFeatures {
		return Result{}, fmt.Errorf("%w: expected %d features, got %d",
			ErrModelPredict, c.ensemble.NumFeatures, len(vector))
	}

	scaled := make([]float64, len(vector))
	for i, v := range vector {
		s := c.scaler.Scale[i]
		if s == 0 {
			s = 1
		}
		scaled[i] = (v - c.scaler.Mean[i]) / s
	}

	margin := logit(c.ensemble.BaseScore)
	for ti := range c.ensemble.Trees {
		leaf, err := c.ensemble.Trees[ti].score(scaled)
		if err != nil {
			return Result{}, fmt.Errorf("%w: tree %d: %v", ErrModelPredict, ti, err)
		}
		margin += leaf
	}
	prob := sigmoid(margin)

	label := 0
	if prob >= threshold {
		label = 1
	}
	confidence := prob
	if label == 0 {
		confidence = 1 - prob
	}

	return Result{
		Label:       label,
		Probability: round6(prob),
		Confidence:  round6(confidence),
	}, nil
}

// score walks the tree from the root to a leaf.
func (t *tree) score(x []float64) (float64, error) {
	idx := 0
	for steps := 0; steps <= len(t.Nodes); steps++ {
		if idx < 0 || idx >= len(t.Nodes) {
			return 0, fmt.Errorf("node index %d out of range", idx)
		}
		node := t.Nodes[idx]
		if node.Leaf != nil {
			return *node.Leaf, nil
		}
		if node.Feature < 0 || node.Feature >= len(x) {
			return 0, fmt.Errorf("split feature %d out of range", node.Feature)
		}
		if x[node.Feature] < node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
	}
	return 0, errors.New("tree walk did not terminate")
}

func readJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// logit converts the base score from probability to margin space,
// clamped away from 0 and 1.
func logit(p float64) float64 {
	const eps = 1e-7
	if p < eps {
		p = eps
	}
	if p > 1-eps {
		p = 1 - eps
	}
	return math.Log(p / (1 - p))
}

func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
