package predictor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/skyi28/ML-Trader/internal/model"
)

// Artifacts is a key-value source of trained model files.
type Artifacts interface {
	Get(key string) ([]byte, error)
}

// ArtifactKey is the storage key of a bot's trained model.
func ArtifactKey(owner string, botID int64) string {
	return fmt.Sprintf("model/%s/%d", owner, botID)
}

// XGBoost evaluates a gradient boosted tree ensemble exported with
// Booster.get_dump(dump_format="json"). The artifact is either the bare list
// of trees or an object {"base_score": p, "trees": [...]}; trees may be JSON
// objects or JSON-encoded strings.
type XGBoost struct {
	baseMargin float64
	trees      [][]treeNode
	features   int
}

type treeNode struct {
	defined bool
	leaf    bool
	value   float64 // leaf value
	feature int
	cond    float64
	yes     int
	no      int
	missing int
}

// NewXGBoostFactory returns the Factory for KindXGBoost, loading each bot's
// dump from store under ArtifactKey.
func NewXGBoostFactory(store Artifacts) Factory {
	return func(bot model.Bot) (Model, error) {
		key := ArtifactKey(bot.Owner, bot.ID)
		data, err := store.Get(key)
		if err != nil {
			return nil, fmt.Errorf("load artifact %s: %w", key, err)
		}
		return ParseXGBoost(data, bot.Indicators)
	}
}

// ParseXGBoost parses a tree dump. Split features are either "f<i>" or one
// of featureNames.
func ParseXGBoost(data []byte, featureNames []string) (*XGBoost, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("xgboost: artifact is not valid JSON")
	}
	root := gjson.ParseBytes(data)

	base := 0.5
	trees := root
	if !root.IsArray() {
		trees = root.Get("trees")
		if bs := root.Get("base_score"); bs.Exists() {
			base = bs.Float()
		}
	}
	if !trees.IsArray() || len(trees.Array()) == 0 {
		return nil, errors.New("xgboost: no trees in artifact")
	}
	if base <= 0 || base >= 1 {
		return nil, fmt.Errorf("xgboost: base_score %v outside (0, 1)", base)
	}

	names := make(map[string]int, len(featureNames))
	for i, n := range featureNames {
		names[n] = i
	}

	x := &XGBoost{baseMargin: math.Log(base / (1 - base)), features: len(featureNames)}
	for i, t := range trees.Array() {
		if t.Type == gjson.String {
			t = gjson.Parse(t.String())
		}
		nodes := make(map[int]treeNode)
		if err := collect(t, names, nodes); err != nil {
			return nil, fmt.Errorf("xgboost: tree %d: %w", i, err)
		}
		flat, err := flatten(nodes)
		if err != nil {
			return nil, fmt.Errorf("xgboost: tree %d: %w", i, err)
		}
		x.trees = append(x.trees, flat)
	}
	return x, nil
}

func collect(n gjson.Result, names map[string]int, out map[int]treeNode) error {
	id := n.Get("nodeid")
	if !id.Exists() {
		return errors.New("node without nodeid")
	}
	nid := int(id.Int())
	if _, dup := out[nid]; dup {
		return fmt.Errorf("duplicate nodeid %d", nid)
	}

	if leaf := n.Get("leaf"); leaf.Exists() {
		out[nid] = treeNode{defined: true, leaf: true, value: leaf.Float()}
		return nil
	}

	split := n.Get("split").String()
	idx, err := featureIndex(split, names)
	if err != nil {
		return err
	}
	node := treeNode{
		defined: true,
		feature: idx,
		cond:    n.Get("split_condition").Float(),
		yes:     int(n.Get("yes").Int()),
		no:      int(n.Get("no").Int()),
		missing: int(n.Get("missing").Int()),
	}
	if !n.Get("missing").Exists() {
		node.missing = node.yes
	}
	out[nid] = node

	for _, c := range n.Get("children").Array() {
		if err := collect(c, names, out); err != nil {
			return err
		}
	}
	return nil
}

func featureIndex(split string, names map[string]int) (int, error) {
	if i, ok := names[split]; ok {
		return i, nil
	}
	if rest, ok := strings.CutPrefix(split, "f"); ok {
		if i, err := strconv.Atoi(rest); err == nil && i >= 0 {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown split feature %q", split)
}

func flatten(nodes map[int]treeNode) ([]treeNode, error) {
	size := 0
	for id := range nodes {
		if id < 0 {
			return nil, fmt.Errorf("negative nodeid %d", id)
		}
		size = max(size, id+1)
	}
	flat := make([]treeNode, size)
	for id, n := range nodes {
		flat[id] = n
	}
	for id, n := range flat {
		if !n.defined || n.leaf {
			continue
		}
		for _, next := range []int{n.yes, n.no, n.missing} {
			if next < 0 || next >= size || !flat[next].defined {
				return nil, fmt.Errorf("node %d points at missing node %d", id, next)
			}
		}
	}
	if size == 0 || !flat[0].defined {
		return nil, errors.New("missing root node")
	}
	return flat, nil
}

// Margin returns base margin plus the sum of leaf values.
func (x *XGBoost) Margin(features []float64) (float64, error) {
	if x.features > 0 && len(features) != x.features {
		return 0, fmt.Errorf("expected %d features, got %d", x.features, len(features))
	}
	m := x.baseMargin
	for ti, tree := range x.trees {
		v, err := walk(tree, features)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", ti, err)
		}
		m += v
	}
	return m, nil
}

func walk(tree []treeNode, features []float64) (float64, error) {
	id := 0
	for range len(tree) {
		n := tree[id]
		if n.leaf {
			return n.value, nil
		}
		v, err := feature(features, n.feature)
		if err != nil {
			return 0, err
		}
		switch {
		case math.IsNaN(v):
			id = n.missing
		case v < n.cond:
			id = n.yes
		default:
			id = n.no
		}
	}
	return 0, errors.New("tree does not terminate")
}

// Probability returns sigmoid(Margin).
func (x *XGBoost) Probability(features []float64) (float64, error) {
	m, err := x.Margin(features)
	if err != nil {
		return 0, err
	}
	return sigmoid(m), nil
}

func (x *XGBoost) Predict(features []float64) (int, error) {
	p, err := x.Probability(features)
	if err != nil {
		return 0, err
	}
	return boolToInt(p >= 0.5), nil
}

// Trees returns the number of boosted trees.
func (x *XGBoost) Trees() int { return len(x.trees) }
