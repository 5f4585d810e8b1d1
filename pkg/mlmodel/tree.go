package mlmodel

import (
	"math/rand"
	"sort"
)

// TreeNode is one node of a flattened decision tree. Leaves have Left == -1.
type TreeNode struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	// Distribution is the class frequency of the training rows reaching the node.
	Distribution []float64
	Samples      int
}

// DecisionTree is a CART classification tree grown on gini impurity
type DecisionTree struct {
	Nodes []TreeNode
	// Importances is the total weighted impurity decrease per feature,
	// normalised to sum to one.
	Importances []float64
}

type treeGrower struct {
	X               [][]float64
	y               []int
	nClasses        int
	nFeatures       int
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int
	rng             *rand.Rand
	totalSamples    float64

	tree *DecisionTree
}

// growTree fits a tree on the rows listed in samples. Class labels in y
// are dense indices below nClasses.
func growTree(X [][]float64, y []int, samples []int, nClasses int, p treeParams, rng *rand.Rand) *DecisionTree {
	g := &treeGrower{
		X:               X,
		y:               y,
		nClasses:        nClasses,
		nFeatures:       len(X[0]),
		maxDepth:        p.maxDepth,
		minSamplesSplit: p.minSamplesSplit,
		minSamplesLeaf:  p.minSamplesLeaf,
		maxFeatures:     p.maxFeatures,
		rng:             rng,
		totalSamples:    float64(len(samples)),
		tree:            &DecisionTree{Importances: make([]float64, len(X[0]))},
	}
	g.build(samples, 0)

	total := 0.0
	for _, v := range g.tree.Importances {
		total += v
	}
	if total > 0 {
		for i := range g.tree.Importances {
			g.tree.Importances[i] /= total
		}
	}
	return g.tree
}

type treeParams struct {
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int
}

func (g *treeGrower) counts(samples []int) []float64 {
	c := make([]float64, g.nClasses)
	for _, s := range samples {
		c[g.y[s]]++
	}
	return c
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	impurity := 1.0
	for _, c := range counts {
		p := c / n
		impurity -= p * p
	}
	return impurity
}

// build grows the subtree for samples and returns its node index.
func (g *treeGrower) build(samples []int, depth int) int {
	counts := g.counts(samples)
	n := float64(len(samples))
	impurity := gini(counts, n)

	dist := make([]float64, len(counts))
	for i, c := range counts {
		dist[i] = c / n
	}

	id := len(g.tree.Nodes)
	g.tree.Nodes = append(g.tree.Nodes, TreeNode{Left: -1, Right: -1, Distribution: dist, Samples: len(samples)})

	if impurity == 0 ||
		len(samples) < g.minSamplesSplit ||
		len(samples) < 2*g.minSamplesLeaf ||
		(g.maxDepth > 0 && depth >= g.maxDepth) {
		return id
	}

	feature, threshold, childImpurity, ok := g.bestSplit(samples, counts)
	if !ok {
		return id
	}

	var left, right []int
	for _, s := range samples {
		if g.X[s][feature] <= threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}

	g.tree.Importances[feature] += n / g.totalSamples * (impurity - childImpurity)

	l := g.build(left, depth+1)
	r := g.build(right, depth+1)

	node := &g.tree.Nodes[id]
	node.Feature = feature
	node.Threshold = threshold
	node.Left = l
	node.Right = r
	return id
}

// bestSplit scans a random subset of features for the threshold with the
// lowest weighted child impurity. Thresholds sit midway between adjacent
// distinct values.
func (g *treeGrower) bestSplit(samples []int, parent []float64) (feature int, threshold, impurity float64, ok bool) {
	n := float64(len(samples))
	bestImpurity := gini(parent, n)

	candidates := g.rng.Perm(g.nFeatures)[:g.maxFeatures]
	sorted := make([]int, len(samples))
	left := make([]float64, g.nClasses)
	right := make([]float64, g.nClasses)

	for _, f := range candidates {
		copy(sorted, samples)
		sort.SliceStable(sorted, func(a, b int) bool {
			return g.X[sorted[a]][f] < g.X[sorted[b]][f]
		})

		for k := range left {
			left[k] = 0
			right[k] = parent[k]
		}

		for i := 0; i < len(sorted)-1; i++ {
			c := g.y[sorted[i]]
			left[c]++
			right[c]--

			v, next := g.X[sorted[i]][f], g.X[sorted[i+1]][f]
			if v == next {
				continue
			}
			nl := float64(i + 1)
			nr := n - nl
			if int(nl) < g.minSamplesLeaf || int(nr) < g.minSamplesLeaf {
				continue
			}

			weighted := (nl*gini(left, nl) + nr*gini(right, nr)) / n
			if weighted < bestImpurity-1e-12 {
				bestImpurity = weighted
				feature = f
				threshold = v + (next-v)/2
				if threshold >= next {
					threshold = v
				}
				ok = true
			}
		}
	}
	return feature, threshold, bestImpurity, ok
}

// leaf returns the class distribution of the leaf x falls into.
func (t *DecisionTree) leaf(x []float64) []float64 {
	i := 0
	for {
		node := &t.Nodes[i]
		if node.Left < 0 {
			return node.Distribution
		}
		if x[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}

// Depth returns the longest root-to-leaf path length.
func (t *DecisionTree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		node := t.Nodes[i]
		if node.Left < 0 {
			return 0
		}
		l, r := walk(node.Left), walk(node.Right)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return walk(0)
}
