package training

import (
	"math"
	"math/rand"
	"sort"

	"github.com/telcovision/churn/pkg/errors"
)

// Split holds row indices of the train and test partitions.
type Split struct {
	Train []int
	Test  []int
}

// StratifiedSplit partitions rows so every class keeps its share in both
// partitions. The test partition has ceil(testSize*n) rows, allotted to
// classes by largest remainder. The result depends only on y, testSize and seed.
func StratifiedSplit(y []int, testSize float64, seed int64) (*Split, error) {
	n := len(y)
	if testSize <= 0 || testSize >= 1 {
		return nil, errors.Validationf("test_size must be in (0,1), got %v", testSize)
	}
	if n == 0 {
		return nil, errors.Validationf("empty data")
	}

	byClass := make(map[int][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	for c, rows := range byClass {
		if len(rows) < 2 {
			return nil, errors.WithHint(
				errors.Validationf("class %d has a single row; stratified split needs at least 2 per class", c),
				"add more data or merge rare classes",
			)
		}
		classes = append(classes, c)
	}
	sort.Ints(classes)

	nTest := int(math.Ceil(testSize * float64(n)))
	nTrain := n - nTest
	if nTest < len(classes) || nTrain < len(classes) {
		return nil, errors.Validationf(
			"test_size %v gives %d test and %d train rows; both need at least one row per class (%d classes)",
			testSize, nTest, nTrain, len(classes))
	}

	alloc := allocate(classes, byClass, nTest, n)

	rng := rand.New(rand.NewSource(seed))
	s := &Split{}
	for _, c := range classes {
		rows := append([]int(nil), byClass[c]...)
		rng.Shuffle(len(rows), func(i, j int) {
			rows[i], rows[j] = rows[j], rows[i]
		})
		s.Test = append(s.Test, rows[:alloc[c]]...)
		s.Train = append(s.Train, rows[alloc[c]:]...)
	}
	rng.Shuffle(len(s.Train), func(i, j int) {
		s.Train[i], s.Train[j] = s.Train[j], s.Train[i]
	})
	rng.Shuffle(len(s.Test), func(i, j int) {
		s.Test[i], s.Test[j] = s.Test[j], s.Test[i]
	})
	return s, nil
}

// allocate distributes nTest rows over classes in proportion to their size.
// Each class keeps at least one row on either side.
func allocate(classes []int, byClass map[int][]int, nTest, n int) map[int]int {
	type share struct {
		class int
		rem   float64
	}
	alloc := make(map[int]int, len(classes))
	shares := make([]share, 0, len(classes))
	assigned := 0
	for _, c := range classes {
		exact := float64(len(byClass[c])) * float64(nTest) / float64(n)
		k := int(math.Floor(exact))
		k = max(1, min(k, len(byClass[c])-1))
		alloc[c] = k
		assigned += k
		shares = append(shares, share{class: c, rem: exact - math.Floor(exact)})
	}
	sort.SliceStable(shares, func(i, j int) bool {
		return shares[i].rem > shares[j].rem
	})

	for assigned != nTest {
		moved := false
		for _, sh := range shares {
			if assigned == nTest {
				break
			}
			size := len(byClass[sh.class])
			if assigned < nTest && alloc[sh.class] < size-1 {
				alloc[sh.class]++
				assigned++
				moved = true
			} else if assigned > nTest && alloc[sh.class] > 1 {
				alloc[sh.class]--
				assigned--
				moved = true
			}
		}
		if !moved {
			break
		}
	}
	return alloc
}

// Select returns the rows of X and y listed in idx.
func Select(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	outX := make([][]float64, len(idx))
	outY := make([]int, len(idx))
	for i, j := range idx {
		outX[i] = X[j]
		outY[i] = y[j]
	}
	return outX, outY
}
