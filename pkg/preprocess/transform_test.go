package preprocess

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telcovision/churn/pkg/dataset"
	"github.com/telcovision/churn/pkg/errors"
)

func readTable(t *testing.T, csv string) *dataset.Table {
	t.Helper()
	tbl, err := dataset.ReadCSV(strings.NewReader(csv))
	require.NoError(t, err)
	return tbl
}

func value(t *testing.T, tbl *dataset.Table, col string, row int) float64 {
	t.Helper()
	c := tbl.Column(col)
	require.NotNil(t, c, "column %s missing, have %v", col, tbl.Names())
	require.Equal(t, dataset.KindNumeric, c.Kind)
	return c.Numbers[row]
}

func TestTransformScenario(t *testing.T) {
	raw := readTable(t, `CustomerID, Age ,Total_Charges,InternetService,Churn
A1,30,100,DSL,0
A2,40, ,No internet service,1
A3,,300,Fiber optic,1
A4,51,200,No internet service ,0
`)

	out, err := Transform(raw)
	require.NoError(t, err)

	assert.False(t, out.Has("customerid"))
	assert.Equal(t, []string{
		"age", "total_charges",
		"internetservice_Fiber optic", "internetservice_No", "internetservice_nan",
		"churn",
	}, out.Names())
	assert.Equal(t, 4, out.NumRows())

	// blank total charge filled with the median of 100, 300, 200
	assert.Equal(t, 200.0, value(t, out, "total_charges", 1))
	// missing age filled with the truncated median of 30, 40, 51
	assert.Equal(t, 40.0, value(t, out, "age", 2))

	// both no-service spellings collapse into one indicator
	assert.Equal(t, 1.0, value(t, out, "internetservice_No", 1))
	assert.Equal(t, 1.0, value(t, out, "internetservice_No", 3))
	assert.Equal(t, 0.0, value(t, out, "internetservice_No", 0))
	assert.Equal(t, 1.0, value(t, out, "internetservice_Fiber optic", 2))

	assert.Equal(t, 1.0, value(t, out, "churn", 1))
	assert.Equal(t, 0.0, value(t, out, "churn", 0))

	// input untouched
	assert.Equal(t, "CustomerID", raw.Columns[0].Name)
}

func TestTransformSingleRow(t *testing.T) {
	raw := readTable(t, "CustomerID,Age,Total_Charges,InternetService,Churn\nX,33, ,No internet service,1\n")

	out, err := Transform(raw)
	require.NoError(t, err)

	assert.False(t, out.Has("customerid"))
	// no observed total charge: filled with 0
	assert.Equal(t, 0.0, value(t, out, "total_charges", 0))
	assert.Equal(t, 0.0, value(t, out, "internetservice_nan", 0))
	assert.Equal(t, 1.0, value(t, out, "churn", 0))
}

func TestTransformMissingTarget(t *testing.T) {
	raw := readTable(t, "customer_id,age\nA,1\n")

	_, err := Transform(raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingTarget))
	assert.True(t, errors.IsValidation(err))
}

func TestTransformTargetCoercion(t *testing.T) {
	raw := readTable(t, "plan,churn\na,Yes\nb,no\na,\nb,2\na,maybe\nb,TRUE\n")

	out, err := Transform(raw)
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 0, 0, 1, 0, 1}, out.Column("churn").Numbers)
}

func TestTransformMissingCategory(t *testing.T) {
	raw := readTable(t, "contract,churn\nMonthly,1\n,0\nYearly,0\n")

	out, err := Transform(raw)
	require.NoError(t, err)

	assert.Equal(t, []string{"contract_Yearly", "contract_nan", "churn"}, out.Names())
	assert.Equal(t, []float64{0, 1, 0}, out.Column("contract_nan").Numbers)
	assert.Equal(t, []float64{0, 0, 1}, out.Column("contract_Yearly").Numbers)
}

func TestTransformOutputIsNumericAndBinary(t *testing.T) {
	inputs := []string{
		"a,b,churn\nx,1,1\ny,2,0\n",
		"Gender,MonthlyCharges,Churn\nMale,10.5,Yes\nFemale,,No\n,3,\n",
		"customerid,phoneservice,multiplelines,churn\n1,Yes,No phone service,0\n2,No,Yes,5\n",
	}
	for i, in := range inputs {
		out, err := Transform(readTable(t, in))
		require.NoError(t, err, "input %d", i)

		names := out.Names()
		assert.Equal(t, Target, names[len(names)-1])
		for _, c := range out.Columns {
			assert.Equal(t, dataset.KindNumeric, c.Kind, "input %d column %s", i, c.Name)
		}
		for _, v := range out.Column(Target).Numbers {
			assert.Contains(t, []float64{0, 1}, v)
		}
	}
}

func TestTransformIdempotent(t *testing.T) {
	raw := readTable(t, `customerID,Tenure_Months,Total_Charges,Contract,PaymentMethod,Churn
1,1,29.85,Month-to-month,Electronic check,No
2,34,1889.5,One year,Mailed check,No
3,2,,Month-to-month,Mailed check,Yes
4,45,1840.75,One year,Bank transfer,No
`)
	once, err := Transform(raw)
	require.NoError(t, err)

	twice, err := Transform(once)
	require.NoError(t, err)

	// a second pass only lowercases the indicator names
	var lowered []string
	for _, name := range once.Names() {
		lowered = append(lowered, strings.ToLower(name))
	}
	assert.Equal(t, lowered, twice.Names())
	for i, c := range once.Columns {
		assert.Equal(t, c.Numbers, twice.Columns[i].Numbers, c.Name)
	}
}

func TestTransformFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "raw.csv")
	out := filepath.Join(dir, "processed", "out.csv")
	require.NoError(t, os.WriteFile(in, []byte("Age,Churn\n30,1\n40,0\n"), 0o644))

	s, err := TransformFile(in, out)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Rows)
	assert.Equal(t, 0.5, s.ChurnRate)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "age,churn\n30,1\n40,0\n", string(data))

	t.Run("missing input", func(t *testing.T) {
		target := filepath.Join(dir, "never.csv")
		_, err := TransformFile(filepath.Join(dir, "nope.csv"), target)
		assert.True(t, errors.IsNotFound(err))
		assert.NoFileExists(t, target)
	})

	t.Run("missing target writes nothing", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.csv")
		target := filepath.Join(dir, "never.csv")
		require.NoError(t, os.WriteFile(bad, []byte("age\n1\n"), 0o644))
		_, err := TransformFile(bad, target)
		assert.True(t, errors.IsValidation(err))
		assert.NoFileExists(t, target)
	})
}

func TestTransformIndicatorNameClashes(t *testing.T) {
	raw := readTable(t, "plan,plan_Pro_2,churn\nBasic,1,Yes\nPro,2,No\nPRO,3,Yes\nBasic,4,No\nNAN,5,No\n,6,Yes\n")

	out, err := Transform(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"plan_pro_2",
		"plan_NAN_2", "plan_PRO", "plan_Pro_3", "plan_nan",
		"churn",
	}, out.Names())

	assert.Equal(t, []float64{0, 0, 1, 0, 0, 0}, out.Column("plan_PRO").Numbers)
	assert.Equal(t, []float64{0, 1, 0, 0, 0, 0}, out.Column("plan_Pro_3").Numbers)
	assert.Equal(t, []float64{0, 0, 0, 0, 1, 0}, out.Column("plan_NAN_2").Numbers)
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 1}, out.Column("plan_nan").Numbers)

	twice, err := Transform(out)
	require.NoError(t, err, "case-insensitive unique names survive a second pass")
	assert.Equal(t, 6, twice.NumColumns())
}

func TestTransformInfiniteChargesAreImputed(t *testing.T) {
	raw := readTable(t, "age,total_charges,churn\n30,100,0\nInfinity,inf,1\n50,300,0\n")

	out, err := Transform(raw)
	require.NoError(t, err)

	assert.Equal(t, 200.0, value(t, out, "total_charges", 1))
	assert.Equal(t, 40.0, value(t, out, "age", 1))

	// blank cells keep total_charges a text column until coercion
	raw = readTable(t, "total_charges,churn\n100,0\n ,1\n-inf,0\n300,1\n")
	out, err = Transform(raw)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 200, 200, 300}, out.Column("total_charges").Numbers)
}
