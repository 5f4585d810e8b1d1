package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/wcharczuk/go-chart"

	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/metrics"
	"github.com/telcovision/churn/pkg/mlmodel"
)

// Plot file names under the plots directory.
const (
	ConfusionMatrixPlot   = "confusion_matrix.png"
	ROCCurvePlot          = "roc_curve.png"
	PRCurvePlot           = "precision_recall_curve.png"
	FeatureImportancePlot = "feature_importance.png"
)

// TopFeatures is the number of features drawn in the importance chart.
const TopFeatures = 15

const (
	plotWidth  = 1024
	plotHeight = 720
	barWidth   = 60
	barSpacing = 40
)

type renderable interface {
	Render(rp chart.RendererProvider, w io.Writer) error
}

// renderPNG writes a chart to path, creating the parent directory.
func renderPNG(path string, c renderable) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := c.Render(chart.PNG, f); err != nil {
		f.Close()
		return errors.Wrapf(err, "render %s", path)
	}
	return f.Close()
}

// cellLabel names a confusion matrix cell. Binary matrices use the usual
// TN/FP/FN/TP names.
func cellLabel(actual, predicted string, binary bool) string {
	if binary {
		pos := fmt.Sprint(metrics.PositiveClass)
		switch {
		case actual == pos && predicted == pos:
			return "TP"
		case actual == pos:
			return "FN"
		case predicted == pos:
			return "FP"
		default:
			return "TN"
		}
	}
	return fmt.Sprintf("%s->%s", actual, predicted)
}

func confusionMatrixChart(r *metrics.ClassificationReport) chart.BarChart {
	cm := r.ConfusionMatrix()
	binary := len(r.Labels) == 2
	var bars []chart.Value
	top := 1.0
	for i, actual := range r.Labels {
		for _, predicted := range r.Labels {
			n := float64(cm[actual][predicted])
			if n > top {
				top = n
			}
			color := chart.ColorRed
			if actual == predicted {
				color = chart.ColorBlue
			}
			bars = append(bars, chart.Value{
				Label: fmt.Sprintf("%s (%d)", cellLabel(actual, predicted, binary), int(n)),
				Value: n,
				Style: chart.Style{Show: true, FillColor: color, StrokeColor: chart.GetAlternateColor(i)},
			})
		}
	}
	return barChart("Confusion Matrix (actual vs predicted)", bars, top)
}

func featureImportanceChart(fi []mlmodel.FeatureImportance) chart.BarChart {
	n := min(TopFeatures, len(fi))
	bars := make([]chart.Value, 0, n)
	top := 0.0
	for _, f := range fi[:n] {
		if f.Importance > top {
			top = f.Importance
		}
		bars = append(bars, chart.Value{Label: f.Feature, Value: f.Importance})
	}
	if top == 0 {
		top = 1
	}
	return barChart(fmt.Sprintf("Top %d Features by Importance", n), bars, top)
}

func barChart(title string, bars []chart.Value, top float64) chart.BarChart {
	width := plotWidth
	if w := len(bars)*(barWidth+barSpacing) + 200; w > width {
		width = w
	}
	return chart.BarChart{
		Title:      title,
		TitleStyle: chart.StyleShow(),
		Width:      width,
		Height:     plotHeight,
		BarWidth:   barWidth,
		BarSpacing: barSpacing,
		Background: chart.Style{
			Padding: chart.Box{
				Top: 40,
			},
		},
		XAxis: chart.StyleShow(),
		YAxis: chart.YAxis{
			Style: chart.StyleShow(),
			Range: &chart.ContinuousRange{Min: 0, Max: top * 1.1},
		},
		Bars: bars,
	}
}

func rocChart(roc *metrics.ROC) chart.Chart {
	graph := curveChart("ROC Curve - Churn Prediction", "False Positive Rate", "True Positive Rate")
	graph.Series = []chart.Series{
		chart.ContinuousSeries{
			Name:    fmt.Sprintf("ROC Curve (AUC = %.4f)", roc.AUC),
			XValues: roc.FPR,
			YValues: roc.TPR,
			Style: chart.Style{
				Show:        true,
				StrokeColor: chart.ColorBlue,
				StrokeWidth: 2.5,
			},
		},
		chart.ContinuousSeries{
			Name:    "Random Classifier",
			XValues: []float64{0, 1},
			YValues: []float64{0, 1},
			Style: chart.Style{
				Show:            true,
				StrokeColor:     chart.ColorRed,
				StrokeDashArray: []float64{5.0, 5.0},
			},
		},
	}
	graph.Elements = []chart.Renderable{
		chart.Legend(&graph),
	}
	return graph
}

func prChart(pr *metrics.PR) chart.Chart {
	graph := curveChart("Precision-Recall Curve", "Recall", "Precision")
	graph.Series = []chart.Series{
		chart.ContinuousSeries{
			Name:    fmt.Sprintf("PR Curve (AP = %.4f)", pr.AveragePrecision),
			XValues: pr.Recall,
			YValues: pr.Precision,
			Style: chart.Style{
				Show:        true,
				StrokeColor: chart.ColorBlue,
				StrokeWidth: 2.5,
			},
		},
	}
	graph.Elements = []chart.Renderable{
		chart.Legend(&graph),
	}
	return graph
}

// curveChart is a unit-square chart shared by the ROC and PR plots.
func curveChart(title, xName, yName string) chart.Chart {
	return chart.Chart{
		Title:      title,
		TitleStyle: chart.StyleShow(),
		Width:      plotWidth,
		Height:     plotHeight,
		Background: chart.Style{
			Padding: chart.Box{
				Top:  40,
				Left: 20,
			},
		},
		XAxis: chart.XAxis{
			Name:      xName,
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
			Range:     &chart.ContinuousRange{Min: 0, Max: 1},
		},
		YAxis: chart.YAxis{
			Name:      yName,
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
			Range:     &chart.ContinuousRange{Min: 0, Max: 1.05},
		},
	}
}
