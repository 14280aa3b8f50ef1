package vis

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	tensor3d "github.com/sw965/shipsnet/blas32/tensor/3d"
)

func clampUint8(v float32) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v + 0.5) // 四捨五入
	}
}

// SavePNG は[0,1]に正規化されたCHWテンソルをPNGとして保存する。
func SavePNG(img tensor3d.General, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rect := image.Rect(0, 0, img.Cols, img.Rows)

	switch img.Channels {
	case 1:
		dst := image.NewGray(rect)
		for y := 0; y < img.Rows; y++ {
			for x := 0; x < img.Cols; x++ {
				v := clampUint8(img.Data[img.At(0, y, x)] * 255.0)
				dst.SetGray(x, y, color.Gray{Y: v})
			}
		}
		return png.Encode(f, dst)

	case 3:
		dst := image.NewRGBA(rect)
		for y := 0; y < img.Rows; y++ {
			for x := 0; x < img.Cols; x++ {
				r := clampUint8(img.Data[img.At(0, y, x)] * 255.0)
				g := clampUint8(img.Data[img.At(1, y, x)] * 255.0)
				b := clampUint8(img.Data[img.At(2, y, x)] * 255.0)
				dst.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
			}
		}
		return png.Encode(f, dst)

	default:
		return fmt.Errorf("unsupported channel count: %d", img.Channels)
	}
}

func toXYs(ys []float32) plotter.XYs {
	xys := make(plotter.XYs, len(ys))
	for i, y := range ys {
		xys[i].X = float64(i + 1)
		xys[i].Y = float64(y)
	}
	return xys
}

// SaveLearningCurve はエポック毎の損失と精度を1枚の折れ線グラフに保存する。
func SaveLearningCurve(path string, losses, accuracies []float32) error {
	if len(losses) != len(accuracies) {
		return fmt.Errorf("len(losses)=%d, len(accuracies)=%d", len(losses), len(accuracies))
	}

	p := plot.New()
	p.Title.Text = "learning curve"
	p.X.Label.Text = "epoch"
	p.Y.Min = 0

	err := plotutil.AddLinePoints(p,
		"train loss", toXYs(losses),
		"test accuracy", toXYs(accuracies),
	)
	if err != nil {
		return err
	}

	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}
