package tensor3d

import (
	"slices"

	"gonum.org/v1/gonum/blas/blas32"
)

// General はチャネル優先 (CHW) の3次元テンソル。
// Data[At(ch, row, col)] がチャネルchの(row, col)画素。
type General struct {
	Channels      int
	Rows          int
	Cols          int
	ChannelStride int
	RowStride     int
	Data          []float32
}

func NewZeros(chs, rows, cols int) General {
	rowStride := cols
	chStride := rows * rowStride
	n := chs * chStride
	return General{
		Channels:      chs,
		Rows:          rows,
		Cols:          cols,
		ChannelStride: chStride,
		RowStride:     rowStride,
		Data:          make([]float32, n),
	}
}

func NewZerosLike(gen General) General {
	return NewZeros(gen.Channels, gen.Rows, gen.Cols)
}

func NewOnes(chs, rows, cols int) General {
	gen := NewZeros(chs, rows, cols)
	for i := range gen.Data {
		gen.Data[i] = 1.0
	}
	return gen
}

func NewOnesLike(gen General) General {
	return NewOnes(gen.Channels, gen.Rows, gen.Cols)
}

func (g General) N() int {
	return g.Channels * g.Rows * g.Cols
}

func (g General) Clone() General {
	return General{
		Channels:      g.Channels,
		Rows:          g.Rows,
		Cols:          g.Cols,
		ChannelStride: g.ChannelStride,
		RowStride:     g.RowStride,
		Data:          slices.Clone(g.Data),
	}
}

func (g General) At(ch, row, col int) int {
	return ch*g.ChannelStride + row*g.RowStride + col
}

func (g General) ToVector() blas32.Vector {
	return blas32.Vector{
		N:    g.N(),
		Inc:  1,
		Data: g.Data,
	}
}

func (g General) Flatten() blas32.Vector {
	return blas32.Vector{
		N:    g.N(),
		Inc:  1,
		Data: slices.Clone(g.Data),
	}
}

func (g General) Axpy(alpha float32, x General) {
	xv := x.ToVector()
	yv := g.ToVector()
	blas32.Axpy(alpha, xv, yv)
}

// Rot90 は反時計回りに90度回転した新しいテンソルを返す。
// 全チャネルに同一の幾何変換を適用する。4回適用すると元に戻る。
func (g General) Rot90() General {
	dst := NewZeros(g.Channels, g.Cols, g.Rows)
	for ch := 0; ch < g.Channels; ch++ {
		for row := 0; row < dst.Rows; row++ {
			for col := 0; col < dst.Cols; col++ {
				dst.Data[dst.At(ch, row, col)] = g.Data[g.At(ch, col, g.Cols-1-row)]
			}
		}
	}
	return dst
}

func (g General) Rot180() General {
	dst := NewZeros(g.Channels, g.Rows, g.Cols)
	for ch := 0; ch < g.Channels; ch++ {
		for row := 0; row < dst.Rows; row++ {
			for col := 0; col < dst.Cols; col++ {
				dst.Data[dst.At(ch, row, col)] = g.Data[g.At(ch, g.Rows-1-row, g.Cols-1-col)]
			}
		}
	}
	return dst
}

func (g General) Rot270() General {
	dst := NewZeros(g.Channels, g.Cols, g.Rows)
	for ch := 0; ch < g.Channels; ch++ {
		for row := 0; row < dst.Rows; row++ {
			for col := 0; col < dst.Cols; col++ {
				dst.Data[dst.At(ch, row, col)] = g.Data[g.At(ch, g.Rows-1-col, row)]
			}
		}
	}
	return dst
}

//cnn用のメソッド。レシーバーの名前はimgとする。

func (img General) ZeroPadding2D(top, bot, left, right int) General {
	padded := NewZeros(img.Channels, img.Rows+top+bot, img.Cols+left+right)
	for ch := 0; ch < img.Channels; ch++ {
		for row := 0; row < img.Rows; row++ {
			for col := 0; col < img.Cols; col++ {
				oldIdx := img.At(ch, row, col)
				newIdx := padded.At(ch, row+top, col+left)
				padded.Data[newIdx] = img.Data[oldIdx]
			}
		}
	}
	return padded
}

func (img General) SameZeroPadding2D(filterRows, filterCols int) General {
	top := (filterRows - 1) / 2
	bot := filterRows - 1 - top
	left := (filterCols - 1) / 2
	right := filterCols - 1 - left
	return img.ZeroPadding2D(top, bot, left, right)
}

// Unpad2D は ZeroPadding2D の逆変換。
func (img General) Unpad2D(top, bot, left, right int) General {
	cropped := NewZeros(img.Channels, img.Rows-top-bot, img.Cols-left-right)
	for ch := 0; ch < cropped.Channels; ch++ {
		for row := 0; row < cropped.Rows; row++ {
			for col := 0; col < cropped.Cols; col++ {
				oldIdx := img.At(ch, row+top, col+left)
				newIdx := cropped.At(ch, row, col)
				cropped.Data[newIdx] = img.Data[oldIdx]
			}
		}
	}
	return cropped
}

func (img General) ConvOutputRows(filterRows int) int {
	return img.Rows - filterRows + 1
}

func (img General) ConvOutputCols(filterCols int) int {
	return img.Cols - filterCols + 1
}

func (img General) ToCol(filterRows, filterCols int) blas32.General {
	chs := img.Channels
	outRows := img.ConvOutputRows(filterRows)
	outCols := img.ConvOutputCols(filterCols)
	imgData := img.Data
	newData := make([]float32, outRows*outCols*chs*filterRows*filterCols)
	newIdx := 0

	for or := 0; or < outRows; or++ {
		for oc := 0; oc < outCols; oc++ {
			for ch := 0; ch < chs; ch++ {
				for fr := 0; fr < filterRows; fr++ {
					for fc := 0; fc < filterCols; fc++ {
						row := fr + or
						col := fc + oc
						imgIdx := img.At(ch, row, col)
						newData[newIdx] = imgData[imgIdx]
						newIdx++
					}
				}
			}
		}
	}

	newCols := filterRows * filterCols * chs
	return blas32.General{
		Rows:   outRows * outCols,
		Cols:   newCols,
		Stride: newCols,
		Data:   newData,
	}
}
