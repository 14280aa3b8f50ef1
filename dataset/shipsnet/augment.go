package shipsnet

import (
	tensor3d "github.com/sw965/shipsnet/blas32/tensor/3d"
	"github.com/sw965/shipsnet/blas32/vector"
)

// Rotations は0/90/180/270度の反時計回り回転を返す。
// 3チャネルまとめて回転するので、チャネル間の幾何変換は常に一致する。
func Rotations(img tensor3d.General) [4]tensor3d.General {
	return [4]tensor3d.General{
		img.Clone(),
		img.Rot90(),
		img.Rot180(),
		img.Rot270(),
	}
}

// Augment は各サンプルを4方向の回転で4倍に水増しする。
// ラベルは4つの回転すべてにそのまま複製される。
// 出力順はサンプル0の4回転、サンプル1の4回転、…となる。
func Augment(ds Dataset) Dataset {
	n := ds.Len()
	augmented := Dataset{
		Images: make([]tensor3d.General, 0, n*4),
		Labels: make([]blas32.Vector, 0, n*4),
	}

	for i, img := range ds.Images {
		rots := Rotations(img)
		for _, rot := range rots[:] {
			augmented.Images = append(augmented.Images, rot)
			augmented.Labels = append(augmented.Labels, vector.Clone(ds.Labels[i]))
		}
	}
	return augmented
}
