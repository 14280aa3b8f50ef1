package shipsnet

import (
	"errors"
	"fmt"
	"math/rand"

	omwjson "github.com/sw965/omw/json"
	"gonum.org/v1/gonum/blas/blas32"

	tensor3d "github.com/sw965/shipsnet/blas32/tensor/3d"
	"github.com/sw965/shipsnet/blas32/vector"
)

const (
	Rows             = 80
	Cols             = 80
	Channels         = 3
	PixelsPerChannel = Rows * Cols
	RawLen           = Channels * PixelsPerChannel

	NumClasses = 2
)

var ClassNames = []string{"non-ship", "ship"}

var (
	ErrShape  = errors.New("shipsnet: raw sample has wrong length")
	ErrFormat = errors.New("shipsnet: malformed dataset file")
)

// Decode は長さ19200の画素ベクトルを (3, 80, 80) のテンソルに変換する。
// 先頭から赤・緑・青の6400要素ブロックが順に並び、各ブロックは行優先。
// 値は255で割って[0,1]に正規化される。
// 不変条件: img.Data[ch*6400 + row*80 + col] == raw[ch*6400 + row*80 + col] / 255
func Decode(raw []float32) (tensor3d.General, error) {
	if len(raw) != RawLen {
		return tensor3d.General{}, fmt.Errorf("%w: len=%d, want %d", ErrShape, len(raw), RawLen)
	}
	img := tensor3d.NewZeros(Channels, Rows, Cols)
	for i, v := range raw {
		img.Data[i] = v / 255.0
	}
	return img, nil
}

// OneHot はクラスラベルを長さ2の指示ベクトルに変換する。
func OneHot(label int) (blas32.Vector, error) {
	if label < 0 || label >= NumClasses {
		return blas32.Vector{}, fmt.Errorf("label out of range: %d", label)
	}
	t := vector.NewZeros(NumClasses)
	t.Data[label] = 1.0
	return t, nil
}

func OneHotLabels(labels []int) ([]blas32.Vector, error) {
	ts := make([]blas32.Vector, len(labels))
	for i, label := range labels {
		t, err := OneHot(label)
		if err != nil {
			return nil, fmt.Errorf("labels[%d]: %w", i, err)
		}
		ts[i] = t
	}
	return ts, nil
}

// Dataset は復号済み画像とone-hotラベルの組。生成後は変更しない。
type Dataset struct {
	Images []tensor3d.General
	Labels []blas32.Vector
}

func (ds Dataset) Len() int {
	return len(ds.Images)
}

type file struct {
	Data     [][]float32 `json:"data"`
	Labels   []int       `json:"labels"`
	SceneIDs []string    `json:"scene_ids"`
}

// Load はshipsnetのJSONファイルを一括で読み込み、全サンプルを復号する。
func Load(path string) (Dataset, error) {
	f, err := omwjson.Load[file](path)
	if err != nil {
		return Dataset{}, fmt.Errorf("%w: %s", ErrFormat, err)
	}

	if f.Data == nil || f.Labels == nil {
		return Dataset{}, fmt.Errorf("%w: data/labels field missing", ErrFormat)
	}

	if len(f.Data) != len(f.Labels) {
		return Dataset{}, fmt.Errorf("%w: %d samples but %d labels", ErrFormat, len(f.Data), len(f.Labels))
	}

	imgs := make([]tensor3d.General, len(f.Data))
	for i, raw := range f.Data {
		img, err := Decode(raw)
		if err != nil {
			return Dataset{}, fmt.Errorf("data[%d]: %w", i, err)
		}
		imgs[i] = img
	}

	ts, err := OneHotLabels(f.Labels)
	if err != nil {
		return Dataset{}, err
	}

	return Dataset{Images: imgs, Labels: ts}, nil
}

// Split はデータセットを訓練用とテスト用に分割する。
// rngで順序をシャッフルするので、同じシードなら同じ分割になる。
func Split(ds Dataset, testRatio float64, rng *rand.Rand) (Dataset, Dataset, error) {
	if testRatio <= 0.0 || testRatio >= 1.0 {
		return Dataset{}, Dataset{}, fmt.Errorf("testRatio must be in (0, 1): %f", testRatio)
	}

	n := ds.Len()
	testN := int(float64(n) * testRatio)
	trainN := n - testN

	perm := rng.Perm(n)

	train := Dataset{
		Images: make([]tensor3d.General, 0, trainN),
		Labels: make([]blas32.Vector, 0, trainN),
	}
	test := Dataset{
		Images: make([]tensor3d.General, 0, testN),
		Labels: make([]blas32.Vector, 0, testN),
	}

	for i, idx := range perm {
		if i < trainN {
			train.Images = append(train.Images, ds.Images[idx])
			train.Labels = append(train.Labels, ds.Labels[idx])
		} else {
			test.Images = append(test.Images, ds.Images[idx])
			test.Labels = append(test.Labels, ds.Labels[idx])
		}
	}
	return train, test, nil
}
