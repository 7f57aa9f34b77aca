package service

import (
	"bytes"
	"image"
	"testing"

	"github.com/absconder01/facefilter/config"
	"github.com/absconder01/facefilter/model"
	"gocv.io/x/gocv"
)

var (
	skinBGR    = gocv.NewScalar(120, 160, 220, 0) // H=12 S=116 V=220
	blueBGR    = gocv.NewScalar(255, 0, 0, 0)
	grayBGR    = gocv.NewScalar(128, 128, 128, 0)
	darkBGR    = gocv.NewScalar(20, 30, 50, 0)
	redBGR     = gocv.NewScalar(0, 0, 255, 0)
	centerFace = image.Rect(50, 50, 150, 150)
)

func solid(rows, cols int, c gocv.Scalar) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(c, rows, cols, gocv.MatTypeCV8UC3)
}

// splitImage 左半部分肤色，右半部分蓝色
func splitImage(rows, cols int) gocv.Mat {
	img := solid(rows, cols, blueBGR)
	left := img.Region(image.Rect(0, 0, cols/2, rows))
	left.SetTo(skinBGR)
	left.Close()
	return img
}

// mouthSquare 20个点均匀分布在以 (cx,cy) 为中心、边长 2*half 的正方形边上
func mouthSquare(cx, cy, half int) []image.Point {
	side := 2 * half
	step := 4 * side / 20
	pts := make([]image.Point, 0, 20)
	for d := 0; len(pts) < 20; d += step {
		var p image.Point
		switch {
		case d < side:
			p = image.Pt(cx-half+d, cy-half)
		case d < 2*side:
			p = image.Pt(cx+half, cy-half+(d-side))
		case d < 3*side:
			p = image.Pt(cx+half-(d-2*side), cy+half)
		default:
			p = image.Pt(cx-half, cy+half-(d-3*side))
		}
		pts = append(pts, p)
	}
	return pts
}

func landmarksWithMouth(mouth []image.Point, fill image.Point) *model.LandmarkSet {
	var l model.LandmarkSet
	for i := range l {
		l[i] = fill
	}
	copy(l[model.MouthStart:model.MouthEnd], mouth)
	return &l
}

func sameBytes(t *testing.T, a, b gocv.Mat) bool {
	t.Helper()
	if a.Rows() != b.Rows() || a.Cols() != b.Cols() || a.Type() != b.Type() {
		return false
	}
	return bytes.Equal(a.ToBytes(), b.ToBytes())
}

type fakeFaces struct {
	rects []image.Rectangle
	err   error
	panic bool
}

func (f *fakeFaces) DetectFaces(gray gocv.Mat) ([]image.Rectangle, error) {
	if f.panic {
		panic("detector crashed")
	}
	return append([]image.Rectangle(nil), f.rects...), f.err
}

type fakeEyes struct {
	rects []image.Rectangle
	err   error
	sizes []image.Point
}

func (f *fakeEyes) DetectEyes(grayFace gocv.Mat) ([]image.Rectangle, error) {
	f.sizes = append(f.sizes, image.Pt(grayFace.Cols(), grayFace.Rows()))
	return append([]image.Rectangle(nil), f.rects...), f.err
}

type fakeLandmarks struct {
	mouth []image.Point
	err   error
}

func (f *fakeLandmarks) Predict(gray gocv.Mat, face image.Rectangle) (model.LandmarkSet, error) {
	if f.err != nil {
		return model.LandmarkSet{}, f.err
	}
	c := image.Pt(face.Min.X+face.Dx()/2, face.Min.Y+face.Dy()/2)
	return *landmarksWithMouth(f.mouth, c), nil
}

func newTestService(faces *fakeFaces, eyes *fakeEyes, landmarks *fakeLandmarks) *RetouchService {
	cfg := config.Default().Retouch
	var models *Models
	if faces != nil {
		models = &Models{Faces: faces, Eyes: eyes, Landmarks: landmarks}
	}
	return NewRetouchService(&cfg, models)
}
