package service

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/absconder01/facefilter/model"
	"gocv.io/x/gocv"
)

var (
	maskOn  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	maskOff = color.RGBA{}
)

// FaceMaskBuilder 根据人脸、眼睛和嘴部关键点构建几何掩码
type FaceMaskBuilder struct{}

func NewFaceMaskBuilder() *FaceMaskBuilder {
	return &FaceMaskBuilder{}
}

// Build 生成 CV8UC1 掩码（0/255）：所有人脸椭圆的并集，减去所有眼睛椭圆和嘴部凸包。
// 先填充全部人脸再统一挖除，保证多张人脸重叠时挖除结果不被覆盖。
func (b *FaceMaskBuilder) Build(size image.Point, detections []model.FaceDetection) (gocv.Mat, error) {
	if size.X <= 0 || size.Y <= 0 {
		return gocv.NewMat(), fmt.Errorf("face mask: invalid size %v", size)
	}
	bounds := image.Rectangle{Max: size}
	mask := gocv.Zeros(size.Y, size.X, gocv.MatTypeCV8UC1)

	for _, d := range detections {
		fillEllipse(&mask, d.Face, bounds, maskOn)
	}

	for _, d := range detections {
		for _, eye := range d.Eyes {
			fillEllipse(&mask, eye, bounds, maskOff)
		}
		if d.Landmarks == nil {
			continue
		}
		hull, err := MouthHull(d.Landmarks.Mouth())
		if err != nil {
			mask.Close()
			return gocv.NewMat(), err
		}
		fillPolygon(&mask, hull, maskOff)
	}

	return mask, nil
}

// fillEllipse 在裁剪到图像范围内的矩形中填充内切椭圆
func fillEllipse(mask *gocv.Mat, r image.Rectangle, bounds image.Rectangle, c color.RGBA) {
	r = r.Canon().Intersect(bounds)
	if r.Empty() {
		return
	}
	center := image.Pt(r.Min.X+r.Dx()/2, r.Min.Y+r.Dy()/2)
	axes := image.Pt(r.Dx()/2, r.Dy()/2)
	gocv.Ellipse(mask, center, axes, 0, 0, 360, c, -1)
}

func fillPolygon(mask *gocv.Mat, pts []image.Point, c color.RGBA) {
	if len(pts) == 0 {
		return
	}
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
	defer pv.Close()
	gocv.FillPoly(mask, pv, c)
}

// MouthHull 计算嘴部关键点的凸包，按顺时针顺序返回顶点
func MouthHull(points []image.Point) ([]image.Point, error) {
	if len(points) == 0 {
		return nil, errors.New("mouth hull: no points")
	}

	pv := gocv.NewPointVectorFromPoints(points)
	defer pv.Close()

	indices := gocv.NewMat()
	defer indices.Close()
	gocv.ConvexHull(pv, &indices, true, false)

	hull := make([]image.Point, 0, indices.Rows())
	for i := 0; i < indices.Rows(); i++ {
		idx := int(indices.GetIntAt(i, 0))
		if idx < 0 || idx >= len(points) {
			return nil, fmt.Errorf("mouth hull: index %d out of range", idx)
		}
		hull = append(hull, points[idx])
	}
	return hull, nil
}
