package model

import "image"

// LandmarkCount 人脸关键点数量（68点方案）
const LandmarkCount = 68

// 嘴部轮廓在68点方案中的索引范围 [MouthStart, MouthEnd)
const (
	MouthStart = 48
	MouthEnd   = 68
)

// LandmarkSet 68个人脸关键点，按固定解剖学顺序索引
type LandmarkSet [LandmarkCount]image.Point

// Mouth 返回嘴部轮廓的20个关键点
func (l *LandmarkSet) Mouth() []image.Point {
	pts := make([]image.Point, 0, MouthEnd-MouthStart)
	pts = append(pts, l[MouthStart:MouthEnd]...)
	return pts
}

// FaceDetection 单张人脸的检测结果，坐标均为整图坐标
type FaceDetection struct {
	Face      image.Rectangle
	Eyes      []image.Rectangle
	Landmarks *LandmarkSet
}

// BBox 边界框
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewBBox 由 image.Rectangle 构造边界框
func NewBBox(r image.Rectangle) BBox {
	return BBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Rect 转换为 image.Rectangle
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}
