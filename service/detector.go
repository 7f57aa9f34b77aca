package service

import (
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/absconder01/facefilter/config"
	"github.com/absconder01/facefilter/model"
	"github.com/absconder01/facefilter/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// FaceDetector 在灰度图中检测人脸矩形
type FaceDetector interface {
	DetectFaces(gray gocv.Mat) ([]image.Rectangle, error)
}

// EyeDetector 在人脸区域灰度子图中检测眼睛，坐标相对于子图
type EyeDetector interface {
	DetectEyes(grayFace gocv.Mat) ([]image.Rectangle, error)
}

// LandmarkPredictor 在给定人脸矩形内预测68个关键点（整图坐标）
type LandmarkPredictor interface {
	Predict(gray gocv.Mat, face image.Rectangle) (model.LandmarkSet, error)
}

// Models 启动时加载一次的检测模型，请求之间只读共享
type Models struct {
	Faces     FaceDetector
	Eyes      EyeDetector
	Landmarks LandmarkPredictor

	closers []func()
}

// LoadModels 加载人脸、眼睛级联分类器和关键点模型，任一失败返回 ErrModelUnavailable
func LoadModels(cfg *config.ModelsConfig) (*Models, error) {
	// 关键点模型是必需能力，优先检查
	for _, path := range []string{cfg.LandmarkModel, cfg.FaceCascade, cfg.EyeCascade} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
	}

	m := &Models{}

	faces, err := NewCascadeDetector("face", cfg.FaceCascade, cfg.PoolSize)
	if err != nil {
		return nil, err
	}
	m.Faces = faces
	m.closers = append(m.closers, faces.Close)

	eyes, err := NewCascadeDetector("eye", cfg.EyeCascade, cfg.PoolSize)
	if err != nil {
		m.Close()
		return nil, err
	}
	m.Eyes = eyes
	m.closers = append(m.closers, eyes.Close)

	landmarks, err := NewDNNLandmarkPredictor(cfg.LandmarkModel, cfg.LandmarkInputSize, cfg.PoolSize)
	if err != nil {
		m.Close()
		return nil, err
	}
	m.Landmarks = landmarks
	m.closers = append(m.closers, landmarks.Close)

	utils.Logger.Info("models loaded",
		zap.String("face_cascade", cfg.FaceCascade),
		zap.String("eye_cascade", cfg.EyeCascade),
		zap.String("landmark_model", cfg.LandmarkModel),
		zap.Int("pool_size", cfg.PoolSize))

	return m, nil
}

// Ready 检查三个模型是否都可用
func (m *Models) Ready() error {
	if m == nil || m.Faces == nil || m.Eyes == nil || m.Landmarks == nil {
		return ErrModelUnavailable
	}
	return nil
}

func (m *Models) Close() {
	for i := len(m.closers) - 1; i >= 0; i-- {
		m.closers[i]()
	}
	m.closers = nil
}

// CascadeDetector 基于 Haar 级联分类器的检测器。
// gocv 的分类器不支持并发调用，这里用固定大小的实例池串行化访问。
type CascadeDetector struct {
	name string
	pool chan gocv.CascadeClassifier
}

func NewCascadeDetector(name, path string, size int) (*CascadeDetector, error) {
	if size < 1 {
		size = 1
	}
	d := &CascadeDetector{name: name, pool: make(chan gocv.CascadeClassifier, size)}
	for i := 0; i < size; i++ {
		classifier := gocv.NewCascadeClassifier()
		if !classifier.Load(path) {
			classifier.Close()
			d.Close()
			return nil, fmt.Errorf("%w: failed to load %s cascade from %s", ErrModelUnavailable, name, path)
		}
		d.pool <- classifier
	}
	return d, nil
}

func (d *CascadeDetector) detect(gray gocv.Mat) ([]image.Rectangle, error) {
	if gray.Empty() {
		return nil, fmt.Errorf("%s detector: empty input", d.name)
	}
	classifier := <-d.pool
	defer func() { d.pool <- classifier }()

	return classifier.DetectMultiScale(gray), nil
}

func (d *CascadeDetector) DetectFaces(gray gocv.Mat) ([]image.Rectangle, error) {
	return d.detect(gray)
}

func (d *CascadeDetector) DetectEyes(grayFace gocv.Mat) ([]image.Rectangle, error) {
	return d.detect(grayFace)
}

// Close 释放池中的分类器
func (d *CascadeDetector) Close() {
	for {
		select {
		case c := <-d.pool:
			c.Close()
		default:
			return
		}
	}
}

// DNNLandmarkPredictor 使用68点关键点回归网络（输出136个相对人脸框归一化的坐标）
type DNNLandmarkPredictor struct {
	inputSize int
	pool      chan gocv.Net
}

func NewDNNLandmarkPredictor(path string, inputSize, size int) (*DNNLandmarkPredictor, error) {
	if size < 1 {
		size = 1
	}
	p := &DNNLandmarkPredictor{inputSize: inputSize, pool: make(chan gocv.Net, size)}
	for i := 0; i < size; i++ {
		net := gocv.ReadNet(path, "")
		if net.Empty() {
			net.Close()
			p.Close()
			return nil, fmt.Errorf("%w: failed to load landmark model from %s", ErrModelUnavailable, path)
		}
		p.pool <- net
	}
	return p, nil
}

// Predict 在人脸框内预测关键点
func (p *DNNLandmarkPredictor) Predict(gray gocv.Mat, face image.Rectangle) (model.LandmarkSet, error) {
	var landmarks model.LandmarkSet

	face = face.Intersect(image.Rect(0, 0, gray.Cols(), gray.Rows()))
	if face.Empty() {
		return landmarks, errors.New("landmark predictor: face outside image")
	}

	roi := gray.Region(face)
	defer roi.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(roi, &bgr, gocv.ColorGrayToBGR)

	blob := gocv.BlobFromImage(bgr, 1.0/255.0, image.Pt(p.inputSize, p.inputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	net := <-p.pool
	defer func() { p.pool <- net }()

	net.SetInput(blob, "")
	out := net.Forward("")
	defer out.Close()

	if out.Total() != 2*model.LandmarkCount {
		return landmarks, fmt.Errorf("landmark predictor: expected %d outputs, got %d", 2*model.LandmarkCount, out.Total())
	}
	values, err := out.DataPtrFloat32()
	if err != nil {
		return landmarks, fmt.Errorf("landmark predictor: %w", err)
	}

	w, h := float32(face.Dx()), float32(face.Dy())
	for i := range landmarks {
		landmarks[i] = image.Pt(
			face.Min.X+int(values[2*i]*w+0.5),
			face.Min.Y+int(values[2*i+1]*h+0.5),
		)
	}
	return landmarks, nil
}

func (p *DNNLandmarkPredictor) Close() {
	for {
		select {
		case n := <-p.pool:
			n.Close()
		default:
			return
		}
	}
}
