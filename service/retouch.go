package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/absconder01/facefilter/config"
	"github.com/absconder01/facefilter/model"
	"github.com/absconder01/facefilter/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"
)

// RetouchService 负责人像磨皮流程的编排
type RetouchService struct {
	models       *Models
	profiles     map[string]model.Profile
	jpegQuality  int
	semaphore    chan struct{}
	queueTimeout time.Duration
	faceMasks    *FaceMaskBuilder
	skinMasks    *SkinMaskBuilder
	compositor   *MaskCompositor
	enhancer     *ColorEnhancer
	blender      *Blender
}

// Result 处理结果
type Result struct {
	JPEG        []byte
	Width       int
	Height      int
	Faces       int
	PassThrough bool
	Profile     string
}

// Report 单次流水线的中间信息
type Report struct {
	Detections  []model.FaceDetection
	PassThrough bool
}

func NewRetouchService(cfg *config.RetouchConfig, models *Models) *RetouchService {
	return &RetouchService{
		models: models,
		profiles: map[string]model.Profile{
			model.ProfileFace:   model.NewProfile(model.ProfileFace, cfg.Face),
			model.ProfileGlobal: model.NewProfile(model.ProfileGlobal, cfg.Global),
		},
		jpegQuality:  cfg.JPEGQuality,
		semaphore:    make(chan struct{}, cfg.MaxConcurrent),
		queueTimeout: cfg.QueueTimeout,
		faceMasks:    NewFaceMaskBuilder(),
		skinMasks:    NewSkinMaskBuilder(),
		compositor:   NewMaskCompositor(),
		enhancer:     NewColorEnhancer(),
		blender:      NewBlender(),
	}
}

// Ready 人脸模式依赖的模型是否已加载
func (s *RetouchService) Ready() error {
	return s.models.Ready()
}

// Profile 按名称查找增强策略
func (s *RetouchService) Profile(name string) (model.Profile, bool) {
	p, ok := s.profiles[name]
	return p, ok
}

// Process 解码上传内容，执行流水线并编码为 JPEG
func (s *RetouchService) Process(ctx context.Context, data []byte, profileName string) (*Result, error) {
	profile, ok := s.Profile(profileName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, profileName)
	}
	if profile.FaceAware {
		if err := s.Ready(); err != nil {
			return nil, err
		}
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	startTime := time.Now()
	utils.Logger.Info("processing image",
		zap.String("profile", profile.Name),
		zap.Int("width", img.Cols()),
		zap.Int("height", img.Rows()))

	out, report, err := s.Apply(img, profile)
	if err != nil {
		out.Close()
		utils.Logger.Error("retouch failed", zap.String("profile", profile.Name), zap.Error(err))
		return nil, err
	}
	defer out.Close()

	jpeg, err := s.encode(out)
	if err != nil {
		return nil, stageError("encode", err)
	}

	utils.Logger.Info("image processed successfully",
		zap.String("profile", profile.Name),
		zap.Int("faces", len(report.Detections)),
		zap.Bool("pass_through", report.PassThrough),
		zap.Duration("duration", time.Since(startTime)))

	return &Result{
		JPEG:        jpeg,
		Width:       img.Cols(),
		Height:      img.Rows(),
		Faces:       len(report.Detections),
		PassThrough: report.PassThrough,
		Profile:     profile.Name,
	}, nil
}

// Apply 在已解码的 BGR 图像上执行流水线，返回新图像；原图不被修改
func (s *RetouchService) Apply(img gocv.Mat, profile model.Profile) (out gocv.Mat, report *Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			out.Close()
			out, report = gocv.NewMat(), nil
			err = &ProcessingError{Stage: "pipeline", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if img.Empty() || img.Channels() != 3 {
		return gocv.NewMat(), nil, ErrInvalidImage
	}

	if !profile.FaceAware {
		out, err = s.applyGlobal(img, profile)
		return out, &Report{}, err
	}

	detections, err := s.Detect(img)
	if errors.Is(err, ErrNoFaceDetected) {
		utils.Logger.Debug("no face detected, pass through")
		return img.Clone(), &Report{PassThrough: true}, nil
	}
	if err != nil {
		return gocv.NewMat(), nil, err
	}

	out, err = s.applyFaceAware(img, detections, profile)
	if err != nil {
		return out, nil, err
	}
	return out, &Report{Detections: detections}, nil
}

func (s *RetouchService) applyGlobal(img gocv.Mat, profile model.Profile) (gocv.Mat, error) {
	enhanced, err := s.enhancer.Enhance(img, profile)
	if err != nil {
		return gocv.NewMat(), stageError("enhance", err)
	}
	defer enhanced.Close()

	out, err := s.blender.BlendUniform(img, enhanced, profile.Weight)
	return out, stageError("blend", err)
}

func (s *RetouchService) applyFaceAware(img gocv.Mat, detections []model.FaceDetection, profile model.Profile) (gocv.Mat, error) {
	size := image.Pt(img.Cols(), img.Rows())

	// 几何掩码、肤色掩码和增强图互不依赖，并行计算
	var faceMask, skinMask, enhanced gocv.Mat
	defer faceMask.Close()
	defer skinMask.Close()
	defer enhanced.Close()

	g := new(errgroup.Group)
	goStage(g, "face mask", func() (err error) {
		faceMask, err = s.faceMasks.Build(size, detections)
		return err
	})
	goStage(g, "skin mask", func() (err error) {
		skinMask, err = s.skinMasks.Build(img)
		return err
	})
	goStage(g, "enhance", func() (err error) {
		enhanced, err = s.enhancer.Enhance(img, profile)
		return err
	})
	if err := g.Wait(); err != nil {
		return gocv.NewMat(), err
	}

	weight, err := s.compositor.Composite(faceMask, skinMask)
	if err != nil {
		return gocv.NewMat(), stageError("composite", err)
	}
	defer weight.Close()

	out, err := s.blender.Blend(img, enhanced, weight)
	return out, stageError("blend", err)
}

// goStage 在 errgroup 中运行一个阶段，panic 转为 ProcessingError
func goStage(g *errgroup.Group, stage string, fn func() error) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &ProcessingError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
			}
		}()
		return stageError(stage, fn())
	})
}

// Detect 检测人脸、眼睛和关键点，无人脸时返回 ErrNoFaceDetected
func (s *RetouchService) Detect(img gocv.Mat) ([]model.FaceDetection, error) {
	if err := s.Ready(); err != nil {
		return nil, err
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	faces, err := s.models.Faces.DetectFaces(gray)
	if err != nil {
		return nil, stageError("face detection", err)
	}

	bounds := image.Rect(0, 0, img.Cols(), img.Rows())
	detections := make([]model.FaceDetection, 0, len(faces))
	for _, face := range faces {
		face = face.Intersect(bounds)
		if face.Empty() {
			continue
		}

		eyes, err := s.detectEyes(gray, face)
		if err != nil {
			return nil, stageError("eye detection", err)
		}

		landmarks, err := s.models.Landmarks.Predict(gray, face)
		if err != nil {
			return nil, stageError("landmarks", err)
		}

		detections = append(detections, model.FaceDetection{
			Face:      face,
			Eyes:      eyes,
			Landmarks: &landmarks,
		})
	}

	if len(detections) == 0 {
		return nil, ErrNoFaceDetected
	}
	return detections, nil
}

// detectEyes 在人脸子图中检测眼睛并平移回整图坐标
func (s *RetouchService) detectEyes(gray gocv.Mat, face image.Rectangle) ([]image.Rectangle, error) {
	roi := gray.Region(face)
	defer roi.Close()

	eyes, err := s.models.Eyes.DetectEyes(roi)
	if err != nil {
		return nil, err
	}
	for i := range eyes {
		eyes[i] = eyes[i].Add(face.Min)
	}
	return eyes, nil
}

// Analyze 只做检测和掩码构建，返回检测结果与覆盖率
func (s *RetouchService) Analyze(ctx context.Context, data []byte) (result *model.AnalyzeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &ProcessingError{Stage: "analyze", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := s.Ready(); err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	result = &model.AnalyzeResult{
		MD5:       utils.BytesMD5(data),
		Width:     img.Cols(),
		Height:    img.Rows(),
		Faces:     []model.FaceResult{},
		Timestamp: time.Now().Unix(),
	}

	skinMask, err := s.skinMasks.Build(img)
	if err != nil {
		return nil, stageError("skin mask", err)
	}
	defer skinMask.Close()
	result.SkinCoverage = Coverage(skinMask)

	detections, err := s.Detect(img)
	if errors.Is(err, ErrNoFaceDetected) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	faceMask, err := s.faceMasks.Build(image.Pt(img.Cols(), img.Rows()), detections)
	if err != nil {
		return nil, stageError("face mask", err)
	}
	defer faceMask.Close()

	weight, err := s.compositor.Composite(faceMask, skinMask)
	if err != nil {
		return nil, stageError("composite", err)
	}
	defer weight.Close()
	result.MaskCoverage = weight.Mean().Val1

	for i, d := range detections {
		face := model.FaceResult{ID: i + 1, BBox: model.NewBBox(d.Face), Eyes: []model.BBox{}}
		for _, eye := range d.Eyes {
			face.Eyes = append(face.Eyes, model.NewBBox(eye))
		}
		if d.Landmarks != nil {
			hull, err := MouthHull(d.Landmarks.Mouth())
			if err != nil {
				return nil, stageError("mouth hull", err)
			}
			for _, p := range hull {
				face.MouthHull = append(face.MouthHull, model.Point{X: p.X, Y: p.Y})
			}
		}
		result.Faces = append(result.Faces, face)
	}

	return result, nil
}

// acquire 并发控制，排队超时返回 ErrQueueFull
func (s *RetouchService) acquire(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.queueTimeout)
	defer cancel()

	select {
	case s.semaphore <- struct{}{}:
		return func() { <-s.semaphore }, nil
	case <-ctx.Done():
		return nil, ErrQueueFull
	}
}

func decodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), ErrInvalidImage
	}
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		img.Close()
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), ErrInvalidImage
	}
	return img, nil
}

func (s *RetouchService) encode(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, s.jpegQuality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	defer buf.Close()

	return bytes.Clone(buf.GetBytes()), nil
}
