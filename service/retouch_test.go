package service

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/absconder01/facefilter/config"
	"github.com/absconder01/facefilter/model"
	"gocv.io/x/gocv"
)

func encodePNG(t *testing.T, img gocv.Mat) []byte {
	t.Helper()
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		t.Fatalf("encode png: %v", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...)
}

func centerFaceService() *RetouchService {
	return newTestService(
		&fakeFaces{rects: []image.Rectangle{centerFace}},
		&fakeEyes{},
		&fakeLandmarks{mouth: mouthSquare(100, 100, 10)},
	)
}

func TestApplyPassThroughWithoutFaces(t *testing.T) {
	svc := newTestService(&fakeFaces{}, &fakeEyes{}, &fakeLandmarks{})
	img := splitImage(120, 160)
	defer img.Close()

	out, report, err := svc.Apply(img, faceProfile())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	defer out.Close()

	if !report.PassThrough || len(report.Detections) != 0 {
		t.Errorf("report = %+v, want pass through", report)
	}
	if !sameBytes(t, out, img) {
		t.Error("pass through output differs from input")
	}
}

func TestApplyFacesOutsideImagePassThrough(t *testing.T) {
	svc := newTestService(
		&fakeFaces{rects: []image.Rectangle{image.Rect(500, 500, 600, 600)}},
		&fakeEyes{},
		&fakeLandmarks{mouth: mouthSquare(550, 550, 10)},
	)
	img := solid(100, 100, skinBGR)
	defer img.Close()

	out, report, err := svc.Apply(img, faceProfile())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	defer out.Close()
	if !report.PassThrough {
		t.Error("faces fully outside the image should pass through")
	}
}

func TestApplyNonSkinImageIsUnchanged(t *testing.T) {
	svc := centerFaceService()
	img := solid(200, 200, blueBGR)
	defer img.Close()

	out, report, err := svc.Apply(img, faceProfile())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	defer out.Close()

	if report.PassThrough || len(report.Detections) != 1 {
		t.Fatalf("report = %+v, want one detection", report)
	}
	if !sameBytes(t, out, img) {
		t.Error("zero weight field must reproduce the original exactly")
	}
}

func TestApplySkinImageBlendsInsideFace(t *testing.T) {
	svc := centerFaceService()
	img := solid(200, 200, skinBGR)
	defer img.Close()

	out, _, err := svc.Apply(img, faceProfile())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	defer out.Close()

	enhanced, err := NewColorEnhancer().Enhance(img, faceProfile())
	if err != nil {
		t.Fatalf("Enhance() error = %v", err)
	}
	defer enhanced.Close()

	// 远离人脸：权重为 0
	for _, p := range []image.Point{{0, 0}, {199, 0}, {5, 195}} {
		o, got := img.GetVecbAt(p.Y, p.X), out.GetVecbAt(p.Y, p.X)
		for c := range got {
			if got[c] != o[c] {
				t.Errorf("pixel %v channel %d = %d, want original %d", p, c, got[c], o[c])
			}
		}
	}

	// 人脸内部远离边缘：权重为 1
	p := image.Pt(100, 130)
	e, got := enhanced.GetVecbAt(p.Y, p.X), out.GetVecbAt(p.Y, p.X)
	changed := false
	for c := range got {
		if d := int(got[c]) - int(e[c]); d < -1 || d > 1 {
			t.Errorf("pixel %v channel %d = %d, want enhanced %d±1", p, c, got[c], e[c])
		}
		if got[c] != img.GetVecbAt(p.Y, p.X)[c] {
			changed = true
		}
	}
	if !changed {
		t.Errorf("pixel %v inside the face was not enhanced", p)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	svc := centerFaceService()
	img := solid(200, 200, skinBGR)
	defer img.Close()
	before := img.Clone()
	defer before.Close()

	out, _, err := svc.Apply(img, faceProfile())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	out.Close()

	if !sameBytes(t, img, before) {
		t.Error("Apply() mutated its input")
	}
}

func TestDetectTranslatesEyes(t *testing.T) {
	eyes := &fakeEyes{rects: []image.Rectangle{image.Rect(10, 20, 30, 40)}}
	svc := newTestService(
		&fakeFaces{rects: []image.Rectangle{centerFace, image.Rect(180, 180, 260, 260)}},
		eyes,
		&fakeLandmarks{mouth: mouthSquare(100, 100, 10)},
	)
	img := solid(200, 200, skinBGR)
	defer img.Close()

	detections, err := svc.Detect(img)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(detections) != 2 {
		t.Fatalf("len(detections) = %d, want 2", len(detections))
	}
	if got := detections[0].Eyes[0]; got != image.Rect(60, 70, 80, 90) {
		t.Errorf("eye = %v, want translated to (60,70)-(80,90)", got)
	}
	if got := detections[1].Face; got != image.Rect(180, 180, 200, 200) {
		t.Errorf("second face = %v, want clipped to image", got)
	}
	if eyes.sizes[0] != image.Pt(100, 100) || eyes.sizes[1] != image.Pt(20, 20) {
		t.Errorf("eye detector saw sub-images %v", eyes.sizes)
	}
	if detections[0].Landmarks == nil {
		t.Error("landmarks missing")
	}
}

func TestApplyErrors(t *testing.T) {
	boom := errors.New("boom")
	faces := []image.Rectangle{centerFace}

	tests := []struct {
		name      string
		svc       *RetouchService
		wantErr   error
		wantStage string
	}{
		{
			name:    "models unavailable",
			svc:     newTestService(nil, nil, nil),
			wantErr: ErrModelUnavailable,
		},
		{
			name:      "face detector fails",
			svc:       newTestService(&fakeFaces{err: boom}, &fakeEyes{}, &fakeLandmarks{}),
			wantErr:   boom,
			wantStage: "face detection",
		},
		{
			name:      "eye detector fails",
			svc:       newTestService(&fakeFaces{rects: faces}, &fakeEyes{err: boom}, &fakeLandmarks{}),
			wantErr:   boom,
			wantStage: "eye detection",
		},
		{
			name:      "landmark predictor fails",
			svc:       newTestService(&fakeFaces{rects: faces}, &fakeEyes{}, &fakeLandmarks{err: boom}),
			wantErr:   boom,
			wantStage: "landmarks",
		},
		{
			name:      "detector panic is recovered",
			svc:       newTestService(&fakeFaces{panic: true}, &fakeEyes{}, &fakeLandmarks{}),
			wantStage: "pipeline",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := solid(200, 200, skinBGR)
			defer img.Close()

			out, _, err := tt.svc.Apply(img, faceProfile())
			out.Close()
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantStage != "" {
				var pe *ProcessingError
				if !errors.As(err, &pe) || pe.Stage != tt.wantStage {
					t.Errorf("error = %v, want ProcessingError at stage %q", err, tt.wantStage)
				}
			}
		})
	}
}

func TestApplyGlobalProfileWithoutModels(t *testing.T) {
	svc := newTestService(nil, nil, nil)
	profile, ok := svc.Profile(model.ProfileGlobal)
	if !ok {
		t.Fatal("global profile missing")
	}

	img := solid(50, 50, skinBGR)
	defer img.Close()

	out, report, err := svc.Apply(img, profile)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	defer out.Close()
	if report.PassThrough || out.Rows() != 50 || out.Cols() != 50 {
		t.Errorf("unexpected global result: %+v %dx%d", report, out.Cols(), out.Rows())
	}
}

func TestProcess(t *testing.T) {
	img := splitImage(120, 160)
	defer img.Close()
	png := encodePNG(t, img)

	tests := []struct {
		name            string
		svc             *RetouchService
		data            []byte
		profile         string
		wantErr         error
		wantPassThrough bool
		wantFaces       int
	}{
		{
			name:            "no face passes through",
			svc:             newTestService(&fakeFaces{}, &fakeEyes{}, &fakeLandmarks{}),
			data:            png,
			profile:         model.ProfileFace,
			wantPassThrough: true,
		},
		{
			name:      "face retouched",
			svc:       newTestService(&fakeFaces{rects: []image.Rectangle{image.Rect(20, 20, 100, 100)}}, &fakeEyes{}, &fakeLandmarks{mouth: mouthSquare(60, 60, 8)}),
			data:      png,
			profile:   model.ProfileFace,
			wantFaces: 1,
		},
		{
			name:    "global profile without models",
			svc:     newTestService(nil, nil, nil),
			data:    png,
			profile: model.ProfileGlobal,
		},
		{
			name:    "undecodable upload",
			svc:     newTestService(&fakeFaces{}, &fakeEyes{}, &fakeLandmarks{}),
			data:    []byte("definitely not an image"),
			profile: model.ProfileFace,
			wantErr: ErrInvalidImage,
		},
		{
			name:    "empty upload",
			svc:     newTestService(&fakeFaces{}, &fakeEyes{}, &fakeLandmarks{}),
			data:    nil,
			profile: model.ProfileFace,
			wantErr: ErrInvalidImage,
		},
		{
			name:    "models unavailable",
			svc:     newTestService(nil, nil, nil),
			data:    png,
			profile: model.ProfileFace,
			wantErr: ErrModelUnavailable,
		},
		{
			name:    "unknown profile",
			svc:     newTestService(&fakeFaces{}, &fakeEyes{}, &fakeLandmarks{}),
			data:    png,
			profile: "vintage",
			wantErr: ErrUnknownProfile,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.svc.Process(context.Background(), tt.data, tt.profile)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Process() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if res.PassThrough != tt.wantPassThrough || res.Faces != tt.wantFaces {
				t.Errorf("result = pass_through %v faces %d", res.PassThrough, res.Faces)
			}
			if res.Width != 160 || res.Height != 120 || res.Profile != tt.profile {
				t.Errorf("result = %dx%d profile %q", res.Width, res.Height, res.Profile)
			}

			decoded, err := gocv.IMDecode(res.JPEG, gocv.IMReadColor)
			if err != nil || decoded.Empty() {
				t.Fatalf("output is not a decodable image: %v", err)
			}
			defer decoded.Close()
			if decoded.Cols() != 160 || decoded.Rows() != 120 {
				t.Errorf("decoded size = %dx%d", decoded.Cols(), decoded.Rows())
			}
		})
	}
}

func TestQueueFull(t *testing.T) {
	cfg := config.Default().Retouch
	cfg.MaxConcurrent = 1
	cfg.QueueTimeout = 10 * time.Millisecond
	svc := NewRetouchService(&cfg, &Models{Faces: &fakeFaces{}, Eyes: &fakeEyes{}, Landmarks: &fakeLandmarks{}})

	img := solid(20, 20, skinBGR)
	defer img.Close()
	png := encodePNG(t, img)

	svc.semaphore <- struct{}{}
	defer func() { <-svc.semaphore }()

	// 排队先于解码，无效内容同样需要等待处理槽位
	tests := []struct {
		name string
		run  func() error
	}{
		{name: "process", run: func() error {
			_, err := svc.Process(context.Background(), png, model.ProfileFace)
			return err
		}},
		{name: "process undecodable", run: func() error {
			_, err := svc.Process(context.Background(), []byte("garbage"), model.ProfileGlobal)
			return err
		}},
		{name: "analyze", run: func() error {
			_, err := svc.Analyze(context.Background(), png)
			return err
		}},
		{name: "analyze undecodable", run: func() error {
			_, err := svc.Analyze(context.Background(), []byte("garbage"))
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, ErrQueueFull) {
				t.Fatalf("error = %v, want ErrQueueFull", err)
			}
		})
	}
}

func TestAnalyzeRecoversPanic(t *testing.T) {
	img := solid(40, 40, skinBGR)
	defer img.Close()

	svc := newTestService(&fakeFaces{panic: true}, &fakeEyes{}, &fakeLandmarks{})
	res, err := svc.Analyze(context.Background(), encodePNG(t, img))
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	var pe *ProcessingError
	if !errors.As(err, &pe) || pe.Stage != "analyze" {
		t.Fatalf("error = %v, want ProcessingError at stage %q", err, "analyze")
	}

	// 处理槽位已释放
	if len(svc.semaphore) != 0 {
		t.Errorf("semaphore holds %d slots after panic", len(svc.semaphore))
	}
}

func TestAnalyze(t *testing.T) {
	img := splitImage(200, 200)
	defer img.Close()
	png := encodePNG(t, img)

	svc := newTestService(
		&fakeFaces{rects: []image.Rectangle{centerFace}},
		&fakeEyes{rects: []image.Rectangle{image.Rect(20, 20, 40, 40)}},
		&fakeLandmarks{mouth: mouthSquare(100, 100, 10)},
	)

	res, err := svc.Analyze(context.Background(), png)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if res.Width != 200 || res.Height != 200 || len(res.Faces) != 1 {
		t.Fatalf("result = %+v", res)
	}
	face := res.Faces[0]
	if face.BBox != (model.BBox{X: 50, Y: 50, Width: 100, Height: 100}) {
		t.Errorf("bbox = %+v", face.BBox)
	}
	if len(face.Eyes) != 1 || face.Eyes[0] != (model.BBox{X: 70, Y: 70, Width: 20, Height: 20}) {
		t.Errorf("eyes = %+v", face.Eyes)
	}
	if len(face.MouthHull) < 3 {
		t.Errorf("mouth hull = %+v", face.MouthHull)
	}
	if res.SkinCoverage != 0.5 {
		t.Errorf("skin coverage = %v, want 0.5", res.SkinCoverage)
	}
	if res.MaskCoverage <= 0 || res.MaskCoverage >= 0.5 {
		t.Errorf("mask coverage = %v", res.MaskCoverage)
	}
	if res.MD5 == "" {
		t.Error("md5 missing")
	}
}

func TestAnalyzeNoFace(t *testing.T) {
	img := solid(40, 40, grayBGR)
	defer img.Close()

	svc := newTestService(&fakeFaces{}, &fakeEyes{}, &fakeLandmarks{})
	res, err := svc.Analyze(context.Background(), encodePNG(t, img))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(res.Faces) != 0 || res.SkinCoverage != 0 || res.MaskCoverage != 0 {
		t.Errorf("result = %+v", res)
	}
}
