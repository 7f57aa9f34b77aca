package service

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/absconder01/facefilter/config"
)

func TestLoadModelsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "present.bin")
	if err := os.WriteFile(existing, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing.bin")

	tests := []struct {
		name string
		cfg  config.ModelsConfig
	}{
		{
			name: "landmark model missing",
			cfg:  config.ModelsConfig{FaceCascade: existing, EyeCascade: existing, LandmarkModel: missing},
		},
		{
			name: "face cascade missing",
			cfg:  config.ModelsConfig{FaceCascade: missing, EyeCascade: existing, LandmarkModel: existing},
		},
		{
			name: "eye cascade missing",
			cfg:  config.ModelsConfig{FaceCascade: existing, EyeCascade: missing, LandmarkModel: existing},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.LandmarkInputSize = 112
			tt.cfg.PoolSize = 1

			m, err := LoadModels(&tt.cfg)
			if !errors.Is(err, ErrModelUnavailable) {
				t.Fatalf("LoadModels() error = %v, want ErrModelUnavailable", err)
			}
			if m != nil {
				t.Error("expected nil models on failure")
			}
		})
	}
}

func TestNewCascadeDetectorMissingFile(t *testing.T) {
	_, err := NewCascadeDetector("face", filepath.Join(t.TempDir(), "none.xml"), 2)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("NewCascadeDetector() error = %v, want ErrModelUnavailable", err)
	}
}

func TestModelsReady(t *testing.T) {
	var nilModels *Models
	tests := []struct {
		name    string
		models  *Models
		wantErr bool
	}{
		{name: "nil", models: nilModels, wantErr: true},
		{name: "partial", models: &Models{Faces: &fakeFaces{}}, wantErr: true},
		{name: "complete", models: &Models{Faces: &fakeFaces{}, Eyes: &fakeEyes{}, Landmarks: &fakeLandmarks{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.models.Ready()
			if (err != nil) != tt.wantErr {
				t.Errorf("Ready() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrModelUnavailable) {
				t.Errorf("Ready() error = %v, want ErrModelUnavailable", err)
			}
		})
	}
}
