package camera

import (
	"image"
	"image/color"
	"math/rand"
	"testing"
)

func grayImage(value uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = value
	}
	return img
}

func noisyImage(seed int64) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	return img
}

func TestScoreQualityFlatFrame(t *testing.T) {
	// A uniform mid-gray frame has zero sharpness and zero contrast but
	// ideal brightness: score is exactly the brightness weight.
	f := NewFrame("cam1", 1, grayImage(128), nil)
	score, grade := ScoreQuality(f)

	if score < 0.29 || score > 0.31 {
		t.Errorf("Flat mid-gray score = %f, want ~0.30", score)
	}
	if grade != GradePoor {
		t.Errorf("Grade = %s, want poor", grade)
	}
	if !f.QualityKnown || f.QualityScore != score {
		t.Error("Score not stamped onto the frame")
	}
}

func TestScoreQualityBlackFrame(t *testing.T) {
	f := NewFrame("cam1", 1, grayImage(0), nil)
	score, grade := ScoreQuality(f)

	if score > 0.05 {
		t.Errorf("Black frame score = %f, want ~0", score)
	}
	if grade != GradeUnusable {
		t.Errorf("Grade = %s, want unusable", grade)
	}
}

func TestScoreQualityNoisyBeatsFlat(t *testing.T) {
	flat := NewFrame("cam1", 1, grayImage(128), nil)
	noisy := NewFrame("cam1", 2, noisyImage(1), nil)

	flatScore, _ := ScoreQuality(flat)
	noisyScore, _ := ScoreQuality(noisy)
	if noisyScore <= flatScore {
		t.Errorf("Noisy (%f) should outscore flat (%f) on sharpness and contrast", noisyScore, flatScore)
	}
}

func TestGradeThresholds(t *testing.T) {
	cases := []struct {
		score float64
		want  QualityGrade
	}{
		{0.85, GradeExcellent},
		{0.8, GradeExcellent},
		{0.79, GradeGood},
		{0.6, GradeGood},
		{0.59, GradeFair},
		{0.4, GradeFair},
		{0.39, GradePoor},
		{0.2, GradePoor},
		{0.19, GradeUnusable},
		{0, GradeUnusable},
	}
	for _, tc := range cases {
		if got := GradeFor(tc.score); got != tc.want {
			t.Errorf("GradeFor(%f) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestDetectSourceType(t *testing.T) {
	cases := []struct {
		source string
		want   SourceType
	}{
		{"0", SourceDevice},
		{"12", SourceDevice},
		{"rtsp://10.0.0.5:554/stream", SourceStream},
		{"RTMP://host/live", SourceStream},
		{"http://cam.local/mjpeg", SourceHTTP},
		{"https://cam.local/feed", SourceHTTP},
		{"file:///tmp/clip.mp4", SourceFile},
		{"/data/clips/entrance.mkv", SourceFile},
		{"relative/path.avi", SourceFile},
		{"/dev/video-capture", SourceFile},
	}
	for _, tc := range cases {
		if got := DetectSourceType(tc.source); got != tc.want {
			t.Errorf("DetectSourceType(%q) = %s, want %s", tc.source, got, tc.want)
		}
	}
}

func TestEncodeJPEGRoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 100, A: 255})
		}
	}

	data, err := EncodeJPEG(img, 85)
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Empty JPEG output")
	}
	// JPEG SOI marker.
	if data[0] != 0xFF || data[1] != 0xD8 {
		t.Errorf("Missing JPEG magic, got % X", data[:2])
	}
}
