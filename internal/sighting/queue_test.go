package sighting

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/faceguard/internal/camera"
	"github.com/technosupport/faceguard/internal/recognition"
)

type fakeUploader struct {
	mu     sync.Mutex
	calls  int
	fail   bool
	remote string
}

func (f *fakeUploader) UploadSighting(ctx context.Context, s *Sighting, crop []byte) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail {
		return "", errors.New("data service down")
	}
	return f.remote, nil
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEvaluator struct {
	mu        sync.Mutex
	sightings []*Sighting
}

func (f *fakeEvaluator) Submit(ctx context.Context, s *Sighting) {
	f.mu.Lock()
	f.sightings = append(f.sightings, s)
	f.mu.Unlock()
}

func (f *fakeEvaluator) submitted() []*Sighting {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Sighting, len(f.sightings))
	copy(out, f.sightings)
	return out
}

func testFrame() *camera.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	return camera.NewFrame("cam1", 7, img, nil)
}

func result(personIDs ...string) *recognition.Result {
	res := &recognition.Result{Success: true, FrameID: uuid.New()}
	for _, id := range personIDs {
		res.Persons = append(res.Persons, recognition.Person{
			PersonID:              id,
			RecognitionConfidence: 0.92,
			BBox:                  recognition.BBox{X1: 10, Y1: 10, X2: 100, Y2: 120},
		})
	}
	return res
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met in time")
}

func TestCaptureUploadsAndEvaluates(t *testing.T) {
	up := &fakeUploader{remote: "srv-42"}
	ev := &fakeEvaluator{}
	q := NewQueue(up, ev)
	q.Start()
	defer q.Shutdown(time.Second)

	q.CaptureAsync(result("person-1"), "cam1", testFrame())

	waitFor(t, func() bool { return len(ev.submitted()) == 1 })

	s := ev.submitted()[0]
	if s.PersonID != "person-1" || s.CameraID != "cam1" {
		t.Errorf("Wrong sighting: %+v", s)
	}
	if s.RemoteID != "srv-42" {
		t.Errorf("Expected data-service id on the sighting, got %q", s.RemoteID)
	}

	stats := q.Stats()
	if stats.Captured != 1 || stats.SuccessfulUploads != 1 || stats.Evaluated != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestCaptureOnePerPerson(t *testing.T) {
	up := &fakeUploader{}
	ev := &fakeEvaluator{}
	q := NewQueue(up, ev)
	q.Start()
	defer q.Shutdown(time.Second)

	q.CaptureAsync(result("a", "b", "c"), "cam1", testFrame())

	waitFor(t, func() bool { return len(ev.submitted()) == 3 })
	if q.Stats().Captured != 3 {
		t.Errorf("Captured = %d, want 3", q.Stats().Captured)
	}
}

func TestCaptureSkipsUnidentified(t *testing.T) {
	q := NewQueue(&fakeUploader{}, nil)

	res := result("known")
	res.Persons = append(res.Persons, recognition.Person{RecognitionConfidence: 0.3})
	q.CaptureAsync(res, "cam1", testFrame())

	if got := q.Stats().Captured; got != 1 {
		t.Errorf("Captured = %d, want 1 (empty person id skipped)", got)
	}
}

func TestCaptureIgnoresFailedResults(t *testing.T) {
	q := NewQueue(&fakeUploader{}, nil)

	q.CaptureAsync(&recognition.Result{Success: false}, "cam1", testFrame())
	q.CaptureAsync(nil, "cam1", testFrame())

	if got := q.Stats().Captured; got != 0 {
		t.Errorf("Captured = %d, want 0", got)
	}
}

func TestFullQueueDropsNew(t *testing.T) {
	// No consumer running: the channel fills to capacity and stays full.
	q := NewQueue(&fakeUploader{}, nil)

	frame := testFrame()
	for i := 0; i < QueueCapacity+25; i++ {
		q.CaptureAsync(result("p"), "cam1", frame)
	}

	stats := q.Stats()
	if stats.QueueFullDrops != 25 {
		t.Errorf("QueueFullDrops = %d, want 25", stats.QueueFullDrops)
	}
	if stats.Depth != QueueCapacity {
		t.Errorf("Depth = %d, want %d", stats.Depth, QueueCapacity)
	}
	if stats.Captured != int64(QueueCapacity+25) {
		t.Errorf("Captured = %d, want %d", stats.Captured, QueueCapacity+25)
	}
}

func TestNoEvaluationOnUploadFailure(t *testing.T) {
	up := &fakeUploader{fail: true}
	ev := &fakeEvaluator{}
	q := NewQueue(up, ev)
	q.Start()

	q.CaptureAsync(result("p"), "cam1", testFrame())

	waitFor(t, func() bool { return q.Stats().FailedUploads == 1 })
	q.Shutdown(time.Second)

	if len(ev.submitted()) != 0 {
		t.Error("Evaluation must only run after a successful upload")
	}
	if q.Stats().Evaluated != 0 {
		t.Errorf("Evaluated = %d, want 0", q.Stats().Evaluated)
	}
}

func TestShutdownDrainsQueued(t *testing.T) {
	up := &fakeUploader{}
	q := NewQueue(up, nil)

	for i := 0; i < 5; i++ {
		q.CaptureAsync(result("p"), "cam1", testFrame())
	}
	q.Start()
	q.Shutdown(2 * time.Second)

	if got := up.count(); got != 5 {
		t.Errorf("Uploads after drain = %d, want 5", got)
	}
}

func TestCropFaceClampsAndGrows(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))

	// Undersized box grows to the 50x50 minimum.
	crop := CropFace(img, recognition.BBox{X1: 100, Y1: 100, X2: 110, Y2: 110})
	if crop == nil {
		t.Fatal("Expected a crop")
	}
	b := crop.Bounds()
	if b.Dx() != 50 || b.Dy() != 50 {
		t.Errorf("Crop %dx%d, want 50x50", b.Dx(), b.Dy())
	}

	// Box partially outside clamps to the frame.
	crop = CropFace(img, recognition.BBox{X1: 150, Y1: 150, X2: 400, Y2: 400})
	if crop == nil {
		t.Fatal("Expected a clamped crop")
	}
	if !crop.Bounds().In(img.Bounds()) {
		t.Error("Clamped crop escapes the frame")
	}

	// Fully outside is degenerate.
	if CropFace(img, recognition.BBox{X1: 500, Y1: 500, X2: 600, Y2: 600}) != nil {
		t.Error("Expected nil for a box outside the frame")
	}
}
