package stream

import (
	"errors"
	"fmt"
	"sync"

	"github.com/technosupport/faceguard/internal/camera"
)

var (
	ErrRegistryFull  = errors.New("camera registry full")
	ErrCameraExists  = errors.New("camera already registered")
	ErrCameraUnknown = errors.New("camera not registered")
)

// Registry is the process-wide camera table. The orchestrator owns camera
// lifecycles; everything else reads snapshots.
type Registry struct {
	mu      sync.RWMutex
	cameras map[string]*camera.Camera
	max     int
}

func NewRegistry(maxCameras int) *Registry {
	return &Registry{
		cameras: make(map[string]*camera.Camera),
		max:     maxCameras,
	}
}

func (r *Registry) Add(cam *camera.Camera) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cameras[cam.ID]; ok {
		return fmt.Errorf("%w: %s", ErrCameraExists, cam.ID)
	}
	if r.max > 0 && len(r.cameras) >= r.max {
		return fmt.Errorf("%w: limit %d", ErrRegistryFull, r.max)
	}
	r.cameras[cam.ID] = cam
	return nil
}

func (r *Registry) Remove(id string) (*camera.Camera, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cam, ok := r.cameras[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCameraUnknown, id)
	}
	delete(r.cameras, id)
	return cam, nil
}

func (r *Registry) Get(id string) (*camera.Camera, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cam, ok := r.cameras[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCameraUnknown, id)
	}
	return cam, nil
}

func (r *Registry) List() []*camera.Camera {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*camera.Camera, 0, len(r.cameras))
	for _, cam := range r.cameras {
		out = append(out, cam)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cameras)
}

// Snapshots returns the API view of every camera.
func (r *Registry) Snapshots() []camera.Snapshot {
	cams := r.List()
	out := make([]camera.Snapshot, 0, len(cams))
	for _, cam := range cams {
		out = append(out, cam.Snapshot())
	}
	return out
}
