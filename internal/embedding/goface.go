// Package embedding provides the dlib-backed face embedder.
package embedding

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"sync"

	face "github.com/Kagami/go-face"
	"github.com/andresmejia3/attendant/internal/types"
)

// jpegQuality trades encode time against detector accuracy on the downscaled frame.
const jpegQuality = 90

// FaceRecognizer runs the dlib models shipped with go-face.
type FaceRecognizer struct {
	mu  sync.Mutex // the dlib recognizer is not safe for concurrent use
	rec *face.Recognizer
}

// NewFaceRecognizer loads the models from modelsDir
// (shape_predictor_5_face_landmarks.dat, dlib_face_recognition_resnet_model_v1.dat,
// mmod_human_face_detector.dat).
func NewFaceRecognizer(modelsDir string) (*FaceRecognizer, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("load face models from %s: %w", modelsDir, err)
	}
	return &FaceRecognizer{rec: rec}, nil
}

// Detect encodes the frame and returns one detection per face with its 128-d descriptor.
func (r *FaceRecognizer) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	if frame.IsZero() {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image(), &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", frame.Seq, err)
	}

	r.mu.Lock()
	faces, err := r.rec.Recognize(buf.Bytes())
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("recognize frame %d: %w", frame.Seq, err)
	}

	dets := make([]types.Detection, 0, len(faces))
	for _, f := range faces {
		emb := make(types.Embedding, len(f.Descriptor))
		copy(emb, f.Descriptor[:])
		dets = append(dets, types.Detection{Box: types.BoxFromRect(f.Rectangle), Embedding: emb})
	}
	return dets, nil
}

// Close releases the dlib models.
func (r *FaceRecognizer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Close()
}
