package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/attendant/internal/config"
	"github.com/andresmejia3/attendant/internal/notify"
	"github.com/andresmejia3/attendant/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseEnrollArgs(t *testing.T) {
	tests := []struct {
		name       string
		fields     []string
		wantName   string
		wantGuests int
		wantErr    bool
	}{
		{"Name Only", []string{"Alice"}, "Alice", 1, false},
		{"Name And Guests", []string{"Alice", "3"}, "Alice", 3, false},
		{"Spaced Name", []string{"Alice", "Smith", "2"}, "Alice Smith", 2, false},
		{"Numeric Name", []string{"42"}, "42", 1, false},
		{"Empty", nil, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, guests, err := parseEnrollArgs(tt.fields)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantGuests, guests)
		})
	}
}

func TestParseImportName(t *testing.T) {
	tests := []struct {
		file       string
		wantName   string
		wantGuests int
	}{
		{"Alice.jpg", "Alice", 1},
		{"Alice_Smith_3.jpg", "Alice Smith", 3},
		{"Bob_0.png", "Bob", 0},
		{"Carol_Jones.webp", "Carol Jones", 1},
		{"7.jpg", "7", 1},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			name, guests := parseImportName(tt.file)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantGuests, guests)
		})
	}
}

func TestImportFilesSkipsNonImages(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"b.JPG", "a.png", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o755))

	files, err := importFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.JPG")}, files)
}

func TestImportTally(t *testing.T) {
	var tally importTally
	tally.add(nil)
	tally.add(&types.AlreadyRegisteredError{Name: "Alice", Similarity: 0.99})
	tally.add(types.ErrNoFaceDetected)
	tally.add(types.ErrAmbiguousFaceCount)
	tally.add(errors.New("disk on fire"))

	assert.Equal(t, importTally{enrolled: 1, duplicates: 1, noFace: 2, failed: 1}, tally)
}

func TestLoadImageFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guest.png")
	img := image.NewRGBA(image.Rect(0, 0, 6, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	frame, err := loadImageFrame(path)
	require.NoError(t, err)
	assert.Equal(t, 6, frame.Width)
	assert.Equal(t, 4, frame.Height)
	assert.Len(t, frame.Pix, 6*4*4)
	assert.Equal(t, uint8(200), frame.Image().RGBAAt(1, 1).R)

	bad := filepath.Join(t.TempDir(), "bad.jpg")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0o644))
	_, err = loadImageFrame(bad)
	assert.Error(t, err)
}

func TestConsoleSinkAnnouncesArrivals(t *testing.T) {
	var out bytes.Buffer
	sink := &consoleSink{out: &out}
	alice := types.Match{Name: "Alice", GuestCount: 3}
	unknown := types.Match{Name: types.Unknown}

	sink.Observe(types.Result{FrameSeq: 1, Matches: []types.Match{alice}})
	sink.Observe(types.Result{FrameSeq: 1, Matches: []types.Match{alice}})
	sink.Observe(types.Result{FrameSeq: 2, Matches: []types.Match{alice, unknown}})
	sink.Observe(types.Result{FrameSeq: 3})
	sink.Observe(types.Result{FrameSeq: 4, Matches: []types.Match{alice}})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Alice arrived (party of 3)")
	assert.Contains(t, lines[1], "1 unrecognized face(s)")
	assert.Contains(t, lines[2], "Alice arrived")
}

type recordingAnnouncer struct {
	arrivals []notify.Arrival
}

func (r *recordingAnnouncer) Announce(a notify.Arrival) error {
	r.arrivals = append(r.arrivals, a)
	return errors.New("broker offline")
}

func TestConsoleSinkPublishesArrivals(t *testing.T) {
	ann := &recordingAnnouncer{}
	sink := &consoleSink{out: io.Discard, announce: ann, log: zap.NewNop()}

	sink.Observe(types.Result{FrameSeq: 5, Matches: []types.Match{{Name: "Bob", GuestCount: 2}, {Name: types.Unknown}}})
	sink.Observe(types.Result{FrameSeq: 6, Matches: []types.Match{{Name: "Bob", GuestCount: 2}}})

	require.Len(t, ann.arrivals, 1)
	assert.Equal(t, "Bob", ann.arrivals[0].Name)
	assert.Equal(t, 2, ann.arrivals[0].GuestCount)
	assert.Equal(t, uint64(5), ann.arrivals[0].FrameSeq)
}

type fakeOperator struct {
	enrolled   []string
	guests     []int
	enrollErr  error
	restarts   int
	restartErr error
}

func (f *fakeOperator) EnrollFromCamera(ctx context.Context, name string, guests int) error {
	f.enrolled = append(f.enrolled, name)
	f.guests = append(f.guests, guests)
	return f.enrollErr
}

func (f *fakeOperator) Stats(ctx context.Context) (int, int, error) { return 2, 5, nil }

func (f *fakeOperator) RestartWorker(ctx context.Context) error {
	f.restarts++
	return f.restartErr
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()
	op := &fakeOperator{}
	var out bytes.Buffer

	assert.False(t, handleCommand(ctx, op, "   ", &out))
	assert.Empty(t, out.String())

	assert.False(t, handleCommand(ctx, op, "enroll Alice Smith 4", &out))
	assert.Equal(t, []string{"Alice Smith"}, op.enrolled)
	assert.Equal(t, []int{4}, op.guests)
	assert.Contains(t, out.String(), "Enrolled Alice Smith (party of 4)")

	out.Reset()
	op.enrollErr = &types.AlreadyRegisteredError{Name: "Alice Smith", Similarity: 0.97}
	handleCommand(ctx, op, "enroll Alicia", &out)
	assert.Contains(t, out.String(), "already registered as Alice Smith")

	out.Reset()
	handleCommand(ctx, op, "enroll", &out)
	assert.Contains(t, out.String(), "usage")
	assert.Len(t, op.enrolled, 2)

	out.Reset()
	handleCommand(ctx, op, "STATS", &out)
	assert.Contains(t, out.String(), "2 registered guests, 5 total")

	out.Reset()
	op.restartErr = types.ErrWorkerUnavailable
	handleCommand(ctx, op, "restart", &out)
	assert.Equal(t, 1, op.restarts)
	assert.Contains(t, out.String(), "recognition worker unavailable")

	out.Reset()
	handleCommand(ctx, op, "dance", &out)
	assert.Contains(t, out.String(), "unknown command")

	assert.True(t, handleCommand(ctx, op, "quit", &out))
	assert.True(t, handleCommand(ctx, op, "exit", &out))
}

func TestReportEnrollOutcomes(t *testing.T) {
	cases := map[error]string{
		types.ErrNoFaceDetected:     "No face detected",
		types.ErrAmbiguousFaceCount: "More than one face",
		types.ErrWorkerUnavailable:  "could not be restarted",
		types.ErrInvalidInput:       "Enrollment failed",
	}
	for err, want := range cases {
		var out bytes.Buffer
		reportEnroll(&out, "Bob", 1, err)
		assert.Contains(t, out.String(), want)
	}
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, confirmTo(&out, bufio.NewReader(strings.NewReader("YES\n")), "Drop?"))
	assert.True(t, confirmTo(&out, bufio.NewReader(strings.NewReader("y\n")), "Drop?"))
	assert.False(t, confirmTo(&out, bufio.NewReader(strings.NewReader("\n")), "Drop?"))
	assert.False(t, confirmTo(&out, bufio.NewReader(strings.NewReader("")), "Drop?"))
	assert.Contains(t, out.String(), "Drop? [y/N]: ")
}

func TestPrintFaces(t *testing.T) {
	var out bytes.Buffer
	printFaces(&out, nil)
	assert.Equal(t, "No guests registered.\n", out.String())

	out.Reset()
	printFaces(&out, []types.RegisteredFace{
		{Name: "Alice", Embedding: make(types.Embedding, 128), GuestCount: 3, CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NAME")
	assert.Equal(t, []string{"Alice", "3", "128"}, strings.Fields(lines[2])[:3])
}

func TestWorkerArgs(t *testing.T) {
	cfg := config.Default()
	cfg.ModelsDir = "/models"
	cfg.Scale = 0.25
	cfg.Tolerance = 0.45

	args := workerArgs(cfg)
	assert.Equal(t, "worker", args[0])
	assert.Equal(t, []string{
		"worker", "--models", "/models", "--scale", "0.25", "--tolerance", "0.45",
		"--log-level", "info", "--log-format", "console",
	}, args)
}
