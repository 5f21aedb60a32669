package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/attendant/internal/recognition"
	"github.com/andresmejia3/attendant/internal/snapshot"
	"go.uber.org/zap"
)

// DataFD is the descriptor the child writes responses to.
const DataFD = 3

// DataPipe opens the child's end of the data pipe.
func DataPipe() (*os.File, error) {
	f := os.NewFile(DataFD, "attendant-data")
	if f == nil {
		return nil, fmt.Errorf("file descriptor %d is not available", DataFD)
	}
	return f, nil
}

// Serve is the child side of the protocol. The first message is an encoded
// snapshot; every later message is a frame, answered with one result.
// Serve returns nil when in reaches EOF.
func Serve(ctx context.Context, in io.Reader, out io.Writer, embedder recognition.Embedder, cfg recognition.Config, log *zap.Logger) error {
	msg, err := readMessage(in)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := snapshot.Unmarshal(msg)
	if err != nil {
		writeMessage(out, errorResponse(err.Error()))
		return err
	}
	if err := writeMessage(out, okResponse(nil)); err != nil {
		return err
	}

	p := recognition.NewProcessor(fmt.Sprintf("pid-%d", os.Getpid()), snap, embedder, cfg)
	log.Info("worker ready", zap.Uint64("snapshot_version", snap.Version()), zap.Int("registered_faces", snap.Len()))

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		msg, err := readMessage(in)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		var resp []byte
		frame, err := DecodeFrame(msg)
		if err == nil {
			res, perr := p.Process(ctx, frame)
			if perr == nil {
				resp = okResponse(encodeResult(res))
			}
			err = perr
		}
		if err != nil {
			log.Warn("frame failed", zap.Error(err))
			resp = errorResponse(err.Error())
		}
		if err := writeMessage(out, resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}
