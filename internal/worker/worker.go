// Package worker hosts the recognition loop in a child process. The parent
// talks to it over stdin and a dedicated data pipe (FD 3) so stdout and
// stderr stay free for logs.
package worker

import (
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/attendant/internal/utils"
)

// Process is the parent's end of one worker subprocess.
type Process struct {
	ID       string
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

// StartProcess launches name with args and wires the side-channel data pipe.
func StartProcess(id, name string, args ...string) (*Process, error) {
	cmd := utils.NewSafeCommand(name, args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	cmd.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %s failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &Process{
		ID:       id,
		Cmd:      cmd,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one request and returns the body of the OK response.
// Protocol: [Length][Data] in both directions; responses start with a status byte.
func (p *Process) Communicate(data []byte) ([]byte, error) {
	if err := writeMessage(p.Stdin, data); err != nil {
		return nil, err
	}
	resp, err := readMessage(p.DataPipe)
	if err != nil {
		return nil, err // This is where we catch a crashed child
	}
	return parseResponse(resp)
}

// Kill terminates the child immediately.
func (p *Process) Kill() {
	if p.Cmd != nil && p.Cmd.Process != nil {
		p.Cmd.Process.Kill()
	}
}

// Close shuts the pipes, which makes a healthy child exit, and reaps it.
func (p *Process) Close() error {
	p.Stdin.Close()
	p.DataPipe.Close()
	if p.Cmd == nil {
		return nil
	}
	return p.Cmd.Wait()
}
