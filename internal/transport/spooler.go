package transport

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/orrn/thermalspool/internal/logger"
)

type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Spooler hands the buffer to the OS print spooler as a raw job.
type Spooler struct {
	printer string
	command CommandFunc
}

func NewSpooler(printer string) *Spooler {
	return &Spooler{printer: printer, command: exec.CommandContext}
}

func (s *Spooler) Name() string {
	return "spooler"
}

func (s *Spooler) Open(ctx context.Context) error {
	return nil
}

func (s *Spooler) Write(ctx context.Context, data []byte) error {
	cmd := s.command(ctx, "lp", "-d", s.printer, "-o", "raw")
	cmd.Stdin = bytes.NewReader(data)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: lp -d %s: %v: %s", ErrSpooler, s.printer, err, strings.TrimSpace(string(out)))
	}

	logger.Debug("Spooled raw job",
		zap.String("printer", s.printer),
		zap.Int("bytes", len(data)),
		zap.String("output", strings.TrimSpace(string(out))))
	return nil
}

func (s *Spooler) Close() error {
	return nil
}
