package dcm2niix

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"bidskit/internal/logging"
	"bidskit/internal/services"
)

const (
	// DefaultBinary is looked up on PATH when no path is configured.
	DefaultBinary = "dcm2niix"
	stageConvert  = "convert"
	maxErrorLines = 5
)

// Request describes one converter invocation.
type Request struct {
	// Source is the DICOM series folder or PAR file.
	Source string
	// OutDir receives the images and sidecars.
	OutDir string
	// Filename is the stem passed with -f.
	Filename string
	// Args are the user arguments from the bidsmap, e.g. "-b y -z y -x y".
	Args string
}

// Converter is the behaviour the coiner needs.
type Converter interface {
	Convert(ctx context.Context, req Request) error
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onOutput func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLogger routes converter output to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client wraps dcm2niix CLI interactions.
type Client struct {
	binary  string
	timeout time.Duration
	exec    Executor
	logger  *slog.Logger
}

// New constructs a client. dir is the optional folder holding the binary
// (the bidsmap "path" option); an empty binary name means dcm2niix.
func New(dir, binary string, timeout time.Duration, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = DefaultBinary
	}
	if strings.ContainsAny(binary, `/\`) && dir != "" {
		return nil, services.Wrap(services.ErrConfiguration, stageConvert, "configure", "binary must be a bare name when a path is set", nil)
	}
	if dir = strings.TrimSpace(dir); dir != "" {
		binary = filepath.Join(dir, binary)
	}
	client := &Client{
		binary:  binary,
		timeout: timeout,
		exec:    commandExecutor{},
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	client.logger = logging.NewComponentLogger(client.logger, "dcm2niix")
	return client, nil
}

// Binary returns the resolved command name.
func (c *Client) Binary() string {
	return c.binary
}

// Arguments builds the full argument list for req.
func Arguments(req Request) []string {
	args := strings.Fields(req.Args)
	return append(args, "-f", req.Filename, "-o", req.OutDir, req.Source)
}

// Convert runs dcm2niix for one acquisition.
func (c *Client) Convert(ctx context.Context, req Request) error {
	if strings.TrimSpace(req.Source) == "" || strings.TrimSpace(req.OutDir) == "" || strings.TrimSpace(req.Filename) == "" {
		return services.Wrap(services.ErrValidation, stageConvert, "convert", "source, output folder and filename are required", nil)
	}
	if err := os.MkdirAll(req.OutDir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, stageConvert, "create output folder", req.OutDir, err)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	logger := logging.WithContext(ctx, c.logger)
	args := Arguments(req)
	logger.Info("running converter", logging.String("command", c.binary+" "+strings.Join(args, " ")))

	var (
		mu       sync.Mutex
		problems []string
	)
	started := time.Now()
	err := c.exec.Run(runCtx, c.binary, args, func(line string) {
		line = strings.TrimSpace(line)
		if line == "" {
			return
		}
		if isProblem(line) {
			mu.Lock()
			if len(problems) < maxErrorLines {
				problems = append(problems, line)
			}
			mu.Unlock()
			logger.Warn("converter reported a problem", logging.String("line", line))
			return
		}
		logger.Debug("converter output", logging.String("line", line))
	})
	if err == nil {
		logger.Debug("converter finished", logging.Duration("elapsed", time.Since(started)))
		return nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stageConvert, "dcm2niix", fmt.Sprintf("exceeded %s", c.timeout), err)
	}
	detail := req.Source
	if len(problems) > 0 {
		detail += " (" + strings.Join(problems, "; ") + ")"
	}
	return services.Wrap(services.ErrExternalTool, stageConvert, "dcm2niix", detail, err)
}

// Check runs "dcm2niix -u" and returns the first version line it prints.
func (c *Client) Check(ctx context.Context) (string, error) {
	var (
		mu      sync.Mutex
		version string
	)
	err := c.exec.Run(ctx, c.binary, []string{"-u"}, func(line string) {
		mu.Lock()
		defer mu.Unlock()
		if version == "" && strings.Contains(strings.ToLower(line), "version") {
			version = strings.TrimSpace(line)
		}
	})
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) || errors.Is(err, fs.ErrNotExist) {
			return "", services.Wrap(services.ErrNotFound, "test", "dcm2niix", c.binary, err)
		}
		return version, services.Wrap(services.ErrExternalTool, "test", "dcm2niix -u", c.binary, err)
	}
	return version, nil
}

func isProblem(line string) bool {
	lower := strings.ToLower(line)
	return strings.HasPrefix(lower, "error") || strings.HasPrefix(lower, "warning") || strings.Contains(lower, "unable to")
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onOutput != nil {
				onOutput(scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if scanErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("scan output: %w", scanErr)
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
