package event

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/life-stream-dev/bizfolio/internal/logger"
)

type Callable interface {
	Invoke(ctx context.Context) error
}

// CallableFunc adapts a plain function to Callable.
type CallableFunc func(ctx context.Context) error

func (f CallableFunc) Invoke(ctx context.Context) error {
	return f(ctx)
}

type namedCallable struct {
	name     string
	callable Callable
}

type Cleaner struct {
	cleaners       []namedCallable
	mu             sync.Mutex
	initOnce       sync.Once
	cleaning       bool
	timeout        time.Duration
	loggerShutdown Callable
	exit           func(code int)
}

var cleanerInstance = NewCleanerWithTimeout(10 * time.Second)

// NewCleaner returns the process-wide cleaner.
func NewCleaner() *Cleaner {
	return cleanerInstance
}

// NewCleanerWithTimeout builds an independent cleaner; each callable gets timeout to finish.
func NewCleanerWithTimeout(timeout time.Duration) *Cleaner {
	return &Cleaner{timeout: timeout, exit: os.Exit}
}

func (c *Cleaner) Add(name string, callable Callable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleaning {
		logger.DebugF("Cleaner is already shutting down, ignoring %s", name)
		return
	}
	c.cleaners = append(c.cleaners, namedCallable{name: name, callable: callable})
}

// Run invokes every registered callable once, newest first, and joins their errors.
// Later calls are no-ops.
func (c *Cleaner) Run() error {
	c.mu.Lock()
	if c.cleaning {
		c.mu.Unlock()
		return nil
	}
	c.cleaning = true
	cleanersCopy := make([]namedCallable, len(c.cleaners))
	copy(cleanersCopy, c.cleaners)
	c.mu.Unlock()

	logger.DebugF("Starting cleanup of %d registered functions", len(cleanersCopy))

	var errs []error
	for i := len(cleanersCopy) - 1; i >= 0; i-- {
		entry := cleanersCopy[i]
		func() {
			logger.DebugF("Invoking cleaner %s", entry.name)
			timeoutCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			if err := entry.callable.Invoke(timeoutCtx); err != nil {
				logger.ErrorF("Cleaner %s failed: %v", entry.name, err)
				errs = append(errs, fmt.Errorf("%s: %w", entry.name, err))
			}
		}()
	}

	if len(errs) > 0 {
		logger.ErrorF("%d errors occurred during cleanup", len(errs))
	} else {
		logger.Debug("All cleaners executed successfully")
	}
	return errors.Join(errs...)
}

// Init runs the cleaners when SIGINT or SIGTERM arrives, shuts the logger down last and exits.
func (c *Cleaner) Init(loggerShutdown Callable) {
	c.initOnce.Do(func() {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		c.loggerShutdown = loggerShutdown

		go func() {
			<-ctx.Done()
			stop()
			logger.Info("Received interrupt signal, shutting down")
			c.Shutdown(0)
		}()
	})
}

// Shutdown runs the cleaners, flushes the logger and exits with code.
func (c *Cleaner) Shutdown(code int) {
	if err := c.Run(); err != nil && code == 0 {
		code = 1
	}
	logger.Debug("Cleanup finished")

	if c.loggerShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := c.loggerShutdown.Invoke(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "LOGGER SHUTDOWN ERROR: %v\n", err)
		}
	}
	c.exit(code)
}
