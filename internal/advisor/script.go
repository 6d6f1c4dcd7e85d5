package advisor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/opifices/opit/internal/logger"
	"github.com/spf13/afero"
)

// FunctionName is the global function that a script must define.
// It is called with a single object argument having the fields of Update.
const FunctionName = "onSwarmUpdate"

var errNotLoaded = errors.New("advisor script is not loaded")

// Script is an Advisor that runs a JavaScript file.
// The file is reloaded when its modification time changes. A failed load is retried with exponential backoff,
// the previously loaded version keeps running meanwhile.
// Scripts can call log(...) and load other files with require(...) relative to their directory.
type Script struct {
	fs      afero.Fs
	path    string
	timeout time.Duration
	log     logger.Logger
	now     func() time.Time

	m           sync.Mutex
	vm          *goja.Runtime
	fn          goja.Callable
	modTime     time.Time
	backoff     *backoff.ExponentialBackOff
	nextAttempt time.Time
	statFailed  bool
}

// NewScript returns a new Script that runs the file at path.
// Each call to the script is interrupted if it runs longer than timeout.
// The file is loaded immediately; a load error is logged and retried on next Advise call.
func NewScript(fs afero.Fs, path string, timeout time.Duration) *Script {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0
	s := &Script{
		fs:      fs,
		path:    path,
		timeout: timeout,
		log:     logger.New("advisor"),
		now:     time.Now,
		backoff: bo,
	}
	s.m.Lock()
	s.reloadIfChanged()
	s.m.Unlock()
	return s
}

// Loaded returns true if a version of the script is ready to run.
func (s *Script) Loaded() bool {
	s.m.Lock()
	defer s.m.Unlock()
	return s.fn != nil
}

// Advise calls the script function with u.
func (s *Script) Advise(u Update) error {
	s.m.Lock()
	defer s.m.Unlock()
	s.reloadIfChanged()
	if s.fn == nil {
		return errNotLoaded
	}
	vm := s.vm
	return runWithTimeout(vm, s.timeout, "advisor script timed out", func() error {
		_, err := s.fn(goja.Undefined(), vm.ToValue(u))
		return err
	})
}

// runWithTimeout calls fn and interrupts vm if fn does not return in timeout.
// An interrupt never outlives the call, so vm can be reused afterwards.
func runWithTimeout(vm *goja.Runtime, timeout time.Duration, msg string, fn func() error) error {
	var m sync.Mutex
	finished := false
	vm.ClearInterrupt()
	timer := time.AfterFunc(timeout, func() {
		m.Lock()
		defer m.Unlock()
		if !finished {
			vm.Interrupt(msg)
		}
	})
	err := fn()
	m.Lock()
	finished = true
	m.Unlock()
	timer.Stop()
	vm.ClearInterrupt()
	return err
}

func (s *Script) reloadIfChanged() {
	fi, err := s.fs.Stat(s.path)
	if err != nil {
		if !s.statFailed {
			s.log.Warningln("cannot read advisor script:", err.Error())
			s.statFailed = true
		}
		return
	}
	s.statFailed = false
	if fi.ModTime().Equal(s.modTime) {
		return
	}
	now := s.now()
	if now.Before(s.nextAttempt) {
		return
	}
	if !s.modTime.IsZero() {
		s.log.Infoln("advisor script changed, reloading", s.path)
	}
	err = s.load()
	if err != nil {
		s.nextAttempt = now.Add(s.backoff.NextBackOff())
		s.log.Errorf("cannot load advisor script %s: %s (next attempt at %s)", s.path, err, s.nextAttempt.Format(time.TimeOnly))
		return
	}
	s.modTime = fi.ModTime()
	s.nextAttempt = time.Time{}
	s.backoff.Reset()
	s.log.Infoln("advisor script loaded from", s.path)
}

// load compiles and runs the script in a new runtime.
// The current runtime is replaced only if the new one is loaded successfully.
func (s *Script) load() error {
	src, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return err
	}
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	registry := require.NewRegistry(require.WithLoader(s.loadModule))
	registry.Enable(vm)
	err = vm.Set("log", s.scriptLog)
	if err != nil {
		return err
	}
	err = runWithTimeout(vm, s.timeout, "advisor script timed out while loading", func() error {
		_, err := vm.RunScript(s.path, string(src))
		return err
	})
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(vm.Get(FunctionName))
	if !ok {
		return fmt.Errorf("script does not define function %s", FunctionName)
	}
	s.vm = vm
	s.fn = fn
	return nil
}

func (s *Script) loadModule(path string) ([]byte, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(s.path), path)
	}
	b, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, require.ModuleFileDoesNotExistError
	}
	return b, err
}

func (s *Script) scriptLog(call goja.FunctionCall) goja.Value {
	args := make([]string, 0, len(call.Arguments))
	for _, a := range call.Arguments {
		args = append(args, a.String())
	}
	s.log.Infoln("script:", strings.Join(args, " "))
	return goja.Undefined()
}
