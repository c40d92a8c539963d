package main

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"runtime/pprof"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// Profiling helpers adapted from https://github.com/zeromicro/go-zero
// @copyright original authors.

const (
	// DefaultMemProfileRate is the default memory profiling rate.
	// See also http://golang.org/pkg/runtime/#pkg-variables
	DefaultMemProfileRate = 4096

	timeFormat = "20060102_150405"
)

// started is non zero if a profile is running.
var started uint32

// Profiler represents an active profiling session.
type Profiler struct {
	dataDir string

	// closers holds cleanup functions that run after each profile
	closers []func()

	// stopped records if a call to Stop has been made
	stopped uint32
}

// StartProfiler starts a new profiling session, no-op if one is running.
// The caller should call Stop on the returned value to flush the dumps.
func StartProfiler(dataDir string) *Profiler {
	p := &Profiler{dataDir: dataDir}
	if !atomic.CompareAndSwapUint32(&started, 0, 1) {
		return p
	}

	p.startCpuProfile()
	p.startMemProfile()
	p.startBlockProfile()
	p.startMutexProfile()
	return p
}

// Stop stops the profile and flushes any unwritten data.
func (p *Profiler) Stop() {
	if !atomic.CompareAndSwapUint32(&p.stopped, 0, 1) {
		return
	}
	for _, closer := range p.closers {
		closer()
	}
	atomic.StoreUint32(&started, 0)
}

func (p *Profiler) startCpuProfile() {
	fn := p.createDumpFile("cpu")
	f, err := os.Create(fn)
	if err != nil {
		glog.Errorf("pprof: could not create cpu profile %q: %v", fn, err)
		return
	}

	glog.Infof("pprof: cpu profiling enabled, %s", fn)
	pprof.StartCPUProfile(f)
	p.closers = append(p.closers, func() {
		pprof.StopCPUProfile()
		f.Close()
		glog.Infof("pprof: cpu profiling disabled, %s", fn)
	})
}

func (p *Profiler) startMemProfile() {
	fn := p.createDumpFile("mem")
	f, err := os.Create(fn)
	if err != nil {
		glog.Errorf("pprof: could not create memory profile %q: %v", fn, err)
		return
	}

	old := runtime.MemProfileRate
	runtime.MemProfileRate = DefaultMemProfileRate
	glog.Infof("pprof: memory profiling enabled (rate %d), %s", runtime.MemProfileRate, fn)
	p.closers = append(p.closers, func() {
		pprof.Lookup("heap").WriteTo(f, 0)
		f.Close()
		runtime.MemProfileRate = old
		glog.Infof("pprof: memory profiling disabled, %s", fn)
	})
}

func (p *Profiler) startBlockProfile() {
	fn := p.createDumpFile("block")
	f, err := os.Create(fn)
	if err != nil {
		glog.Errorf("pprof: could not create block profile %q: %v", fn, err)
		return
	}

	runtime.SetBlockProfileRate(1)
	glog.Infof("pprof: block profiling enabled, %s", fn)
	p.closers = append(p.closers, func() {
		pprof.Lookup("block").WriteTo(f, 0)
		f.Close()
		runtime.SetBlockProfileRate(0)
		glog.Infof("pprof: block profiling disabled, %s", fn)
	})
}

func (p *Profiler) startMutexProfile() {
	fn := p.createDumpFile("mutex")
	f, err := os.Create(fn)
	if err != nil {
		glog.Errorf("pprof: could not create mutex profile %q: %v", fn, err)
		return
	}

	runtime.SetMutexProfileFraction(1)
	glog.Infof("pprof: mutex profiling enabled, %s", fn)
	p.closers = append(p.closers, func() {
		if mp := pprof.Lookup("mutex"); mp != nil {
			mp.WriteTo(f, 0)
		}
		f.Close()
		runtime.SetMutexProfileFraction(0)
		glog.Infof("pprof: mutex profiling disabled, %s", fn)
	})
}

// dumpGoroutines writes the goroutine profile, for stuck-session debugging.
func (p *Profiler) dumpGoroutines() {
	fn := path.Join(p.dataDir, fmt.Sprintf("goroutines-%s.dump", time.Now().Format(timeFormat)))
	glog.Infof("dumping goroutine profile to %s", fn)

	f, err := os.Create(fn)
	if err != nil {
		glog.Errorf("failed to dump goroutine profile: %v", err)
		return
	}
	defer f.Close()
	if err := pprof.Lookup("goroutine").WriteTo(f, 2); err != nil {
		glog.Errorf("failed to write goroutine profile to %s: %v", fn, err)
	}
}

func (p *Profiler) createDumpFile(kind string) string {
	return path.Join(p.dataDir, fmt.Sprintf("%s-%s.pprof", kind, time.Now().Format(timeFormat)))
}
